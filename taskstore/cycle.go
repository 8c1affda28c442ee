/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

package taskstore

import "sort"

// Node is a task vertex in an organization's routing graph. Edges run from a
// task to every task consuming one of its output queues.
type Node struct {
	Name    string
	Inputs  []string
	Outputs []string
}

// FindCycle reports a cycle in the routing graph formed by the given nodes,
// or nil when the graph is acyclic. A node whose inputs and outputs overlap
// is a self-loop and is reported on its own.
func FindCycle(nodes []Node) []Node {
	for _, node := range nodes {
		if intersects(node.Inputs, node.Outputs) {
			return []Node{node}
		}
	}

	// Adjacency by node index: an edge exists when some output queue of one
	// node is an input queue of another.
	adjacency := make([][]int, len(nodes))
	for from := range nodes {
		for to := range nodes {
			if from != to && intersects(nodes[from].Outputs, nodes[to].Inputs) {
				adjacency[from] = append(adjacency[from], to)
			}
		}
	}

	const (
		unvisited = iota
		inPath
		done
	)
	state := make([]int, len(nodes))
	var path []int

	var visit func(int) []Node
	visit = func(i int) []Node {
		if state[i] == inPath {
			// Cut the cycle out of the current path.
			for start, j := range path {
				if j == i {
					cycle := make([]Node, 0, len(path)-start)
					for _, k := range path[start:] {
						cycle = append(cycle, nodes[k])
					}
					return cycle
				}
			}
		}
		if state[i] != unvisited {
			return nil
		}
		state[i] = inPath
		path = append(path, i)
		for _, next := range adjacency[i] {
			if cycle := visit(next); cycle != nil {
				return cycle
			}
		}
		path = path[:len(path)-1]
		state[i] = done
		return nil
	}

	// Deterministic traversal order keeps reported cycles stable.
	order := make([]int, len(nodes))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return nodes[order[a]].Name < nodes[order[b]].Name })

	for _, i := range order {
		if state[i] == unvisited {
			if cycle := visit(i); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
