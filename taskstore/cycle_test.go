/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

package taskstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindCycleEmpty(t *testing.T) {
	assert.Nil(t, FindCycle(nil))
}

func TestFindCycleSelfLoop(t *testing.T) {
	cycle := FindCycle([]Node{
		{Name: "taskX", Inputs: []string{"q1"}, Outputs: []string{"q1"}},
	})
	require.Len(t, cycle, 1)
	assert.Equal(t, "taskX", cycle[0].Name)
}

func TestFindCycleTwoTasks(t *testing.T) {
	cycle := FindCycle([]Node{
		{Name: "task1", Inputs: []string{"q1"}, Outputs: []string{"q2"}},
		{Name: "task2", Inputs: []string{"q2"}, Outputs: []string{"q1"}},
	})
	require.Len(t, cycle, 2)
	names := []string{cycle[0].Name, cycle[1].Name}
	assert.ElementsMatch(t, []string{"task1", "task2"}, names)
}

func TestFindCycleNoneInChain(t *testing.T) {
	assert.Nil(t, FindCycle([]Node{
		{Name: "task1", Inputs: []string{"q1"}, Outputs: []string{"q2"}},
		{Name: "task2", Inputs: []string{"q2"}, Outputs: []string{"q3"}},
		{Name: "task3", Inputs: []string{"q3"}, Outputs: []string{"q4"}},
	}))
}

func TestFindCycleLongerLoop(t *testing.T) {
	cycle := FindCycle([]Node{
		{Name: "task1", Inputs: []string{"q1"}, Outputs: []string{"q2"}},
		{Name: "task2", Inputs: []string{"q2"}, Outputs: []string{"q3"}},
		{Name: "task3", Inputs: []string{"q3"}, Outputs: []string{"q1"}},
		{Name: "aside", Inputs: []string{"q9"}, Outputs: []string{"q10"}},
	})
	require.Len(t, cycle, 3)
}

func TestFindCycleDisjointQueuesShareNames(t *testing.T) {
	// Fan-out from one queue is not a cycle.
	assert.Nil(t, FindCycle([]Node{
		{Name: "task1", Inputs: []string{"q1"}, Outputs: []string{"q2"}},
		{Name: "task2", Inputs: []string{"q1"}, Outputs: []string{"q3"}},
	}))
}
