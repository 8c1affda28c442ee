/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

// Package ddbtest provides an in-memory fake of the controlstore DynamoDB
// client for unit tests. It evaluates the subset of condition and update
// expressions that controlstore emits; it is not a general DynamoDB emulator.
package ddbtest

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Fake is an in-memory single-table DynamoDB stand-in.
type Fake struct {
	mu    sync.Mutex
	table string
	items map[string]map[string]types.AttributeValue

	// Call counters for asserting store/cache interaction.
	GetCalls    int
	PutCalls    int
	UpdateCalls int
	DeleteCalls int
	QueryCalls  int
	ScanCalls   int
}

// New creates a Fake backing the given table name.
func New(table string) *Fake {
	return &Fake{
		table: table,
		items: make(map[string]map[string]types.AttributeValue),
	}
}

func itemKey(item map[string]types.AttributeValue) (string, error) {
	pk, okPK := item["pk"].(*types.AttributeValueMemberS)
	sk, okSK := item["sk"].(*types.AttributeValueMemberS)
	if !okPK || !okSK {
		return "", fmt.Errorf("item missing pk or sk string attributes")
	}
	return pk.Value + "\x00" + sk.Value, nil
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

// Item returns a copy of the stored item for the given keys, or nil.
func (f *Fake) Item(pk, sk string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyItem(f.items[pk+"\x00"+sk])
}

// Len returns the number of stored items.
func (f *Fake) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func (f *Fake) checkTable(name *string) error {
	if name == nil || *name != f.table {
		return fmt.Errorf("unknown table %v", name)
	}
	return nil
}

func (f *Fake) GetItem(ctx context.Context, params *sdk.GetItemInput, optFns ...func(*sdk.Options)) (*sdk.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetCalls++
	if err := f.checkTable(params.TableName); err != nil {
		return nil, err
	}
	key, err := itemKey(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := f.items[key]
	if !ok {
		return &sdk.GetItemOutput{}, nil
	}
	return &sdk.GetItemOutput{Item: copyItem(item)}, nil
}

func (f *Fake) PutItem(ctx context.Context, params *sdk.PutItemInput, optFns ...func(*sdk.Options)) (*sdk.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PutCalls++
	if err := f.checkTable(params.TableName); err != nil {
		return nil, err
	}
	key, err := itemKey(params.Item)
	if err != nil {
		return nil, err
	}
	if params.ConditionExpression != nil {
		existing := f.items[key]
		ok, err := evalCondition(*params.ConditionExpression,
			params.ExpressionAttributeNames, params.ExpressionAttributeValues, existing)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	f.items[key] = copyItem(params.Item)
	return &sdk.PutItemOutput{}, nil
}

func (f *Fake) DeleteItem(ctx context.Context, params *sdk.DeleteItemInput, optFns ...func(*sdk.Options)) (*sdk.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeleteCalls++
	if err := f.checkTable(params.TableName); err != nil {
		return nil, err
	}
	key, err := itemKey(params.Key)
	if err != nil {
		return nil, err
	}
	if params.ConditionExpression != nil {
		existing := f.items[key]
		ok, err := evalCondition(*params.ConditionExpression,
			params.ExpressionAttributeNames, params.ExpressionAttributeValues, existing)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	delete(f.items, key)
	return &sdk.DeleteItemOutput{}, nil
}

func (f *Fake) UpdateItem(ctx context.Context, params *sdk.UpdateItemInput, optFns ...func(*sdk.Options)) (*sdk.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UpdateCalls++
	if err := f.checkTable(params.TableName); err != nil {
		return nil, err
	}
	key, err := itemKey(params.Key)
	if err != nil {
		return nil, err
	}
	existing := f.items[key]
	if params.ConditionExpression != nil {
		ok, err := evalCondition(*params.ConditionExpression,
			params.ExpressionAttributeNames, params.ExpressionAttributeValues, existing)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}

	// UpdateItem upserts: a missing item starts as just its key attributes.
	item := copyItem(existing)
	if item == nil {
		item = copyItem(params.Key)
	}
	if params.UpdateExpression == nil {
		return nil, fmt.Errorf("missing update expression")
	}
	if err := applyUpdate(*params.UpdateExpression,
		params.ExpressionAttributeNames, params.ExpressionAttributeValues, item); err != nil {
		return nil, err
	}
	f.items[key] = item
	return &sdk.UpdateItemOutput{Attributes: copyItem(item)}, nil
}

func (f *Fake) Query(ctx context.Context, params *sdk.QueryInput, optFns ...func(*sdk.Options)) (*sdk.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.QueryCalls++
	if err := f.checkTable(params.TableName); err != nil {
		return nil, err
	}
	if params.KeyConditionExpression == nil {
		return nil, fmt.Errorf("missing key condition expression")
	}
	matches := make([]map[string]types.AttributeValue, 0)
	for _, key := range f.sortedKeys() {
		item := f.items[key]
		ok, err := evalCondition(*params.KeyConditionExpression,
			params.ExpressionAttributeNames, params.ExpressionAttributeValues, item)
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, item)
		}
	}
	return paginate(matches, params.FilterExpression,
		params.ExpressionAttributeNames, params.ExpressionAttributeValues,
		params.ExclusiveStartKey, params.Limit, func(items []map[string]types.AttributeValue, lastKey map[string]types.AttributeValue) *sdk.QueryOutput {
			return &sdk.QueryOutput{Items: items, LastEvaluatedKey: lastKey}
		})
}

func (f *Fake) Scan(ctx context.Context, params *sdk.ScanInput, optFns ...func(*sdk.Options)) (*sdk.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ScanCalls++
	if err := f.checkTable(params.TableName); err != nil {
		return nil, err
	}
	matches := make([]map[string]types.AttributeValue, 0, len(f.items))
	for _, key := range f.sortedKeys() {
		matches = append(matches, f.items[key])
	}
	out, err := paginate(matches, params.FilterExpression,
		params.ExpressionAttributeNames, params.ExpressionAttributeValues,
		params.ExclusiveStartKey, params.Limit, func(items []map[string]types.AttributeValue, lastKey map[string]types.AttributeValue) *sdk.QueryOutput {
			return &sdk.QueryOutput{Items: items, LastEvaluatedKey: lastKey}
		})
	if err != nil {
		return nil, err
	}
	return &sdk.ScanOutput{Items: out.Items, LastEvaluatedKey: out.LastEvaluatedKey}, nil
}

func (f *Fake) sortedKeys() []string {
	keys := make([]string, 0, len(f.items))
	for k := range f.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func paginate(
	matches []map[string]types.AttributeValue,
	filter *string,
	names map[string]string,
	values map[string]types.AttributeValue,
	startKey map[string]types.AttributeValue,
	limit *int32,
	build func([]map[string]types.AttributeValue, map[string]types.AttributeValue) *sdk.QueryOutput,
) (*sdk.QueryOutput, error) {
	start := 0
	if len(startKey) > 0 {
		wanted, err := itemKey(startKey)
		if err != nil {
			return nil, err
		}
		for i, item := range matches {
			key, err := itemKey(item)
			if err != nil {
				return nil, err
			}
			if key == wanted {
				start = i + 1
				break
			}
		}
	}
	matches = matches[start:]

	var lastKey map[string]types.AttributeValue
	if limit != nil && int(*limit) < len(matches) {
		matches = matches[:*limit]
		last := matches[len(matches)-1]
		lastKey = map[string]types.AttributeValue{
			"pk": last["pk"],
			"sk": last["sk"],
		}
	}

	// Filter applies after the page is cut, as in DynamoDB.
	page := make([]map[string]types.AttributeValue, 0, len(matches))
	for _, item := range matches {
		if filter != nil {
			ok, err := evalCondition(*filter, names, values, item)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		page = append(page, copyItem(item))
	}
	return build(page, lastKey), nil
}

// --- expression evaluation ---

func resolveName(name string, names map[string]string) string {
	if strings.HasPrefix(name, "#") {
		if resolved, ok := names[name]; ok {
			return resolved
		}
	}
	return name
}

var (
	existsRe     = regexp.MustCompile(`^attribute_exists\(([^)]+)\)$`)
	notExistsRe  = regexp.MustCompile(`^attribute_not_exists\(([^)]+)\)$`)
	beginsWithRe = regexp.MustCompile(`^begins_with\(([^,]+), ?([^)]+)\)$`)
	compareRe    = regexp.MustCompile(`^(\S+) (=|<>|<|<=|>|>=) (\S+)$`)
)

// evalCondition evaluates a condition expression against an item (nil means
// the item does not exist). OR binds looser than AND; parentheses are not
// supported because no emitted expression uses them.
func evalCondition(expr string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	for _, group := range strings.Split(expr, " OR ") {
		all := true
		for _, clause := range strings.Split(group, " AND ") {
			ok, err := evalClause(strings.TrimSpace(clause), names, values, item)
			if err != nil {
				return false, err
			}
			if !ok {
				all = false
				break
			}
		}
		if all {
			return true, nil
		}
	}
	return false, nil
}

func evalClause(clause string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	if m := existsRe.FindStringSubmatch(clause); m != nil {
		_, ok := item[resolveName(m[1], names)]
		return ok, nil
	}
	if m := notExistsRe.FindStringSubmatch(clause); m != nil {
		_, ok := item[resolveName(m[1], names)]
		return !ok, nil
	}
	if m := beginsWithRe.FindStringSubmatch(clause); m != nil {
		attr, ok := item[resolveName(m[1], names)].(*types.AttributeValueMemberS)
		if !ok {
			return false, nil
		}
		want, ok := values[m[2]].(*types.AttributeValueMemberS)
		if !ok {
			return false, fmt.Errorf("begins_with constant %q not found", m[2])
		}
		return strings.HasPrefix(attr.Value, want.Value), nil
	}
	if m := compareRe.FindStringSubmatch(clause); m != nil {
		attr, present := item[resolveName(m[1], names)]
		want, ok := values[m[3]]
		if !ok {
			return false, fmt.Errorf("constant %q not found in clause %q", m[3], clause)
		}
		if !present {
			return false, nil
		}
		switch m[2] {
		case "=":
			return attrEqual(attr, want), nil
		case "<>":
			return !attrEqual(attr, want), nil
		default:
			lhs, lok := numericValue(attr)
			rhs, rok := numericValue(want)
			if !lok || !rok {
				return false, fmt.Errorf("non-numeric comparison in clause %q", clause)
			}
			switch m[2] {
			case "<":
				return lhs < rhs, nil
			case "<=":
				return lhs <= rhs, nil
			case ">":
				return lhs > rhs, nil
			case ">=":
				return lhs >= rhs, nil
			}
		}
	}
	return false, fmt.Errorf("unsupported condition clause %q", clause)
}

func attrEqual(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		if _, ok := b.(*types.AttributeValueMemberN); !ok {
			return false
		}
		an, aok := numericValue(a)
		bn, bok := numericValue(b)
		return aok && bok && an == bn
	case *types.AttributeValueMemberSS:
		bv, ok := b.(*types.AttributeValueMemberSS)
		if !ok || len(av.Value) != len(bv.Value) {
			return false
		}
		set := make(map[string]bool, len(av.Value))
		for _, s := range av.Value {
			set[s] = true
		}
		for _, s := range bv.Value {
			if !set[s] {
				return false
			}
		}
		return true
	}
	return false
}

func numericValue(v types.AttributeValue) (float64, bool) {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(n.Value, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// --- update expression evaluation ---

var sectionRe = regexp.MustCompile(`\b(SET|REMOVE|ADD|DELETE)\b`)

var ifNotExistsRe = regexp.MustCompile(`^(\S+) = if_not_exists\((\S+), (\S+)\) \+ (\S+)$`)

// splitClauses splits a section body on ", " separators, ignoring commas
// nested inside parentheses such as if_not_exists(#f, :zero).
func splitClauses(body string) []string {
	var clauses []string
	depth, start := 0, 0
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 && i+1 < len(body) && body[i+1] == ' ' {
				clauses = append(clauses, body[start:i])
				start = i + 2
				i++
			}
		}
	}
	clauses = append(clauses, body[start:])
	return clauses
}

func applyUpdate(expr string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) error {
	locs := sectionRe.FindAllStringIndex(expr, -1)
	if len(locs) == 0 {
		return fmt.Errorf("no update sections in %q", expr)
	}
	for i, loc := range locs {
		section := expr[loc[0]:loc[1]]
		end := len(expr)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(expr[loc[1]:end])
		for _, clause := range splitClauses(body) {
			clause = strings.TrimSpace(clause)
			var err error
			switch section {
			case "SET":
				err = applySet(clause, names, values, item)
			case "REMOVE":
				delete(item, resolveName(clause, names))
			case "ADD":
				err = applyAdd(clause, names, values, item)
			case "DELETE":
				err = applyDeleteFromSet(clause, names, values, item)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func applySet(clause string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) error {
	if m := ifNotExistsRe.FindStringSubmatch(clause); m != nil {
		field := resolveName(m[1], names)
		base := 0.0
		if existing, ok := item[field]; ok {
			if n, nok := numericValue(existing); nok {
				base = n
			}
		} else if def, ok := values[m[3]]; ok {
			if n, nok := numericValue(def); nok {
				base = n
			}
		}
		inc, ok := numericValue(values[m[4]])
		if !ok {
			return fmt.Errorf("non-numeric increment in %q", clause)
		}
		item[field] = &types.AttributeValueMemberN{Value: formatNumber(base + inc)}
		return nil
	}
	parts := strings.SplitN(clause, " = ", 2)
	if len(parts) != 2 {
		return fmt.Errorf("unsupported SET clause %q", clause)
	}
	value, ok := values[strings.TrimSpace(parts[1])]
	if !ok {
		return fmt.Errorf("constant %q not found in SET clause", parts[1])
	}
	item[resolveName(strings.TrimSpace(parts[0]), names)] = value
	return nil
}

func applyAdd(clause string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) error {
	parts := strings.Fields(clause)
	if len(parts) != 2 {
		return fmt.Errorf("unsupported ADD clause %q", clause)
	}
	field := resolveName(parts[0], names)
	value, ok := values[parts[1]]
	if !ok {
		return fmt.Errorf("constant %q not found in ADD clause", parts[1])
	}
	switch v := value.(type) {
	case *types.AttributeValueMemberN:
		base := 0.0
		if existing, ok := item[field]; ok {
			if n, nok := numericValue(existing); nok {
				base = n
			}
		}
		inc, _ := numericValue(v)
		item[field] = &types.AttributeValueMemberN{Value: formatNumber(base + inc)}
	case *types.AttributeValueMemberSS:
		set := make(map[string]bool)
		if existing, ok := item[field].(*types.AttributeValueMemberSS); ok {
			for _, s := range existing.Value {
				set[s] = true
			}
		}
		for _, s := range v.Value {
			set[s] = true
		}
		item[field] = &types.AttributeValueMemberSS{Value: sortedSet(set)}
	default:
		return fmt.Errorf("unsupported ADD value type in %q", clause)
	}
	return nil
}

func applyDeleteFromSet(clause string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) error {
	parts := strings.Fields(clause)
	if len(parts) != 2 {
		return fmt.Errorf("unsupported DELETE clause %q", clause)
	}
	field := resolveName(parts[0], names)
	remove, ok := values[parts[1]].(*types.AttributeValueMemberSS)
	if !ok {
		return fmt.Errorf("DELETE constant %q is not a string set", parts[1])
	}
	existing, ok := item[field].(*types.AttributeValueMemberSS)
	if !ok {
		return nil
	}
	set := make(map[string]bool, len(existing.Value))
	for _, s := range existing.Value {
		set[s] = true
	}
	for _, s := range remove.Value {
		delete(set, s)
	}
	if len(set) == 0 {
		// DynamoDB removes empty sets entirely.
		delete(item, field)
		return nil
	}
	item[field] = &types.AttributeValueMemberSS{Value: sortedSet(set)}
	return nil
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
