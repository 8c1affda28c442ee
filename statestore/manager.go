/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/streamplane/controlstore/ddb"
	cserrors "github.com/streamplane/controlstore/errors"
	"github.com/streamplane/controlstore/keyutil"
)

// SortKeyValue is the fixed sort discriminator for state documents.
const SortKeyValue = "state"

// Manager accumulates mutations for one document key and compiles them into
// a single conditional update on flush. Reads of a field with pending
// mutations flush the whole buffer first, so callers always observe
// read-after-write consistency for the full document.
//
// A Manager may be shared by callers within one unit of work; all mutation
// and flush paths are mutually exclusive. Create through a Factory so each
// key has exactly one instance per unit of work.
type Manager struct {
	table  string
	key    []string
	keyStr string
	client ddb.Client
	logger *slog.Logger
	ttl    time.Duration

	mu            sync.Mutex
	setUpdates    map[string]string
	removeUpdates map[string]bool
	addUpdates    map[string]string
	deleteUpdates map[string]string
	mappings      *ddb.Mappings
	item          map[string]types.AttributeValue
	fetched       bool
	closed        bool
}

func newManager(client ddb.Client, table string, logger *slog.Logger, key []string, ttl time.Duration) *Manager {
	return &Manager{
		table:         table,
		key:           key,
		keyStr:        keyutil.MergeStrings(key...),
		client:        client,
		logger:        logger,
		ttl:           ttl,
		setUpdates:    make(map[string]string),
		removeUpdates: make(map[string]bool),
		addUpdates:    make(map[string]string),
		deleteUpdates: make(map[string]string),
		mappings:      ddb.NewMappings(),
	}
}

// Key returns the document key parts.
func (m *Manager) Key() []string {
	return m.key
}

// Touch pushes out the document TTL if one is configured. Every mutation
// touches implicitly; explicit Touch keeps an otherwise-unmodified document
// alive.
func (m *Manager) Touch() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return cserrors.ErrClosed
	}
	m.touchLocked()
	return nil
}

func (m *Manager) touchLocked() {
	if m.ttl <= 0 {
		return
	}
	expiry := time.Now().Add(m.ttl).Unix()
	m.setLocked(ddb.AttrTTL, &types.AttributeValueMemberN{Value: strconv.FormatInt(expiry, 10)})
}

// GetString returns the string value of a field, or "" when absent.
func (m *Manager) GetString(ctx context.Context, field string) (string, error) {
	attr, err := m.get(ctx, field)
	if err != nil {
		return "", err
	}
	if s, ok := attr.(*types.AttributeValueMemberS); ok {
		return s.Value, nil
	}
	return "", nil
}

// SetString assigns a string field.
func (m *Manager) SetString(ctx context.Context, field, value string) error {
	return m.set(ctx, field, &types.AttributeValueMemberS{Value: value})
}

// GetBool returns the boolean value of a field, or false when absent.
func (m *Manager) GetBool(ctx context.Context, field string) (bool, error) {
	attr, err := m.get(ctx, field)
	if err != nil {
		return false, err
	}
	if b, ok := attr.(*types.AttributeValueMemberBOOL); ok {
		return b.Value, nil
	}
	return false, nil
}

// SetBool assigns a boolean field.
func (m *Manager) SetBool(ctx context.Context, field string, value bool) error {
	return m.set(ctx, field, &types.AttributeValueMemberBOOL{Value: value})
}

// GetNumber returns the numeric value of a field, or 0 when absent.
func (m *Manager) GetNumber(ctx context.Context, field string) (float64, error) {
	attr, err := m.get(ctx, field)
	if err != nil {
		return 0, err
	}
	if n, ok := attr.(*types.AttributeValueMemberN); ok {
		f, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return 0, fmt.Errorf("field %q is not numeric: %w", field, err)
		}
		return f, nil
	}
	return 0, nil
}

// SetNumber assigns a numeric field.
func (m *Manager) SetNumber(ctx context.Context, field string, value float64) error {
	return m.set(ctx, field, &types.AttributeValueMemberN{Value: formatNumber(value)})
}

// AddToNumber increments a numeric field, treating an absent field as zero.
func (m *Manager) AddToNumber(ctx context.Context, field string, increment float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return cserrors.ErrClosed
	}
	if err := m.flushForFieldLocked(ctx, field); err != nil {
		return err
	}
	m.touchLocked()
	m.setUpdates[field] = fmt.Sprintf("%s = if_not_exists(%s, %s) + %s",
		m.mappings.Field(field),
		m.mappings.Field(field),
		m.mappings.Constant("zero", &types.AttributeValueMemberN{Value: "0"}),
		m.mappings.Constant(field, &types.AttributeValueMemberN{Value: formatNumber(increment)}))
	return nil
}

// GetJSON unmarshals a JSON blob field into out. Returns false when the
// field is absent or empty.
func (m *Manager) GetJSON(ctx context.Context, field string, out any) (bool, error) {
	raw, err := m.GetString(ctx, field)
	if err != nil {
		return false, err
	}
	if raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("field %q holds malformed JSON: %w", field, err)
	}
	return true, nil
}

// SetJSON marshals value as a JSON blob into the field.
func (m *Manager) SetJSON(ctx context.Context, field string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal field %q: %w", field, err)
	}
	return m.SetString(ctx, field, string(raw))
}

// GetStringSet returns the string-set value of a field, empty when absent.
func (m *Manager) GetStringSet(ctx context.Context, field string) ([]string, error) {
	attr, err := m.get(ctx, field)
	if err != nil {
		return nil, err
	}
	if ss, ok := attr.(*types.AttributeValueMemberSS); ok {
		return append([]string(nil), ss.Value...), nil
	}
	return nil, nil
}

// SetStringSet assigns a string-set field.
func (m *Manager) SetStringSet(ctx context.Context, field string, values []string) error {
	return m.set(ctx, field, &types.AttributeValueMemberSS{Value: values})
}

// AddToStringSet adds members to a string-set field.
func (m *Manager) AddToStringSet(ctx context.Context, field string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return cserrors.ErrClosed
	}
	if err := m.flushForFieldLocked(ctx, field); err != nil {
		return err
	}
	m.touchLocked()
	m.addUpdates[field] = fmt.Sprintf("%s %s",
		m.mappings.Field(field),
		m.mappings.Constant(field, &types.AttributeValueMemberSS{Value: values}))
	return nil
}

// DeleteFromStringSet removes members from a string-set field.
func (m *Manager) DeleteFromStringSet(ctx context.Context, field string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return cserrors.ErrClosed
	}
	if err := m.flushForFieldLocked(ctx, field); err != nil {
		return err
	}
	m.touchLocked()
	m.deleteUpdates[field] = fmt.Sprintf("%s %s",
		m.mappings.Field(field),
		m.mappings.Constant(field, &types.AttributeValueMemberSS{Value: values}))
	return nil
}

// Delete removes a field from the document.
func (m *Manager) Delete(ctx context.Context, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return cserrors.ErrClosed
	}
	if err := m.flushForFieldLocked(ctx, field); err != nil {
		return err
	}
	m.touchLocked()
	m.removeUpdates[field] = true
	return nil
}

// Flush merges all pending mutations into one conditional update and
// replaces the local snapshot with the store's post-update image. A no-op
// when nothing is pending.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return cserrors.ErrClosed
	}
	_, err := m.flushLocked(ctx)
	return err
}

// Close flushes and then forbids further use.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	if _, err := m.flushLocked(ctx); err != nil {
		return err
	}
	m.closed = true
	return nil
}

func (m *Manager) set(ctx context.Context, field string, value types.AttributeValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return cserrors.ErrClosed
	}
	if err := m.flushForFieldLocked(ctx, field); err != nil {
		return err
	}
	m.touchLocked()
	m.setLocked(field, value)
	return nil
}

func (m *Manager) setLocked(field string, value types.AttributeValue) {
	m.setUpdates[field] = fmt.Sprintf("%s = %s",
		m.mappings.Field(field),
		m.mappings.Constant(field, value))
}

func (m *Manager) get(ctx context.Context, field string) (types.AttributeValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, cserrors.ErrClosed
	}
	attrs, err := m.attrValsLocked(ctx)
	if err != nil {
		return nil, err
	}
	return attrs[field], nil
}

// attrValsLocked flushes any pending mutations, otherwise serves the cached
// snapshot, fetching it on first use.
func (m *Manager) attrValsLocked(ctx context.Context) (map[string]types.AttributeValue, error) {
	flushed, err := m.flushLocked(ctx)
	if err != nil {
		return nil, err
	}
	if flushed != nil {
		return flushed, nil
	}
	return m.fetchLocked(ctx)
}

// flushForFieldLocked flushes the whole buffer when the given field already
// has a pending mutation, then invalidates the snapshot.
func (m *Manager) flushForFieldLocked(ctx context.Context, field string) error {
	if m.setUpdates[field] != "" || m.removeUpdates[field] ||
		m.addUpdates[field] != "" || m.deleteUpdates[field] != "" {
		if _, err := m.flushLocked(ctx); err != nil {
			return err
		}
	}
	m.item = nil
	m.fetched = false
	return nil
}

func (m *Manager) hasPending() bool {
	return len(m.setUpdates) > 0 || len(m.removeUpdates) > 0 ||
		len(m.addUpdates) > 0 || len(m.deleteUpdates) > 0
}

func (m *Manager) flushLocked(ctx context.Context) (map[string]types.AttributeValue, error) {
	if !m.hasPending() {
		return nil, nil
	}

	var expr string
	if len(m.setUpdates) > 0 {
		expr += " SET " + joinValues(m.setUpdates)
	}
	if len(m.removeUpdates) > 0 {
		removes := make(map[string]string, len(m.removeUpdates))
		for field := range m.removeUpdates {
			removes[field] = m.mappings.Field(field)
		}
		expr += " REMOVE " + joinValues(removes)
	}
	if len(m.addUpdates) > 0 {
		expr += " ADD " + joinValues(m.addUpdates)
	}
	if len(m.deleteUpdates) > 0 {
		expr += " DELETE " + joinValues(m.deleteUpdates)
	}
	expr = expr[1:]

	m.logger.DebugContext(ctx, "flushing state update",
		"table", m.table, "key", m.keyStr, "expression", expr)

	out, err := m.client.UpdateItem(ctx, &sdk.UpdateItemInput{
		TableName:                 aws.String(m.table),
		Key:                       ddb.Key(m.keyStr, SortKeyValue),
		UpdateExpression:          &expr,
		ExpressionAttributeNames:  m.mappings.Names(),
		ExpressionAttributeValues: m.mappings.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, fmt.Errorf("state flush for key %q failed: %w", m.keyStr, err)
	}

	m.setUpdates = make(map[string]string)
	m.removeUpdates = make(map[string]bool)
	m.addUpdates = make(map[string]string)
	m.deleteUpdates = make(map[string]string)
	m.mappings = ddb.NewMappings()
	m.item = out.Attributes
	m.fetched = true
	return m.item, nil
}

func (m *Manager) fetchLocked(ctx context.Context) (map[string]types.AttributeValue, error) {
	if m.fetched {
		return m.item, nil
	}
	m.logger.DebugContext(ctx, "fetching state item", "table", m.table, "key", m.keyStr)
	out, err := m.client.GetItem(ctx, &sdk.GetItemInput{
		TableName: aws.String(m.table),
		Key:       ddb.Key(m.keyStr, SortKeyValue),
	})
	if err != nil {
		return nil, fmt.Errorf("state fetch for key %q failed: %w", m.keyStr, err)
	}
	m.item = out.Item
	m.fetched = true
	return m.item, nil
}

func joinValues(clauses map[string]string) string {
	out := ""
	first := true
	for _, clause := range clauses {
		if !first {
			out += ", "
		}
		out += clause
		first = false
	}
	return out
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
