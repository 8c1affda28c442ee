/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

package statestore

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamplane/controlstore/ddb/ddbtest"
	cserrors "github.com/streamplane/controlstore/errors"
)

func newTestFactory(t *testing.T) (*Factory, *ddbtest.Fake) {
	t.Helper()
	fake := ddbtest.New("control-test")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewFactory(fake, "control-test", logger), fake
}

func TestManagerSetAndGetString(t *testing.T) {
	ctx := context.Background()
	factory, fake := newTestFactory(t)
	m := factory.Manager([]string{"session", "abc"}, 0)

	require.NoError(t, m.SetString(ctx, "owner", "alice"))
	assert.Equal(t, 0, fake.UpdateCalls, "set alone must not write")

	got, err := m.GetString(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, "alice", got)
	assert.Equal(t, 1, fake.UpdateCalls, "read of a dirty document flushes once")
	assert.Equal(t, 0, fake.GetCalls, "flush image serves the read")
}

func TestManagerBuffersMutationsIntoOneUpdate(t *testing.T) {
	ctx := context.Background()
	factory, fake := newTestFactory(t)
	m := factory.Manager([]string{"task", "org1", "t1"}, 0)

	require.NoError(t, m.SetString(ctx, "name", "ingest"))
	require.NoError(t, m.SetBool(ctx, "enabled", true))
	require.NoError(t, m.SetNumber(ctx, "retries", 3))
	require.NoError(t, m.Flush(ctx))
	assert.Equal(t, 1, fake.UpdateCalls)

	name, err := m.GetString(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "ingest", name)
	enabled, err := m.GetBool(ctx, "enabled")
	require.NoError(t, err)
	assert.True(t, enabled)
	retries, err := m.GetNumber(ctx, "retries")
	require.NoError(t, err)
	assert.Equal(t, float64(3), retries)
	assert.Equal(t, 1, fake.UpdateCalls, "reads after flush hit the snapshot")
}

func TestManagerFlushIsNoopWhenClean(t *testing.T) {
	ctx := context.Background()
	factory, fake := newTestFactory(t)
	m := factory.Manager([]string{"a"}, 0)

	require.NoError(t, m.Flush(ctx))
	require.NoError(t, m.Flush(ctx))
	assert.Equal(t, 0, fake.UpdateCalls)
}

func TestManagerAddToNumberFromAbsent(t *testing.T) {
	ctx := context.Background()
	factory, _ := newTestFactory(t)
	m := factory.Manager([]string{"counter"}, 0)

	require.NoError(t, m.AddToNumber(ctx, "hits", 2))
	got, err := m.GetNumber(ctx, "hits")
	require.NoError(t, err)
	assert.Equal(t, float64(2), got)

	require.NoError(t, m.AddToNumber(ctx, "hits", 3))
	got, err = m.GetNumber(ctx, "hits")
	require.NoError(t, err)
	assert.Equal(t, float64(5), got)
}

func TestManagerMutateDirtyFieldFlushesFirst(t *testing.T) {
	ctx := context.Background()
	factory, fake := newTestFactory(t)
	m := factory.Manager([]string{"counter"}, 0)

	require.NoError(t, m.SetNumber(ctx, "hits", 10))
	require.NoError(t, m.AddToNumber(ctx, "hits", 1))
	assert.Equal(t, 1, fake.UpdateCalls, "second mutation of the same field flushes the first")

	got, err := m.GetNumber(ctx, "hits")
	require.NoError(t, err)
	assert.Equal(t, float64(11), got)
}

func TestManagerStringSet(t *testing.T) {
	ctx := context.Background()
	factory, _ := newTestFactory(t)
	m := factory.Manager([]string{"topics", "org1"}, 0)

	require.NoError(t, m.AddToStringSet(ctx, "streams", "clicks", "views"))
	got, err := m.GetStringSet(ctx, "streams")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"clicks", "views"}, got)

	require.NoError(t, m.AddToStringSet(ctx, "streams", "errors"))
	require.NoError(t, m.DeleteFromStringSet(ctx, "streams", "views"))
	got, err = m.GetStringSet(ctx, "streams")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"clicks", "errors"}, got)
}

func TestManagerDeleteField(t *testing.T) {
	ctx := context.Background()
	factory, _ := newTestFactory(t)
	m := factory.Manager([]string{"doc"}, 0)

	require.NoError(t, m.SetString(ctx, "note", "temp"))
	require.NoError(t, m.Flush(ctx))
	require.NoError(t, m.Delete(ctx, "note"))

	got, err := m.GetString(ctx, "note")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestManagerJSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	factory, _ := newTestFactory(t)
	m := factory.Manager([]string{"doc"}, 0)

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	require.NoError(t, m.SetJSON(ctx, "payload", payload{Name: "x", Count: 7}))

	var out payload
	ok, err := m.GetJSON(ctx, "payload", &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload{Name: "x", Count: 7}, out)

	ok, err = m.GetJSON(ctx, "absent", &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManagerTouchSetsTTL(t *testing.T) {
	ctx := context.Background()
	factory, fake := newTestFactory(t)
	m := factory.Manager([]string{"session", "s1"}, time.Hour)

	require.NoError(t, m.SetString(ctx, "owner", "bob"))
	require.NoError(t, m.Flush(ctx))

	item := fake.Item(m.keyStr, SortKeyValue)
	require.NotNil(t, item)
	assert.Contains(t, item, "ttlInEpochSec")
}

func TestManagerClosedRejectsUse(t *testing.T) {
	ctx := context.Background()
	factory, fake := newTestFactory(t)
	m := factory.Manager([]string{"doc"}, 0)

	require.NoError(t, m.SetString(ctx, "a", "1"))
	require.NoError(t, m.Close(ctx))
	assert.Equal(t, 1, fake.UpdateCalls, "close flushes pending mutations")

	assert.ErrorIs(t, m.SetString(ctx, "a", "2"), cserrors.ErrClosed)
	_, err := m.GetString(ctx, "a")
	assert.ErrorIs(t, err, cserrors.ErrClosed)
	require.NoError(t, m.Close(ctx), "close is idempotent")
}

func TestFactoryDeduplicatesByKey(t *testing.T) {
	factory, _ := newTestFactory(t)

	m1 := factory.Manager([]string{"task", "org1", "t1"}, 0)
	m2 := factory.Manager([]string{"task", "org1", "t1"}, time.Minute)
	m3 := factory.Manager([]string{"task", "org1", "t2"}, 0)

	assert.Same(t, m1, m2)
	assert.NotSame(t, m1, m3)
}

func TestFactoryCloseAllThenFresh(t *testing.T) {
	ctx := context.Background()
	factory, fake := newTestFactory(t)

	m := factory.Manager([]string{"doc"}, 0)
	require.NoError(t, m.SetString(ctx, "a", "1"))
	require.NoError(t, factory.CloseAll(ctx))
	assert.Equal(t, 1, fake.UpdateCalls)
	assert.ErrorIs(t, m.Flush(ctx), cserrors.ErrClosed)

	fresh := factory.Manager([]string{"doc"}, 0)
	assert.NotSame(t, m, fresh)
	got, err := fresh.GetString(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", got, "fresh instance reads the flushed value")
}
