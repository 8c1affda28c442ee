/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

package topicstore

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

func newTestStore(t *testing.T) (*Store, *ddbtest.Fake) {
	t.Helper()
	fake := ddbtest.New("control-test")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := New(fake, "control-test", logger, time.Minute)
	t.Cleanup(store.Close)
	return store, fake
}

func version(v int64) *int64 {
	return &v
}

func TestGetTopicsDefaultsWhenAbsent(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	topics, err := store.GetTopics(ctx, "org1", false)
	require.NoError(t, err)
	require.NotNil(t, topics)
	assert.Equal(t, "org1", topics.OrganizationName)
	assert.EqualValues(t, InitialVersion, topics.Version)
	assert.True(t, topics.AllowUndefined())
}

func TestUpdateTopicIncrementsVersion(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	topics, err := store.UpdateTopic(ctx, "org1", "clicks",
		Topic{Streams: []Stream{{Name: "clicks-stream"}}}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, topics.Version)

	topics, err = store.UpdateTopic(ctx, "org1", "views",
		Topic{Batch: &Batch{Retention: BatchRetentionWeek}}, version(topics.Version))
	require.NoError(t, err)
	assert.EqualValues(t, 2, topics.Version)

	got, err := store.GetTopics(ctx, "org1", false)
	require.NoError(t, err)
	assert.Len(t, got.Topics, 2)
	assert.Equal(t, BatchRetentionWeek, got.Topics["views"].Batch.Retention)
}

func TestUpdateTopicStaleVersionRejected(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.UpdateTopic(ctx, "org1", "clicks",
		Topic{Streams: []Stream{{Name: "v1"}}}, nil)
	require.NoError(t, err)
	_, err = store.UpdateTopic(ctx, "org1", "clicks",
		Topic{Streams: []Stream{{Name: "v2"}}}, version(1))
	require.NoError(t, err)

	// Version 1 is stale now.
	_, err = store.UpdateTopic(ctx, "org1", "clicks",
		Topic{Streams: []Stream{{Name: "v3"}}}, version(1))
	assert.True(t, cserrors.IsConditionFailed(err))

	got, err := store.GetTopics(ctx, "org1", false)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.Version, "stored version unchanged by the rejected write")
	assert.Equal(t, "v2", got.Topics["clicks"].Streams[0].Name)
}

func TestUpdateTopicStaleVersionOnCreate(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.UpdateTopic(ctx, "org1", "clicks", Topic{}, version(7))
	assert.True(t, cserrors.IsConditionFailed(err))
}

func TestGetTopicResolution(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.UpdateTopic(ctx, "org1", "clicks",
		Topic{Streams: []Stream{{Name: "clicks-stream"}}}, nil)
	require.NoError(t, err)

	// Explicit definition wins.
	topic, err := store.GetTopic(ctx, "org1", "clicks", true)
	require.NoError(t, err)
	require.NotNil(t, topic)
	assert.Equal(t, "clicks-stream", topic.Streams[0].Name)

	// Undefined without fallback is absent.
	topic, err = store.GetTopic(ctx, "org1", "unknown", false)
	require.NoError(t, err)
	assert.Nil(t, topic)

	// Undefined with fallback gets the unrestricted sentinel while
	// undefined topics are allowed.
	topic, err = store.GetTopic(ctx, "org1", "unknown", true)
	require.NoError(t, err)
	require.NotNil(t, topic)
	assert.Equal(t, DefaultBatchRetention, topic.Batch.EffectiveRetention())
}

func TestGetTopicUsesOrgDefault(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.UpdateDefaultTopic(ctx, "org1",
		Topic{Batch: &Batch{Retention: BatchRetentionDay}}, nil)
	require.NoError(t, err)

	topic, err := store.GetTopic(ctx, "org1", "anything", true)
	require.NoError(t, err)
	require.NotNil(t, topic)
	assert.Equal(t, BatchRetentionDay, topic.Batch.Retention)
}

func TestSetAllowUndefined(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	topics, err := store.SetAllowUndefined(ctx, "org1", false)
	require.NoError(t, err)
	assert.False(t, topics.AllowUndefined())

	topic, err := store.GetTopic(ctx, "org1", "unknown", true)
	require.NoError(t, err)
	assert.Nil(t, topic, "undefined topics rejected once disallowed")

	topics, err = store.SetAllowUndefined(ctx, "org1", true)
	require.NoError(t, err)
	assert.True(t, topics.AllowUndefined())
	assert.EqualValues(t, 2, topics.Version)
}

func TestGetTopicsCaching(t *testing.T) {
	ctx := context.Background()
	store, fake := newTestStore(t)

	_, err := store.UpdateTopic(ctx, "org1", "clicks", Topic{}, nil)
	require.NoError(t, err)
	gets := fake.GetCalls

	// Update primed the cache.
	_, err = store.GetTopics(ctx, "org1", true)
	require.NoError(t, err)
	_, err = store.GetTopics(ctx, "org1", true)
	require.NoError(t, err)
	assert.Equal(t, gets, fake.GetCalls)

	// A non-cached read hits the table.
	_, err = store.GetTopics(ctx, "org1", false)
	require.NoError(t, err)
	assert.Equal(t, gets+1, fake.GetCalls)
}

func TestBatchRetentionDays(t *testing.T) {
	assert.EqualValues(t, 1, BatchRetentionDay.Days())
	assert.EqualValues(t, 7, BatchRetentionWeek.Days())
	assert.EqualValues(t, 90, BatchRetentionThreeMonths.Days())
	assert.EqualValues(t, 366, BatchRetentionYear.Days())
	assert.EqualValues(t, 1098, BatchRetentionThreeYears.Days())
}
