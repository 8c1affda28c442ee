/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

package controlstore

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamplane/controlstore/config"
	"github.com/streamplane/controlstore/ddb/ddbtest"
)

func TestNewWiresAllStores(t *testing.T) {
	ctx := context.Background()
	fake := ddbtest.New("control-test")
	cfg := &config.Config{
		TableName:      "control-test",
		DeployEnv:      config.DeployEnvTest,
		AuthCacheTTL:   time.Minute,
		TopicsCacheTTL: time.Minute,
	}
	stores := New(fake, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(stores.Close)

	// All stores share the one table through the one client.
	session, err := stores.Sessions.CreateSession(ctx)
	require.NoError(t, err)
	_, err = stores.Tasks.Set(ctx, "org1", "task1", "alice", []string{"q1"}, []string{"q2"}, "")
	require.NoError(t, err)
	_, err = stores.Topics.SetAllowUndefined(ctx, "org1", true)
	require.NoError(t, err)

	manager := stores.State.Manager([]string{"task", "org1", "task1"}, time.Hour)
	require.NoError(t, manager.SetString(ctx, "phase", "deploying"))
	require.NoError(t, stores.State.FlushAll(ctx))

	got, err := stores.Sessions.Check(ctx, session.SessionID)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Equal(t, 4, fake.Len())
}
