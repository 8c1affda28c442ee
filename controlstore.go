/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

package controlstore

import (
	"context"
	"log/slog"

	"github.com/streamplane/controlstore/apiaccess"
	"github.com/streamplane/controlstore/config"
	"github.com/streamplane/controlstore/ddb"
	"github.com/streamplane/controlstore/sessionstore"
	"github.com/streamplane/controlstore/statestore"
	"github.com/streamplane/controlstore/taskstore"
	"github.com/streamplane/controlstore/topicstore"
)

// Stores bundles every control-plane store over one shared client and table.
type Stores struct {
	ApiAccess *apiaccess.Store
	Tasks     *taskstore.Store
	Topics    *topicstore.Store
	Sessions  *sessionstore.Store
	State     *statestore.Factory
}

// New wires all stores onto the given client. Tests pass an in-memory fake;
// production callers usually go through Open instead.
func New(client ddb.Client, cfg *config.Config, logger *slog.Logger) *Stores {
	return &Stores{
		ApiAccess: apiaccess.New(client, cfg.TableName, cfg.DeployEnv, logger, cfg.AuthCacheTTL),
		Tasks:     taskstore.New(client, cfg.TableName, logger),
		Topics:    topicstore.New(client, cfg.TableName, logger, cfg.TopicsCacheTTL),
		Sessions:  sessionstore.New(client, cfg.TableName, logger),
		State:     statestore.NewFactory(client, cfg.TableName, logger),
	}
}

// Open connects to DynamoDB using the process-wide shared client and wires
// all stores.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stores, error) {
	client, err := ddb.Shared(ctx, cfg.Region)
	if err != nil {
		return nil, err
	}
	return New(client, cfg, logger), nil
}

// Close releases the process-local caches. The shared client needs no
// teardown.
func (s *Stores) Close() {
	s.ApiAccess.Close()
	s.Topics.Close()
}
