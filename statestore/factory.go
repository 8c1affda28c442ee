/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

package statestore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/streamplane/controlstore/ddb"
	"github.com/streamplane/controlstore/keyutil"
)

// Factory hands out state Managers deduplicated by document key, so that
// all callers within one unit of work share the same buffered instance.
type Factory struct {
	client   ddb.Client
	table    string
	logger   *slog.Logger
	mu       sync.Mutex
	managers map[string]*Manager
}

// NewFactory creates a Factory over the given table.
func NewFactory(client ddb.Client, table string, logger *slog.Logger) *Factory {
	return &Factory{
		client:   client,
		table:    table,
		logger:   logger,
		managers: make(map[string]*Manager),
	}
}

// Manager returns the state Manager for the given key parts, creating it on
// first use. The ttl applies only when this call creates the instance.
func (f *Factory) Manager(key []string, ttl time.Duration) *Manager {
	f.mu.Lock()
	defer f.mu.Unlock()
	keyStr := keyutil.MergeStrings(key...)
	if m, ok := f.managers[keyStr]; ok {
		return m
	}
	m := newManager(f.client, f.table, f.logger, key, ttl)
	f.managers[keyStr] = m
	return m
}

// FlushAll flushes every Manager created so far. All Managers are attempted
// even when some fail.
func (f *Factory) FlushAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	for _, m := range f.managers {
		if err := m.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CloseAll flushes and closes every Manager. The Factory keeps working and
// will create fresh instances afterwards.
func (f *Factory) CloseAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	for keyStr, m := range f.managers {
		if err := m.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		delete(f.managers, keyStr)
	}
	return errors.Join(errs...)
}
