/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

// Package statestore provides buffered read/write access to schemaless state
// documents keyed by merged key parts. Mutations accumulate locally and are
// compiled into a single update on flush; reading any field while mutations
// are pending flushes the whole buffer first, so a Manager never serves a
// value older than its own writes. Every mutation pushes out the document's
// time-to-live when one is configured.
package statestore
