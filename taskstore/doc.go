/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

// Package taskstore is the per-organization task registry. It records each
// task's queue wiring, detects routing cycles before a deployment commits,
// and serializes competing deployments of the same task with an advisory
// lock expressed as a conditional write. Deleting a task leaves a tombstone
// so historical queries and cycle checks keep working.
package taskstore
