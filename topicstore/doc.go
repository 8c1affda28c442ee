/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

// Package topicstore stores per-organization topic configuration: named
// ingestion endpoints and the batch, stream and key-value destinations their
// data is written to. Each organization's configuration is one versioned
// item; concurrent modifications are fenced with an expected-version
// conditional write.
package topicstore
