/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

/*
Package controlstore is the control-plane storage layer of the Streamplane
platform: API access and rate-limit partitions, the per-organization task
registry with routing-cycle detection and deployment locks, topic
configuration, asynchronous session tracking, and buffered schemaless state
documents for deployed tasks.

Everything lives in one DynamoDB table with type-prefixed partition keys and
a single global secondary index. All cross-process coordination is expressed
as conditional writes; there is no client-side lock manager. A rejected
condition surfaces as a precondition failure and is never retried at this
layer, and lookups report absence as a nil result rather than an error.

Basic Usage:

	cfg, _ := config.Load("controlstore.yaml")
	logger := slog.Default()

	stores, err := controlstore.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	access, err := stores.ApiAccess.GetApiAccessByApiKey(ctx, apiKey, true)
	if err != nil {
		return err
	}

Tests substitute the DynamoDB client with the in-memory fake from
ddb/ddbtest.
*/
package controlstore
