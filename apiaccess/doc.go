/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

// Package apiaccess stores API keys and their mapping onto shared rate-limit
// partitions. An ApiAccess record grants a user or a deployed task access to
// one organization, optionally restricted to a queue whitelist and bounded
// by an expiry. Usage keys decouple throttling from the raw API key: all
// accesses of the same type, organization and whitelist share one
// deterministically derived partition.
package apiaccess
