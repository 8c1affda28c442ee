/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

// Package sessionstore tracks asynchronous operations polled by callers
// while a worker runs them. A session moves PENDING to PROCESSING to SUCCESS
// or FAILURE; every transition is a conditional write on the current state,
// so double starts and double completions lose cleanly. Sessions expire via
// store TTL, tightest once a result is available.
package sessionstore
