/*
Package errors provides semantic error types for controlstore.

The package defines sentinel errors for the two failure classes that callers
are expected to branch on:

  - ErrInvalidInput: the request was rejected synchronously and nothing was
    written to the backing store.
  - ErrConditionFailed: a conditional write was rejected because the item's
    current state did not match the caller-supplied predicate. The caller
    decides whether to re-read and recompute or give up.

Not-found is deliberately not an error: every lookup operation returns an
absent result (nil pointer or empty slice) for missing items.

Typed errors carry context and match their sentinel via errors.Is:

	err := store.UpdateTopic(ctx, org, "clicks", topic, &staleVersion)
	if errors.IsConditionFailed(err) {
	    // re-read current version and retry, or surface a conflict
	}
*/
package errors
