/*
Package ddb provides the DynamoDB plumbing shared by every controlstore
store: client construction, expression attribute aliasing, conditional
update/put/delete builders, and pagination cursors.

The design follows a single-table layout. All record types live in one
partitioned table under a type-specific pk prefix with a fixed sk
discriminator, and secondary access patterns are served by one global
secondary index. Stores never issue ad-hoc queries; each operation is a
narrow, purpose-built access pattern.

Conditional writes are the only coordination primitive. The UpdateBuilder
compiles field mutations and condition clauses into one UpdateItem statement;
a rejected condition is surfaced as errors.ErrConditionFailed and never
retried here.

Expression attribute names and constants are always registered through
Mappings, which sanitizes them to alphanumeric aliases. This keeps statements
safe against attribute names that collide with DynamoDB reserved words.

Client is an interface so unit tests can substitute the in-memory fake in
package ddbtest; production code uses New, NewWithStaticCredentials, or the
lazily constructed Shared handle.
*/
package ddb
