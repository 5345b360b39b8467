// Package sqlsource provides a validated, lazily-initialized connection
// source for PostgreSQL using pgx v5.
//
// Invariants:
//
//   - I1: connection parameters are validated once, in New; a *Source is
//     never observable in a partially valid state.
//   - I2: the underlying provider is built at most once, on first Acquire,
//     and is never replaced.
//   - I3: the pooled/direct decision is a startup capability flag
//     (Settings.Strategy), not a runtime probe.
//   - I4: Shutdown releases pooled resources exactly once and is safe to call
//     any number of times.
//   - I5: error strings are safe to log by default; passwords never appear.
//
// Query execution beyond the DB contract is out of scope. Callers decide
// retry policy; the source surfaces failures unmodified.
package sqlsource
