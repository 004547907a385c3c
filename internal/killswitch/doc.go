// Package killswitch implements the process-wide emergency stop: a
// TTL-bearing flag file on the fast path plus a best-effort cancel sweep
// across active jobs in the datastore. The two paths are independent so the
// stop signal survives a degraded database, and Activate reports partial
// success rather than a single boolean.
package killswitch
