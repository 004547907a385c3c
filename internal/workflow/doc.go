// Package workflow coordinates job execution: the chunk executor, the
// cross-corpus orchestrator, heartbeat monitoring, and the daemon's poll
// loop. Jobs advance one chunk per executor invocation and persist their
// cursor, so any invocation can be the last before a restart.
package workflow
