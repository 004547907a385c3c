// Package daemon ties the stores and the workflow manager into a single
// lifecycle with flock-based locking to prevent multiple concurrent
// instances against the same database.
package daemon
