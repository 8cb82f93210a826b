/*
Package scheduler runs accepted jobs on a bounded worker pool.

Submissions wait a bounded time for one of the fixed worker slots and
are rejected busy when none frees up, which keeps the wait visible to
clients instead of growing an unbounded queue. Each accepted job runs
under its own deadline; state transitions go through conditional store
updates so a cancel racing a completion can never overwrite a terminal
status.
*/
package scheduler
