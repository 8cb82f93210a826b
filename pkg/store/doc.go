/*
Package store is the durable record of tenants, plans, API keys and
jobs, backed by PostgreSQL.

Status transitions are optimistic conditional updates: StartJob only
succeeds against a pending row, CompleteJob/FailJob only against a
processing row, so a lost race surfaces as ErrConflict instead of a
double transition. CompleteJob writes the output metadata and the
tenant usage increment in a single transaction.

Schema migrations are embedded and applied with goose at startup.
*/
package store
