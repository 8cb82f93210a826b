/*
Package errdefs carries the service error taxonomy.

Every failure surfaced to a caller or recorded on a job passes through
an errdefs.Error: the Kind drives the HTTP status and the error_kind
column, Message is the caller-safe phrase, and the wrapped cause stays
in logs and the job's error_message only.
*/
package errdefs
