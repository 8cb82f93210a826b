/*
Package quota implements the admission gate: active and (for
artifact-producing operations) verified tenant, lazy month rollover of
the usage counter, monthly file count cap, and per-file size cap. The
counter itself is only ever incremented by the completion transaction
in the store, so failed and cancelled jobs never count.
*/
package quota
