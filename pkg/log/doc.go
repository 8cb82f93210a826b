/*
Package log provides structured JSON logging using zerolog.

A single global logger is initialized at startup via Init; packages
derive child loggers with WithComponent, WithJobID, and WithTenantID so
every job-lifecycle log line carries the identifiers needed to trace a
request through admission, processing, and cleanup.
*/
package log
