/*
Package metrics defines the Prometheus collectors for the service:
job throughput and duration, worker pool saturation, API request
counts and latency, and cleanup sweep counters. Collectors are
registered at init and exposed via Handler on /metrics.
*/
package metrics
