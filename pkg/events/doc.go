/*
Package events provides an in-memory pub/sub broker for service
events. Publishers never block: events flow through a buffered channel
into a broadcast loop, and slow subscribers skip events rather than
stall the pipeline. The scheduler and cleanup loops publish job
lifecycle and sweep events; the metrics collector and log stream
subscribe.
*/
package events
