/*
Package api implements the HTTP surface: registration and token
endpoints, one multipart submit route per operation, job history,
tenant-scoped artifact downloads, and the health and metrics probes.
All error responses carry a safe detail message; internal causes stay
in the logs.
*/
package api
