// Package server hosts the upload, video, and webhook APIs from a single
// HTTP server.
//
// The server builds a consistent middleware chain of request ids, rate
// limiting, security headers, CORS, metrics, and logging so handlers all
// share common protections and instrumentation.
package server
