// Package api implements the HTTP handlers for upload orchestration, video
// reads, and the provider webhook endpoint.
package api
