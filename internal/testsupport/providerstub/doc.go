// Package providerstub hosts a deterministic HTTP fake of the video
// provider's upload API for integration tests. The stub records every
// create-upload call, can fail the first N requests to exercise retry
// behaviour, and signs synthetic webhook deliveries so end-to-end tests can
// drive the full verify-parse-apply pipeline without touching the network.
package providerstub
