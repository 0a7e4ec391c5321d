package provider

import "context"

// Uploader abstracts the hosted video provider's upload API so handlers and
// tests can swap the HTTP client for a stub.
type Uploader interface {
	// CreateUpload reserves a direct-upload target with the provider and
	// returns the upload id plus the URL the browser should PUT bytes to.
	CreateUpload(ctx context.Context, params CreateUploadParams) (CreateUploadResult, error)
}

// CreateUploadParams describes the upload being reserved. Passthrough is an
// opaque correlation token echoed back in webhook payloads.
type CreateUploadParams struct {
	CORSOrigin  string
	Passthrough string
}

// CreateUploadResult is the provider's answer to a create-upload call.
type CreateUploadResult struct {
	UploadID  string
	UploadURL string
	AssetID   string
}

// NoopUploader satisfies Uploader without contacting anything. It is the
// fallback when no provider credentials are configured so read paths and the
// webhook endpoint stay usable in development.
type NoopUploader struct{}

func (NoopUploader) CreateUpload(context.Context, CreateUploadParams) (CreateUploadResult, error) {
	return CreateUploadResult{}, ErrNotConfigured
}
