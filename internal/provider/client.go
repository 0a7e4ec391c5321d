package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fanstream-video/internal/observability/metrics"
)

// ErrNotConfigured is returned when upload orchestration is attempted
// without provider credentials.
var ErrNotConfigured = errors.New("video provider not configured")

// HTTPClient talks to the hosted video provider's REST API.
type HTTPClient struct {
	config  Config
	metrics *metrics.Recorder
}

// NewHTTPClient builds an Uploader over the provider REST API. The config
// must validate; callers wanting a degraded boot should check
// Config.Configured first and fall back to NoopUploader.
func NewHTTPClient(cfg Config, recorder *metrics.Recorder) (*HTTPClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &HTTPClient{config: cfg, metrics: recorder}, nil
}

type createUploadRequest struct {
	CORSOrigin       string           `json:"cors_origin"`
	NewAssetSettings newAssetSettings `json:"new_asset_settings"`
}

type newAssetSettings struct {
	PlaybackPolicy []string `json:"playback_policy"`
	Passthrough    string   `json:"passthrough,omitempty"`
}

type createUploadResponse struct {
	Data struct {
		ID      string `json:"id"`
		URL     string `json:"url"`
		AssetID string `json:"asset_id"`
		Status  string `json:"status"`
	} `json:"data"`
}

// CreateUpload reserves a direct-upload target. Transport failures are
// retried once; non-2xx responses are returned verbatim so callers can log
// the provider's complaint.
func (c *HTTPClient) CreateUpload(ctx context.Context, params CreateUploadParams) (CreateUploadResult, error) {
	origin := strings.TrimSpace(params.CORSOrigin)
	if origin == "" {
		origin = c.config.CORSOrigin
	}
	payload := createUploadRequest{
		CORSOrigin: origin,
		NewAssetSettings: newAssetSettings{
			PlaybackPolicy: []string{"public"},
			Passthrough:    params.Passthrough,
		},
	}

	var response createUploadResponse
	url := fmt.Sprintf("%s/video/v1/uploads", strings.TrimRight(c.config.BaseURL, "/"))
	if err := c.post(ctx, url, payload, &response); err != nil {
		return CreateUploadResult{}, err
	}
	if response.Data.ID == "" || response.Data.URL == "" {
		return CreateUploadResult{}, fmt.Errorf("provider upload response missing id or url")
	}
	return CreateUploadResult{
		UploadID:  response.Data.ID,
		UploadURL: response.Data.URL,
		AssetID:   response.Data.AssetID,
	}, nil
}

func (c *HTTPClient) post(ctx context.Context, url string, payload interface{}, dest interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	attempts := c.config.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if c.metrics != nil {
			c.metrics.ObserveProviderAttempt("create_upload")
		}
		lastErr = c.doPost(ctx, url, body, dest)
		if lastErr == nil {
			return nil
		}
		if c.metrics != nil {
			c.metrics.ObserveProviderFailure("create_upload")
		}
		if !retryable(lastErr) || attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.config.RetryInterval):
		}
	}
	return lastErr
}

func (c *HTTPClient) doPost(ctx context.Context, url string, body []byte, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.config.TokenID, c.config.TokenSecret)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("provider responded %s: %s", resp.Status, strings.TrimSpace(string(data)))
		if resp.StatusCode >= 500 {
			return &transportError{err: err}
		}
		return err
	}
	if dest == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

func (c *HTTPClient) httpClient() *http.Client {
	if c.config.HTTPClient != nil {
		return c.config.HTTPClient
	}
	timeout := c.config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// transportError marks failures worth retrying: connection trouble and
// provider 5xx responses. Client errors are permanent.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func retryable(err error) bool {
	var transport *transportError
	return errors.As(err, &transport)
}
