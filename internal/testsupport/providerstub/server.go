package providerstub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// Options describes how the fake provider should behave.
type Options struct {
	// UploadIDPrefix seeds the generated upload ids; defaults to "upload".
	UploadIDPrefix string

	// AssetID, when set, is attached to every create-upload response.
	AssetID string

	// FailCreates causes the first N create-upload requests to return
	// HTTP 503. Subsequent attempts succeed.
	FailCreates int

	// TokenID and TokenSecret are the expected basic-auth credentials. If
	// empty, the check is skipped.
	TokenID     string
	TokenSecret string
}

// Operation represents a recorded provider interaction.
type Operation struct {
	Kind        string
	CORSOrigin  string
	Passthrough string
	Attempt     int
	Status      int
	Timestamp   time.Time
}

// Server hosts a single httptest.Server that serves the upload endpoints.
type Server struct {
	server *httptest.Server
	opts   Options

	mu         sync.Mutex
	operations []Operation
	failures   int
	sequence   int
}

// Start spins up a new provider stub using the provided options.
func Start(opts Options) *Server {
	if opts.UploadIDPrefix == "" {
		opts.UploadIDPrefix = "upload"
	}
	s := &Server{opts: opts}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Close shuts down the underlying HTTP server.
func (s *Server) Close() {
	if s.server != nil {
		s.server.Close()
	}
}

// BaseURL returns the HTTP base URL for the provider endpoints.
func (s *Server) BaseURL() string {
	return s.server.URL
}

// Operations returns a copy of all recorded operations in the order they occurred.
func (s *Server) Operations() []Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Operation, len(s.operations))
	copy(out, s.operations)
	return out
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost && r.URL.Path == "/video/v1/uploads" {
		s.handleCreateUpload(w, r)
		return
	}
	http.Error(w, "unexpected request", http.StatusNotFound)
}

type createUploadRequest struct {
	CORSOrigin       string `json:"cors_origin"`
	NewAssetSettings struct {
		PlaybackPolicy []string `json:"playback_policy"`
		Passthrough    string   `json:"passthrough"`
	} `json:"new_asset_settings"`
}

func (s *Server) handleCreateUpload(w http.ResponseWriter, r *http.Request) {
	if s.opts.TokenID != "" {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.opts.TokenID || pass != s.opts.TokenSecret {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var req createUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.sequence++
	attempt := s.sequence
	status := http.StatusCreated
	if s.failures < s.opts.FailCreates {
		s.failures++
		status = http.StatusServiceUnavailable
	}
	uploadID := fmt.Sprintf("%s-%d", s.opts.UploadIDPrefix, attempt)
	s.operations = append(s.operations, Operation{
		Kind:        "create_upload",
		CORSOrigin:  req.CORSOrigin,
		Passthrough: req.NewAssetSettings.Passthrough,
		Attempt:     attempt,
		Status:      status,
		Timestamp:   time.Now(),
	})
	s.mu.Unlock()

	if status != http.StatusCreated {
		http.Error(w, "temporarily unavailable", status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data": map[string]interface{}{
			"id":       uploadID,
			"url":      fmt.Sprintf("%s/upload-target/%s", s.server.URL, uploadID),
			"asset_id": s.opts.AssetID,
			"status":   "waiting",
		},
	})
}
