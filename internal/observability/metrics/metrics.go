package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// WebhookLabel identifies a webhook delivery counter by provider event type
// and handling outcome (applied, ignored, unmatched, rejected, failed).
type WebhookLabel struct {
	Event   string
	Outcome string
}

// TransitionLabel identifies an asset lifecycle transition counter.
type TransitionLabel struct {
	From string
	To   string
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP
// requests, webhook deliveries, asset lifecycle transitions, upload
// orchestration, and outbound provider calls. It coordinates concurrent
// writers via a RWMutex while exposing a thread-safe gauge for in-flight
// uploads.
type Recorder struct {
	mu               sync.RWMutex
	requestCount     map[requestLabel]uint64
	requestDuration  map[requestLabel]time.Duration
	webhookEvents    map[WebhookLabel]uint64
	signatureResults map[string]uint64
	transitions      map[TransitionLabel]uint64
	uploadEvents     map[string]uint64
	providerAttempts map[string]uint64
	providerFailures map[string]uint64
	pendingUploads   atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers can
// immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:     make(map[requestLabel]uint64),
		requestDuration:  make(map[requestLabel]time.Duration),
		webhookEvents:    make(map[WebhookLabel]uint64),
		signatureResults: make(map[string]uint64),
		transitions:      make(map[TransitionLabel]uint64),
		uploadEvents:     make(map[string]uint64),
		providerAttempts: make(map[string]uint64),
		providerFailures: make(map[string]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveWebhookEvent records a delivered webhook event keyed by event type
// and handling outcome.
func (r *Recorder) ObserveWebhookEvent(event, outcome string) {
	label := WebhookLabel{Event: normalizeName(event), Outcome: normalizeName(outcome)}
	r.mu.Lock()
	r.webhookEvents[label]++
	r.mu.Unlock()
}

// ObserveSignature records the result of a webhook signature check
// ("verified", "rejected", or "missing").
func (r *Recorder) ObserveSignature(result string) {
	normalized := normalizeName(result)
	r.mu.Lock()
	r.signatureResults[normalized]++
	r.mu.Unlock()
}

// ObserveTransition records an asset lifecycle transition from one status to
// another. Idempotent replays that do not change state should not be recorded.
func (r *Recorder) ObserveTransition(from, to string) {
	label := TransitionLabel{From: normalizeName(from), To: normalizeName(to)}
	r.mu.Lock()
	r.transitions[label]++
	r.mu.Unlock()
}

// UploadCreated records a successfully orchestrated upload target and
// increments the pending upload gauge.
func (r *Recorder) UploadCreated() {
	r.incrementUploadEvent("created")
	r.pendingUploads.Add(1)
}

// UploadSettled records that a pending upload left the uploading state
// (processing, ready, errored, or reaped) and decrements the pending gauge,
// guarding against negative counts when concurrent updates race.
func (r *Recorder) UploadSettled(event string) {
	r.incrementUploadEvent(event)
	r.decrementGauge(&r.pendingUploads)
}

func (r *Recorder) incrementUploadEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.uploadEvents[normalized]++
	r.mu.Unlock()
}

// ObserveProviderAttempt records an outbound provider API attempt keyed by
// operation name (e.g., "create_upload").
func (r *Recorder) ObserveProviderAttempt(operation string) {
	op := normalizeName(operation)
	r.mu.Lock()
	r.providerAttempts[op]++
	r.mu.Unlock()
}

// ObserveProviderFailure records a failed provider operation keyed by
// operation name. The caller should also record the attempt separately.
func (r *Recorder) ObserveProviderFailure(operation string) {
	op := normalizeName(operation)
	r.mu.Lock()
	r.providerFailures[op]++
	r.mu.Unlock()
}

// PendingUploads exposes the current gauge of uploads awaiting provider
// confirmation.
func (r *Recorder) PendingUploads() int64 {
	return r.pendingUploads.Load()
}

// WebhookCounts returns copies of webhook event and signature counters for
// testing and reporting purposes.
func (r *Recorder) WebhookCounts() (events map[WebhookLabel]uint64, signatures map[string]uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events = make(map[WebhookLabel]uint64, len(r.webhookEvents))
	for k, v := range r.webhookEvents {
		events[k] = v
	}
	signatures = make(map[string]uint64, len(r.signatureResults))
	for k, v := range r.signatureResults {
		signatures[k] = v
	}
	return events, signatures
}

// TransitionCounts returns a copy of the lifecycle transition counters.
func (r *Recorder) TransitionCounts() map[TransitionLabel]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[TransitionLabel]uint64, len(r.transitions))
	for k, v := range r.transitions {
		out[k] = v
	}
	return out
}

// ProviderCounts returns copies of provider attempt and failure counters.
func (r *Recorder) ProviderCounts() (attempts map[string]uint64, failures map[string]uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attempts = make(map[string]uint64, len(r.providerAttempts))
	for k, v := range r.providerAttempts {
		attempts[k] = v
	}
	failures = make(map[string]uint64, len(r.providerFailures))
	for k, v := range r.providerFailures {
		failures[k] = v
	}
	return attempts, failures
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.webhookEvents = make(map[WebhookLabel]uint64)
	r.signatureResults = make(map[string]uint64)
	r.transitions = make(map[TransitionLabel]uint64)
	r.uploadEvents = make(map[string]uint64)
	r.providerAttempts = make(map[string]uint64)
	r.providerFailures = make(map[string]uint64)
	r.pendingUploads.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting label
// sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	webhookLabels := r.sortedWebhookLabels()
	signatureResults := r.sortedKeys(r.signatureResults)
	transitionLabels := r.sortedTransitionLabels()
	uploadEvents := r.sortedKeys(r.uploadEvents)
	providerOperations := r.sortedProviderOperations()

	fmt.Fprintln(w, "# HELP fanstream_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE fanstream_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "fanstream_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP fanstream_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE fanstream_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "fanstream_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP fanstream_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE fanstream_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "fanstream_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP fanstream_webhook_events_total Webhook deliveries by event type and outcome")
	fmt.Fprintln(w, "# TYPE fanstream_webhook_events_total counter")
	for _, label := range webhookLabels {
		count := r.webhookEvents[label]
		fmt.Fprintf(w, "fanstream_webhook_events_total{event=\"%s\",outcome=\"%s\"} %d\n", label.Event, label.Outcome, count)
	}

	fmt.Fprintln(w, "# HELP fanstream_webhook_signature_total Webhook signature verification results")
	fmt.Fprintln(w, "# TYPE fanstream_webhook_signature_total counter")
	for _, result := range signatureResults {
		count := r.signatureResults[result]
		fmt.Fprintf(w, "fanstream_webhook_signature_total{result=\"%s\"} %d\n", result, count)
	}

	fmt.Fprintln(w, "# HELP fanstream_asset_transitions_total Asset lifecycle transitions by source and destination status")
	fmt.Fprintln(w, "# TYPE fanstream_asset_transitions_total counter")
	for _, label := range transitionLabels {
		count := r.transitions[label]
		fmt.Fprintf(w, "fanstream_asset_transitions_total{from=\"%s\",to=\"%s\"} %d\n", label.From, label.To, count)
	}

	fmt.Fprintln(w, "# HELP fanstream_upload_events_total Upload orchestration events by type")
	fmt.Fprintln(w, "# TYPE fanstream_upload_events_total counter")
	for _, event := range uploadEvents {
		count := r.uploadEvents[event]
		fmt.Fprintf(w, "fanstream_upload_events_total{event=\"%s\"} %d\n", event, count)
	}

	fmt.Fprintln(w, "# HELP fanstream_pending_uploads Current number of uploads awaiting provider confirmation")
	fmt.Fprintln(w, "# TYPE fanstream_pending_uploads gauge")
	fmt.Fprintf(w, "fanstream_pending_uploads %d\n", r.pendingUploads.Load())

	fmt.Fprintln(w, "# HELP fanstream_provider_attempts_total Total provider API operations attempted by action")
	fmt.Fprintln(w, "# TYPE fanstream_provider_attempts_total counter")
	for _, op := range providerOperations {
		count := r.providerAttempts[op]
		fmt.Fprintf(w, "fanstream_provider_attempts_total{operation=\"%s\"} %d\n", op, count)
	}

	fmt.Fprintln(w, "# HELP fanstream_provider_failures_total Total provider API operation failures by action")
	fmt.Fprintln(w, "# TYPE fanstream_provider_failures_total counter")
	for _, op := range providerOperations {
		count := r.providerFailures[op]
		fmt.Fprintf(w, "fanstream_provider_failures_total{operation=\"%s\"} %d\n", op, count)
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedWebhookLabels() []WebhookLabel {
	labels := make([]WebhookLabel, 0, len(r.webhookEvents))
	for label := range r.webhookEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Event != labels[j].Event {
			return labels[i].Event < labels[j].Event
		}
		return labels[i].Outcome < labels[j].Outcome
	})
	return labels
}

func (r *Recorder) sortedTransitionLabels() []TransitionLabel {
	labels := make([]TransitionLabel, 0, len(r.transitions))
	for label := range r.transitions {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].From != labels[j].From {
			return labels[i].From < labels[j].From
		}
		return labels[i].To < labels[j].To
	})
	return labels
}

func (r *Recorder) sortedKeys(values map[string]uint64) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (r *Recorder) sortedProviderOperations() []string {
	seen := make(map[string]struct{}, len(r.providerAttempts)+len(r.providerFailures))
	for op := range r.providerAttempts {
		seen[op] = struct{}{}
	}
	for op := range r.providerFailures {
		seen[op] = struct{}{}
	}
	ops := make([]string, 0, len(seen))
	for op := range seen {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
			continue
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 16 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// ObserveWebhookEvent increments counters on the default recorder.
func ObserveWebhookEvent(event, outcome string) {
	defaultRecorder.ObserveWebhookEvent(event, outcome)
}
