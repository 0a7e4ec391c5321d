package metrics

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestObserveRequestAndNormalizePath(t *testing.T) {
	recorder := New()

	cases := []struct {
		method   string
		path     string
		status   int
		duration time.Duration
	}{
		{"get", "/", 200, 50 * time.Millisecond},
		{"GET", "", 200, 25 * time.Millisecond},
		{"get", "/api/videos/vid123", 200, 10 * time.Millisecond},
		{"GET", "/api/videos/vid456/", 200, 10 * time.Millisecond},
		{"post", "/api/uploads", 201, 100 * time.Millisecond},
	}
	for _, tc := range cases {
		recorder.ObserveRequest(tc.method, tc.path, tc.status, tc.duration)
	}

	expected := map[requestLabel]uint64{
		{method: "GET", path: "/", status: "200"}:               2,
		{method: "GET", path: "/api/videos/:id", status: "200"}: 2,
		{method: "POST", path: "/api/uploads", status: "201"}:   1,
	}
	if len(recorder.requestCount) != len(expected) {
		t.Fatalf("label count = %d, want %d", len(recorder.requestCount), len(expected))
	}
	for label, want := range expected {
		if got := recorder.requestCount[label]; got != want {
			t.Errorf("count for %+v = %d, want %d", label, got, want)
		}
	}
	if got := recorder.requestDuration[requestLabel{method: "GET", path: "/api/videos/:id", status: "200"}]; got != 20*time.Millisecond {
		t.Fatalf("aggregated duration = %s", got)
	}
}

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"/api/uploads", "/api/uploads"},
		{"/api/videos/abc123", "/api/videos/:id"},
		{"/api/videos/0123456789abcdef0123/", "/api/videos/:id"},
		{"api/videos", "/api/videos"},
	}
	for _, tc := range cases {
		if got := normalizePath(tc.in); got != tc.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPendingUploadGaugeNeverNegative(t *testing.T) {
	recorder := New()

	var wg sync.WaitGroup
	created := 100
	settled := 150
	wg.Add(created + settled)
	for i := 0; i < created; i++ {
		go func() {
			defer wg.Done()
			recorder.UploadCreated()
		}()
	}
	for i := 0; i < settled; i++ {
		go func() {
			defer wg.Done()
			recorder.UploadSettled("video.asset.ready")
		}()
	}
	wg.Wait()

	if pending := recorder.PendingUploads(); pending < 0 {
		t.Fatalf("pending uploads = %d, gauge must not go negative", pending)
	}

	r := New()
	r.UploadSettled("video.asset.errored")
	if pending := r.PendingUploads(); pending != 0 {
		t.Fatalf("settle without create left gauge at %d", pending)
	}
}

func TestCounterAccessors(t *testing.T) {
	recorder := New()

	recorder.ObserveWebhookEvent("video.asset.ready", "applied")
	recorder.ObserveWebhookEvent("video.asset.ready", "ignored")
	recorder.ObserveWebhookEvent("  ", "applied")
	recorder.ObserveSignature("accepted")
	recorder.ObserveSignature("rejected")
	recorder.ObserveSignature("rejected")
	recorder.ObserveTransition("uploading", "processing")
	recorder.ObserveProviderAttempt("create_upload")
	recorder.ObserveProviderAttempt("create_upload")
	recorder.ObserveProviderFailure("create_upload")

	events, signatures := recorder.WebhookCounts()
	if events[WebhookLabel{Event: "video.asset.ready", Outcome: "applied"}] != 1 {
		t.Fatalf("events = %+v", events)
	}
	if events[WebhookLabel{Event: "unknown", Outcome: "applied"}] != 1 {
		t.Fatalf("blank event not normalized: %+v", events)
	}
	if signatures["rejected"] != 2 || signatures["accepted"] != 1 {
		t.Fatalf("signatures = %+v", signatures)
	}
	if recorder.TransitionCounts()[TransitionLabel{From: "uploading", To: "processing"}] != 1 {
		t.Fatalf("transitions = %+v", recorder.TransitionCounts())
	}
	attempts, failures := recorder.ProviderCounts()
	if attempts["create_upload"] != 2 || failures["create_upload"] != 1 {
		t.Fatalf("provider counts = %+v / %+v", attempts, failures)
	}
}

func TestWriteAndHandlerOutput(t *testing.T) {
	recorder := New()

	recorder.ObserveRequest("GET", "/api/videos/vid123", 200, 150*time.Millisecond)
	recorder.ObserveRequest("get", "/api/videos/vid456/", 200, 50*time.Millisecond)
	recorder.ObserveRequest("POST", "/api/uploads", 201, time.Second)

	recorder.ObserveWebhookEvent("video.asset.ready", "applied")
	recorder.ObserveWebhookEvent("video.asset.ready", "ignored")
	recorder.ObserveSignature("accepted")
	recorder.ObserveSignature("rejected")
	recorder.ObserveTransition("uploading", "processing")
	recorder.ObserveTransition("processing", "ready")
	recorder.UploadCreated()
	recorder.UploadCreated()
	recorder.UploadSettled("video.asset.ready")
	recorder.ObserveProviderAttempt("create_upload")
	recorder.ObserveProviderFailure("create_upload")

	var buf bytes.Buffer
	recorder.Write(&buf)

	expected := `# HELP fanstream_http_requests_total Total number of HTTP requests processed by the API
# TYPE fanstream_http_requests_total counter
fanstream_http_requests_total{method="GET",path="/api/videos/:id",status="200"} 2
fanstream_http_requests_total{method="POST",path="/api/uploads",status="201"} 1
# HELP fanstream_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds
# TYPE fanstream_http_request_duration_seconds_sum counter
fanstream_http_request_duration_seconds_sum{method="GET",path="/api/videos/:id",status="200"} 0.200000
fanstream_http_request_duration_seconds_sum{method="POST",path="/api/uploads",status="201"} 1.000000
# HELP fanstream_http_request_duration_seconds_count Total number of observations for request durations
# TYPE fanstream_http_request_duration_seconds_count counter
fanstream_http_request_duration_seconds_count{method="GET",path="/api/videos/:id",status="200"} 2
fanstream_http_request_duration_seconds_count{method="POST",path="/api/uploads",status="201"} 1
# HELP fanstream_webhook_events_total Webhook deliveries by event type and outcome
# TYPE fanstream_webhook_events_total counter
fanstream_webhook_events_total{event="video.asset.ready",outcome="applied"} 1
fanstream_webhook_events_total{event="video.asset.ready",outcome="ignored"} 1
# HELP fanstream_webhook_signature_total Webhook signature verification results
# TYPE fanstream_webhook_signature_total counter
fanstream_webhook_signature_total{result="accepted"} 1
fanstream_webhook_signature_total{result="rejected"} 1
# HELP fanstream_asset_transitions_total Asset lifecycle transitions by source and destination status
# TYPE fanstream_asset_transitions_total counter
fanstream_asset_transitions_total{from="processing",to="ready"} 1
fanstream_asset_transitions_total{from="uploading",to="processing"} 1
# HELP fanstream_upload_events_total Upload orchestration events by type
# TYPE fanstream_upload_events_total counter
fanstream_upload_events_total{event="created"} 2
fanstream_upload_events_total{event="video.asset.ready"} 1
# HELP fanstream_pending_uploads Current number of uploads awaiting provider confirmation
# TYPE fanstream_pending_uploads gauge
fanstream_pending_uploads 1
# HELP fanstream_provider_attempts_total Total provider API operations attempted by action
# TYPE fanstream_provider_attempts_total counter
fanstream_provider_attempts_total{operation="create_upload"} 1
# HELP fanstream_provider_failures_total Total provider API operation failures by action
# TYPE fanstream_provider_failures_total counter
fanstream_provider_failures_total{operation="create_upload"} 1`

	if diff := compareLines(buf.String(), expected); diff != "" {
		t.Fatalf("unexpected write output:\n%s", diff)
	}

	res := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(res, httptest.NewRequest("GET", "/metrics", nil))
	if contentType := res.Result().Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/plain") {
		t.Fatalf("unexpected content type: %s", contentType)
	}
	if diff := compareLines(res.Body.String(), expected); diff != "" {
		t.Fatalf("unexpected handler output:\n%s", diff)
	}
}

func TestReset(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest("GET", "/", 200, time.Millisecond)
	recorder.ObserveWebhookEvent("video.asset.ready", "applied")
	recorder.UploadCreated()

	recorder.Reset()

	if len(recorder.requestCount) != 0 {
		t.Fatal("request counters not cleared")
	}
	events, _ := recorder.WebhookCounts()
	if len(events) != 0 {
		t.Fatal("webhook counters not cleared")
	}
	if recorder.PendingUploads() != 0 {
		t.Fatal("pending gauge not cleared")
	}
}

func compareLines(actual, expected string) string {
	actualLines := strings.Split(strings.TrimSpace(actual), "\n")
	expectedLines := strings.Split(strings.TrimSpace(expected), "\n")
	if len(actualLines) != len(expectedLines) {
		return formatDiff(actualLines, expectedLines)
	}
	for i := range actualLines {
		if actualLines[i] != expectedLines[i] {
			return formatDiff(actualLines, expectedLines)
		}
	}
	return ""
}

func formatDiff(actual, expected []string) string {
	var b strings.Builder
	b.WriteString("expected\n")
	for _, line := range expected {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("got\n")
	for _, line := range actual {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
