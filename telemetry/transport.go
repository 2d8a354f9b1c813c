package telemetry

import (
	"io"
	"net/http"
	"time"
)

// Upstream fetch outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeClient   = "4xx"
	OutcomeServer   = "5xx"
	OutcomeError    = "error"
	OutcomeCanceled = "canceled"
)

// InstrumentedTransport wraps an http.RoundTripper with upstream fetch metrics.
type InstrumentedTransport struct {
	base     http.RoundTripper
	resource string
}

// NewInstrumentedTransport creates a new instrumented transport for an
// upstream resource (e.g. "github", "discord").
// If base is nil, http.DefaultTransport is used.
func NewInstrumentedTransport(base http.RoundTripper, resource string) *InstrumentedTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &InstrumentedTransport{base: base, resource: resource}
}

// RoundTrip implements http.RoundTripper with metrics recording. Fetch size
// and duration are recorded when the response body is closed, so the metric
// covers the full read, not just the header exchange.
func (t *InstrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	fetch := &upstreamFetch{
		transport: t,
		req:       req,
		start:     time.Now(),
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		outcome := OutcomeError
		if req.Context().Err() != nil {
			outcome = OutcomeCanceled
		}
		fetch.record(outcome)
		return nil, err
	}

	fetch.body = resp.Body
	fetch.outcome = outcomeForStatus(resp.StatusCode)
	resp.Body = fetch

	return resp, nil
}

func outcomeForStatus(status int) string {
	switch {
	case status >= 500:
		return OutcomeServer
	case status >= 400:
		return OutcomeClient
	default:
		return OutcomeSuccess
	}
}

// upstreamFetch tracks a single request/response cycle. It doubles as the
// response body wrapper so byte counts include the streamed payload.
type upstreamFetch struct {
	transport *InstrumentedTransport
	req       *http.Request
	body      io.ReadCloser
	start     time.Time
	bytes     int64
	outcome   string
	done      bool
}

func (f *upstreamFetch) Read(p []byte) (int, error) {
	n, err := f.body.Read(p)
	f.bytes += int64(n)
	return n, err
}

func (f *upstreamFetch) Close() error {
	f.record(f.outcome)
	return f.body.Close()
}

// record emits the fetch metric exactly once.
func (f *upstreamFetch) record(outcome string) {
	if f.done {
		return
	}
	f.done = true
	RecordUpstreamFetch(f.req.Context(), f.transport.resource, time.Since(f.start), f.bytes, outcome)
}
