package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/standardbeagle/devbridge/internal/protocol"
)

// FailureReason classifies why a probe failed. The discovery service only
// cares that it failed; the reason is kept for diagnostics.
type FailureReason int

const (
	ReasonUnknown FailureReason = iota
	ReasonConnRefused
	ReasonTimeout
	ReasonMalformed
)

func (r FailureReason) String() string {
	switch r {
	case ReasonConnRefused:
		return "connection_refused"
	case ReasonTimeout:
		return "timeout"
	case ReasonMalformed:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// VerifyFailure is a classified probe failure.
type VerifyFailure struct {
	Port   int
	Reason FailureReason
	Err    error
}

func (f *VerifyFailure) Error() string {
	return fmt.Sprintf("port %d unverified [%s]: %v", f.Port, f.Reason, f.Err)
}

func (f *VerifyFailure) Unwrap() error { return f.Err }

// Verifier confirms that a candidate exposes a compatible protocol endpoint
// within a caller-supplied deadline. It performs a single minimal handshake
// and never retries; backoff is the caller's business.
type Verifier struct {
	endpointPath string
	httpClient   *http.Client
}

// NewVerifier creates a verifier probing the given endpoint path, e.g.
// "/_next/mcp".
func NewVerifier(endpointPath string) *Verifier {
	if !strings.HasPrefix(endpointPath, "/") {
		endpointPath = "/" + endpointPath
	}
	return &Verifier{
		endpointPath: endpointPath,
		// Per-probe deadlines come from the caller's context.
		httpClient: &http.Client{},
	}
}

// Verify probes the candidate's inferred endpoint. It succeeds only on a
// well-formed protocol response within the context deadline and returns
// the endpoint URL; failures come back as *VerifyFailure.
func (v *Verifier) Verify(ctx context.Context, port int) (string, error) {
	endpointURL := fmt.Sprintf("http://localhost:%d%s", port, v.endpointPath)

	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]interface{}{},
			"clientInfo":      map[string]string{"name": "devbridge", "version": "1.0"},
		},
	})
	if err != nil {
		return "", &VerifyFailure{Port: port, Reason: ReasonUnknown, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return "", &VerifyFailure{Port: port, Reason: ReasonUnknown, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return "", &VerifyFailure{Port: port, Reason: classifyProbeError(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &VerifyFailure{
			Port:   port,
			Reason: ReasonMalformed,
			Err:    fmt.Errorf("HTTP %d from %s", resp.StatusCode, endpointURL),
		}
	}

	// A listener that answers 200 but isn't speaking the protocol (some
	// other application on the port) is excluded here.
	var msg protocol.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return "", &VerifyFailure{Port: port, Reason: ReasonMalformed, Err: err}
	}
	if msg.Jsonrpc != "2.0" || (msg.Result == nil && msg.Error == nil) {
		return "", &VerifyFailure{
			Port:   port,
			Reason: ReasonMalformed,
			Err:    fmt.Errorf("not a protocol response from %s", endpointURL),
		}
	}

	return endpointURL, nil
}

// classifyProbeError maps transport errors to a failure reason. Patterns
// follow what net and net/http actually produce.
func classifyProbeError(err error) FailureReason {
	if err == nil {
		return ReasonUnknown
	}
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		return ReasonTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "context deadline exceeded"):
		return ReasonTimeout
	case strings.Contains(msg, "connection refused"):
		return ReasonConnRefused
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return ReasonTimeout
	default:
		return ReasonUnknown
	}
}
