package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

// Conn is a live transport handle to one backend plus the request
// correlation state that goes with it. At most one Conn of subprocess kind
// exists process-wide; the registry owns it.
type Conn interface {
	// Call sends a correlated request and blocks until the matching
	// response arrives, the context expires, or the connection is lost.
	Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error)

	// Notify sends a request with no id; no response is awaited.
	Notify(ctx context.Context, method string, params interface{}) error

	// Done is closed when the underlying transport is gone for good.
	// HTTP connections are stateless and are never done.
	Done() <-chan struct{}

	Close() error
}

// HTTPConn speaks the protocol over an HTTP endpoint: one request is one
// HTTP POST, so correlation reduces to tagging each request with the next
// id and checking it on the way back.
type HTTPConn struct {
	baseURL    string
	httpClient *http.Client
	nextID     atomic.Int64
	done       chan struct{}
}

// NewHTTPConn creates a connection to a verified endpoint URL.
func NewHTTPConn(endpointURL string) *HTTPConn {
	return &HTTPConn{
		baseURL:    endpointURL,
		httpClient: &http.Client{},
		done:       make(chan struct{}),
	}
}

// EndpointURL returns the endpoint this connection posts to.
func (c *HTTPConn) EndpointURL() string { return c.baseURL }

func (c *HTTPConn) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	resp, err := c.post(ctx, newRequest(id, method, params))
	if err != nil {
		return nil, err
	}

	if resp == nil {
		return nil, Errorf(KindFraming, method, "empty response to request %d", id)
	}
	respID, ok := messageID(resp.ID)
	if !ok || respID != id {
		return nil, Errorf(KindFraming, method, "uncorrelated response id %v for request %d", resp.ID, id)
	}
	if resp.Error != nil {
		return nil, backendError(method, c.baseURL, resp.Error)
	}
	return resp.Result, nil
}

func (c *HTTPConn) Notify(ctx context.Context, method string, params interface{}) error {
	_, err := c.post(ctx, newNotification(method, params))
	return err
}

func (c *HTTPConn) post(ctx context.Context, msg Message) (*Message, error) {
	op := msg.Method

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, NewError(KindFraming, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, NewError(KindFraming, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, NewError(KindRequestTimeout, op, ctx.Err())
		}
		return nil, &Error{Kind: KindEndpointUnverified, Op: op, Backend: c.baseURL, Err: err}
	}
	defer resp.Body.Close()

	// Notifications are commonly acknowledged with an empty 202 or 204.
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, Errorf(KindFraming, op, "HTTP %d: %s", resp.StatusCode, payload)
	}

	var decoded Message
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, NewError(KindFraming, op, err)
	}
	if decoded.Jsonrpc != jsonrpcVersion {
		return nil, Errorf(KindFraming, op, "unexpected jsonrpc version %q", decoded.Jsonrpc)
	}
	return &decoded, nil
}

func (c *HTTPConn) Done() <-chan struct{} { return c.done }

func (c *HTTPConn) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func backendError(op, backend string, rpcErr *RPCError) *Error {
	return &Error{
		Kind:    KindBackendReported,
		Op:      op,
		Backend: backend,
		Code:    rpcErr.Code,
		Message: fmt.Sprintf("backend error %d: %s", rpcErr.Code, rpcErr.Message),
	}
}
