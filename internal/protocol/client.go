package protocol

import (
	"context"
	"encoding/json"
	"time"
)

// clientInfo identifies the bridge in the initialize handshake.
var clientInfo = map[string]string{
	"name":    "devbridge",
	"version": "1.0",
}

// Client exposes the protocol operations over any Conn. It applies a
// default per-request deadline when the caller supplies none.
type Client struct {
	conn    Conn
	timeout time.Duration
}

// NewClient wraps a connection. timeout is the per-request ceiling applied
// when the caller's context has no deadline of its own.
func NewClient(conn Conn, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{conn: conn, timeout: timeout}
}

// Conn returns the underlying connection.
func (c *Client) Conn() Conn { return c.conn }

// Initialize performs the protocol handshake.
func (c *Client) Initialize(ctx context.Context) error {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	_, err := c.conn.Call(ctx, "initialize", map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}},
		"clientInfo":      clientInfo,
	})
	if err != nil {
		return err
	}
	// Per protocol, the handshake completes with an initialized
	// notification before any tool traffic.
	return c.conn.Notify(ctx, "notifications/initialized", nil)
}

// ListTools fetches the backend's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	result, err := c.conn.Call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Tools []ToolDescriptor `json:"tools"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, NewError(KindFraming, "tools/list", err)
	}
	return parsed.Tools, nil
}

// CallTool invokes a named tool. Unknown names and argument shape problems
// are the backend's to judge: its error comes back verbatim as a
// backend-reported failure, never a local catalog check.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error) {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	if args == nil {
		args = map[string]interface{}{}
	}
	return c.conn.Call(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
}

// Ping checks that the backend is still responsive.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	_, err := c.conn.Call(ctx, "ping", nil)
	return err
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}
