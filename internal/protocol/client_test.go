package protocol

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordedCall captures one Conn operation for assertions.
type recordedCall struct {
	notify bool
	method string
	params interface{}
}

// fakeConn is a scripted Conn for exercising the client layer alone.
type fakeConn struct {
	calls   []recordedCall
	results map[string]json.RawMessage
	errs    map[string]error
	done    chan struct{}
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		results: make(map[string]json.RawMessage),
		errs:    make(map[string]error),
		done:    make(chan struct{}),
	}
}

func (c *fakeConn) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	c.calls = append(c.calls, recordedCall{method: method, params: params})
	if err, ok := c.errs[method]; ok {
		return nil, err
	}
	if result, ok := c.results[method]; ok {
		return result, nil
	}
	return json.RawMessage(`{}`), nil
}

func (c *fakeConn) Notify(ctx context.Context, method string, params interface{}) error {
	c.calls = append(c.calls, recordedCall{notify: true, method: method, params: params})
	return nil
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func TestClientInitializeSequence(t *testing.T) {
	conn := newFakeConn()
	client := NewClient(conn, time.Second)

	require.NoError(t, client.Initialize(context.Background()))
	require.Len(t, conn.calls, 2)

	assert.Equal(t, "initialize", conn.calls[0].method)
	assert.False(t, conn.calls[0].notify)
	params, ok := conn.calls[0].params.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "2024-11-05", params["protocolVersion"])

	// The initialized notification follows the handshake response.
	assert.Equal(t, "notifications/initialized", conn.calls[1].method)
	assert.True(t, conn.calls[1].notify)
}

func TestClientListTools(t *testing.T) {
	conn := newFakeConn()
	conn.results["tools/list"] = json.RawMessage(`{
		"tools": [
			{"name": "take_screenshot", "description": "Capture the page", "inputSchema": {"type":"object"}},
			{"name": "navigate"}
		]
	}`)
	client := NewClient(conn, time.Second)

	tools, err := client.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "take_screenshot", tools[0].Name)
	assert.Equal(t, "Capture the page", tools[0].Description)
	assert.Equal(t, "navigate", tools[1].Name)
}

func TestClientListToolsMalformed(t *testing.T) {
	conn := newFakeConn()
	conn.results["tools/list"] = json.RawMessage(`"not an object"`)
	client := NewClient(conn, time.Second)

	_, err := client.ListTools(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindFraming, KindOf(err))
}

func TestClientCallToolForwardsVerbatim(t *testing.T) {
	conn := newFakeConn()
	client := NewClient(conn, time.Second)

	_, err := client.CallTool(context.Background(), "no_such_tool", map[string]interface{}{"x": 1})
	require.NoError(t, err)

	require.Len(t, conn.calls, 1)
	assert.Equal(t, "tools/call", conn.calls[0].method)
	params := conn.calls[0].params.(map[string]interface{})
	assert.Equal(t, "no_such_tool", params["name"])
	assert.Equal(t, map[string]interface{}{"x": 1}, params["arguments"])
}

func TestClientCallToolNilArguments(t *testing.T) {
	conn := newFakeConn()
	client := NewClient(conn, time.Second)

	_, err := client.CallTool(context.Background(), "navigate", nil)
	require.NoError(t, err)

	params := conn.calls[0].params.(map[string]interface{})
	assert.Equal(t, map[string]interface{}{}, params["arguments"],
		"nil arguments are sent as an empty object, not omitted")
}

func TestClientClose(t *testing.T) {
	conn := newFakeConn()
	client := NewClient(conn, time.Second)
	require.NoError(t, client.Close())
	assert.True(t, conn.closed)
}
