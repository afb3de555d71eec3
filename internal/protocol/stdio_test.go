package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stdioFixture wires a StdioConn to an in-memory peer. Frames the conn
// writes arrive on requests; respond and send push frames back.
type stdioFixture struct {
	conn     *StdioConn
	requests chan Message
	outW     *io.PipeWriter
	inW      *io.PipeWriter
}

func newStdioFixture(t *testing.T) *stdioFixture {
	t.Helper()

	inR, inW := io.Pipe()   // conn writes requests into inW, we read inR
	outR, outW := io.Pipe() // we write responses into outW, conn reads outR

	f := &stdioFixture{
		requests: make(chan Message, 16),
		outW:     outW,
		inW:      inW,
	}
	f.conn = NewStdioConn(outR, inW, inW, "test-backend", nil)

	go func() {
		scanner := bufio.NewScanner(inR)
		for scanner.Scan() {
			var msg Message
			if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
				continue
			}
			f.requests <- msg
		}
		close(f.requests)
	}()

	t.Cleanup(func() {
		f.conn.Close()
		outW.Close()
	})
	return f
}

// send writes one raw frame to the conn's reader.
func (f *stdioFixture) send(t *testing.T, raw string) {
	t.Helper()
	_, err := f.outW.Write([]byte(raw + "\n"))
	require.NoError(t, err)
}

// respond answers a request frame with a result.
func (f *stdioFixture) respond(t *testing.T, req Message, result string) {
	t.Helper()
	payload, err := json.Marshal(Message{
		Jsonrpc: "2.0",
		ID:      req.ID,
		Result:  json.RawMessage(result),
	})
	require.NoError(t, err)
	f.send(t, string(payload))
}

// nextRequest waits for the conn to emit a frame.
func (f *stdioFixture) nextRequest(t *testing.T) Message {
	t.Helper()
	select {
	case msg := <-f.requests:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for request frame")
		return Message{}
	}
}

func TestStdioCallRoundTrip(t *testing.T) {
	f := newStdioFixture(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		result, err := f.conn.Call(context.Background(), "ping", nil)
		assert.NoError(t, err)
		assert.JSONEq(t, `{}`, string(result))
	}()

	req := f.nextRequest(t)
	assert.Equal(t, "ping", req.Method)
	f.respond(t, req, `{}`)
	<-done
}

func TestStdioOutOfOrderResponses(t *testing.T) {
	f := newStdioFixture(t)

	type callResult struct {
		method string
		result json.RawMessage
		err    error
	}
	results := make(chan callResult, 2)
	call := func(method string) {
		res, err := f.conn.Call(context.Background(), method, nil)
		results <- callResult{method: method, result: res, err: err}
	}
	go call("first")
	go call("second")

	reqA := f.nextRequest(t)
	reqB := f.nextRequest(t)

	// Answer in the opposite order the requests arrived.
	f.respond(t, reqB, `{"for":"`+reqB.Method+`"}`)
	f.respond(t, reqA, `{"for":"`+reqA.Method+`"}`)

	for i := 0; i < 2; i++ {
		res := <-results
		require.NoError(t, res.err)
		assert.JSONEq(t, `{"for":"`+res.method+`"}`, string(res.result),
			"each caller must receive the response correlated to its own id")
	}
}

func TestStdioRequestTimeoutDiscardsLateResponse(t *testing.T) {
	f := newStdioFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.conn.Call(ctx, "slow", nil)
	require.Error(t, err)
	assert.Equal(t, KindRequestTimeout, KindOf(err))

	// The response shows up after the caller gave up; it must be dropped,
	// not delivered to the next request.
	late := f.nextRequest(t)
	f.respond(t, late, `{"stale":true}`)

	done := make(chan struct{})
	go func() {
		defer close(done)
		result, err := f.conn.Call(context.Background(), "next", nil)
		assert.NoError(t, err)
		assert.JSONEq(t, `{"fresh":true}`, string(result))
	}()
	req := f.nextRequest(t)
	f.respond(t, req, `{"fresh":true}`)
	<-done
}

func TestStdioBackendError(t *testing.T) {
	f := newStdioFixture(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := f.conn.Call(context.Background(), "tools/call", nil)
		require.Error(t, err)

		var perr *Error
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, KindBackendReported, perr.Kind)
		assert.Equal(t, -32601, perr.Code)
	}()

	req := f.nextRequest(t)
	payload, _ := json.Marshal(Message{
		Jsonrpc: "2.0",
		ID:      req.ID,
		Error:   &RPCError{Code: -32601, Message: "Method not found"},
	})
	f.send(t, string(payload))
	<-done
}

func TestStdioMalformedFramesDropped(t *testing.T) {
	f := newStdioFixture(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		result, err := f.conn.Call(context.Background(), "ping", nil)
		assert.NoError(t, err)
		assert.JSONEq(t, `{}`, string(result))
	}()

	req := f.nextRequest(t)
	f.send(t, `this is not json`)
	f.send(t, `{"jsonrpc":"2.0","method":"notifications/progress","params":{}}`)
	f.send(t, `{"jsonrpc":"2.0","id":"weird-id","result":{}}`)
	f.respond(t, req, `{}`)
	<-done
}

func TestStdioConnectionLost(t *testing.T) {
	f := newStdioFixture(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := f.conn.Call(context.Background(), "ping", nil)
		require.Error(t, err)
		assert.Equal(t, KindConnectionNotStarted, KindOf(err))
		assert.Contains(t, err.Error(), "connection lost")
	}()

	f.nextRequest(t)
	// Subprocess dies: its stdout closes and the blocked caller fails.
	f.outW.Close()
	<-done

	// Later calls fail immediately with the same classification.
	_, err := f.conn.Call(context.Background(), "ping", nil)
	require.Error(t, err)
	assert.Equal(t, KindConnectionNotStarted, KindOf(err))

	select {
	case <-f.conn.Done():
	case <-time.After(time.Second):
		t.Fatal("Done channel not closed after stream end")
	}
}

func TestStdioNotify(t *testing.T) {
	f := newStdioFixture(t)

	require.NoError(t, f.conn.Notify(context.Background(), "notifications/initialized", nil))
	req := f.nextRequest(t)
	assert.Equal(t, "notifications/initialized", req.Method)
	assert.Nil(t, req.ID)
}
