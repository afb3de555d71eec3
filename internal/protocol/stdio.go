package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// maxFrameSize bounds a single newline-delimited frame from a subprocess.
const maxFrameSize = 16 * 1024 * 1024

// pendingRequest tracks one in-flight call awaiting its correlated response.
// The response channel is buffered so the reader never blocks on a caller
// that already gave up.
type pendingRequest struct {
	id       int64
	response chan *Message
}

// StdioConn speaks the protocol over a subprocess's standard streams. The
// stream is persistent and bidirectional: multiple requests may be in
// flight and responses may arrive out of order, so a dedicated reader
// goroutine owns the pending table and re-associates frames by id.
type StdioConn struct {
	writer  io.Writer
	closer  io.Closer
	nextID  atomic.Int64
	backend string

	mu      sync.Mutex
	pending map[int64]*pendingRequest

	writeMu sync.Mutex

	done     chan struct{}
	doneOnce sync.Once

	log *logrus.Entry
}

// NewStdioConn wraps a subprocess's stdin (w) and stdout (r) as a
// connection and starts the reader goroutine. closer, when non-nil, is
// closed with the connection (typically the subprocess stdin, so the child
// sees EOF).
func NewStdioConn(r io.Reader, w io.Writer, closer io.Closer, backend string, log *logrus.Entry) *StdioConn {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &StdioConn{
		writer:  w,
		closer:  closer,
		backend: backend,
		pending: make(map[int64]*pendingRequest),
		done:    make(chan struct{}),
		log:     log.WithField("backend", backend),
	}
	go c.readLoop(r)
	return c
}

// readLoop runs for the lifetime of the connection, demultiplexing inbound
// frames. It is the only resolver of pending requests: a frame either
// resolves exactly one pending id or is dropped.
func (c *StdioConn) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			c.log.WithError(err).Debug("dropping malformed frame")
			continue
		}

		// Server-initiated requests and notifications carry a method;
		// this client does not serve them.
		if msg.Method != "" {
			continue
		}

		id, ok := messageID(msg.ID)
		if !ok {
			c.log.Debug("dropping uncorrelated frame")
			continue
		}
		c.resolve(id, &msg)
	}

	// Stream ended: the subprocess exited or closed its stdout. Fail
	// everything still waiting instead of leaving callers hanging.
	c.shutdown()
}

// resolve delivers a response to its pending caller. A late response for an
// id that already timed out finds no entry and is ignored.
func (c *StdioConn) resolve(id int64, msg *Message) {
	c.mu.Lock()
	req, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		c.log.WithField("id", id).Debug("ignoring late response")
		return
	}
	req.response <- msg
}

func (c *StdioConn) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	select {
	case <-c.done:
		return nil, c.lostError(method)
	default:
	}

	id := c.nextID.Add(1)
	req := &pendingRequest{id: id, response: make(chan *Message, 1)}

	c.mu.Lock()
	c.pending[id] = req
	c.mu.Unlock()

	if err := c.write(newRequest(id, method, params)); err != nil {
		c.unregister(id)
		return nil, &Error{Kind: KindConnectionNotStarted, Op: method, Backend: c.backend, Err: err}
	}

	select {
	case msg := <-req.response:
		if msg.Error != nil {
			return nil, backendError(method, c.backend, msg.Error)
		}
		return msg.Result, nil

	case <-ctx.Done():
		c.unregister(id)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &Error{Kind: KindRequestTimeout, Op: method, Backend: c.backend, Err: ctx.Err()}
		}
		return nil, NewError(KindUnknown, method, ctx.Err())

	case <-c.done:
		return nil, c.lostError(method)
	}
}

func (c *StdioConn) Notify(ctx context.Context, method string, params interface{}) error {
	select {
	case <-c.done:
		return c.lostError(method)
	default:
	}
	if err := c.write(newNotification(method, params)); err != nil {
		return &Error{Kind: KindConnectionNotStarted, Op: method, Backend: c.backend, Err: err}
	}
	return nil
}

// write serializes one frame and appends the newline delimiter. Writes are
// serialized so concurrent callers cannot interleave frames.
func (c *StdioConn) write(msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.writer.Write(payload)
	return err
}

func (c *StdioConn) unregister(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// shutdown marks the connection done, which wakes every caller blocked in
// Call with a connection-lost failure. Safe to call more than once.
func (c *StdioConn) shutdown() {
	c.doneOnce.Do(func() {
		close(c.done)
	})

	c.mu.Lock()
	c.pending = make(map[int64]*pendingRequest)
	c.mu.Unlock()
}

func (c *StdioConn) lostError(op string) *Error {
	return &Error{Kind: KindConnectionNotStarted, Op: op, Backend: c.backend, Message: "connection lost"}
}

func (c *StdioConn) Done() <-chan struct{} { return c.done }

func (c *StdioConn) Close() error {
	c.shutdown()
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}
