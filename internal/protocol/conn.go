package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/opencode-ai/lsphub/internal/logging"
)

// NotificationHandler receives a server notification.
type NotificationHandler func(params json.RawMessage)

// RequestHandler serves a server-to-client request and returns the result.
type RequestHandler func(params json.RawMessage) (any, error)

// Conn is one JSON-RPC session over a byte stream pair, using LSP's
// Content-Length framing. Handlers must be registered before Listen.
type Conn struct {
	stdin  io.Writer
	stdout *bufio.Reader

	writeMu sync.Mutex
	nextID  int64

	mu            sync.Mutex
	pending       map[int64]chan *Message
	notifications map[string]NotificationHandler
	requests      map[string]RequestHandler
	closed        bool
}

// NewConn wraps a process's stdin/stdout pair. The read loop does not start
// until Listen is called.
func NewConn(stdin io.Writer, stdout io.Reader) *Conn {
	return &Conn{
		stdin:         stdin,
		stdout:        bufio.NewReader(stdout),
		pending:       make(map[int64]chan *Message),
		notifications: make(map[string]NotificationHandler),
		requests:      make(map[string]RequestHandler),
	}
}

// OnNotification registers a handler for a server notification method.
func (c *Conn) OnNotification(method string, fn NotificationHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifications[method] = fn
}

// OnRequest registers a handler for a server-to-client request method.
func (c *Conn) OnRequest(method string, fn RequestHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[method] = fn
}

// Listen starts the read loop in its own goroutine.
func (c *Conn) Listen() {
	go c.readLoop()
}

func (c *Conn) readLoop() {
	for {
		msg, err := c.readMessage()
		if err != nil {
			c.mu.Lock()
			c.closed = true
			for _, ch := range c.pending {
				close(ch)
			}
			c.pending = make(map[int64]chan *Message)
			c.mu.Unlock()
			return
		}

		switch {
		case msg.Method != "" && msg.ID != 0:
			c.serveRequest(msg)
		case msg.Method != "":
			c.mu.Lock()
			fn := c.notifications[msg.Method]
			c.mu.Unlock()
			if fn != nil {
				fn(msg.Params)
			}
		default:
			c.mu.Lock()
			if ch, ok := c.pending[msg.ID]; ok {
				ch <- msg
				delete(c.pending, msg.ID)
			}
			c.mu.Unlock()
		}
	}
}

// serveRequest answers a server-to-client request. Unknown methods get a
// method-not-found error so the server does not hang on the reply.
func (c *Conn) serveRequest(msg *Message) {
	c.mu.Lock()
	fn := c.requests[msg.Method]
	c.mu.Unlock()

	resp := Response{JSONRPC: "2.0", ID: msg.ID}
	if fn == nil {
		resp.Error = &Error{Code: -32601, Message: "method not found: " + msg.Method}
	} else if result, err := fn(msg.Params); err != nil {
		resp.Error = &Error{Code: -32603, Message: err.Error()}
	} else {
		resp.Result = result
	}

	if err := c.writeMessage(resp); err != nil {
		log := logging.Component("protocol")
		log.Debug().Err(err).
			Str("method", msg.Method).Msg("reply to server request failed")
	}
}

// readMessage reads one framed message: headers, blank line, JSON body.
func (c *Conn) readMessage() (*Message, error) {
	var contentLength int
	for {
		line, err := c.stdout.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if v, ok := strings.CutPrefix(line, "Content-Length:"); ok {
			contentLength, _ = strconv.Atoi(strings.TrimSpace(v))
		}
	}

	if contentLength <= 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(c.stdout, body); err != nil {
		return nil, err
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Call sends a request and waits for its response or context expiry.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("connection closed")
	}
	id := atomic.AddInt64(&c.nextID, 1)
	ch := make(chan *Message, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := c.writeMessage(req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return err
	}

	select {
	case msg := <-ch:
		if msg == nil {
			return fmt.Errorf("connection closed")
		}
		if msg.Error != nil {
			return fmt.Errorf("%s: server error %d: %s", method, msg.Error.Code, msg.Error.Message)
		}
		if result != nil && msg.Result != nil {
			return json.Unmarshal(msg.Result, result)
		}
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Notify sends a notification; no response is expected.
func (c *Conn) Notify(method string, params any) error {
	return c.writeMessage(Request{JSONRPC: "2.0", Method: method, Params: params})
}

// Close marks the connection closed and fails all pending calls. The read
// loop terminates when the underlying stream reports EOF.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, ch := range c.pending {
		close(ch)
	}
	c.pending = make(map[int64]chan *Message)
}

func (c *Conn) writeMessage(msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := fmt.Fprintf(c.stdin, "Content-Length: %d\r\n\r\n", len(body)); err != nil {
		return err
	}
	_, err = c.stdin.Write(body)
	return err
}
