// Package rpc multiplexes schema-validated, correlated request/response
// pairs over a transport.Channel in both directions, per spec §4.C.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/durablehost/go-sdk/internal/schema"
	"github.com/durablehost/go-sdk/internal/transport"
)

// DefaultTimeout bounds how long Send waits for a correlating response
// frame before failing with ErrTimeout.
const DefaultTimeout = 30 * time.Second

// ErrTimeout is returned by Send when no response frame arrives in time.
var ErrTimeout = errors.New("rpc: timed out waiting for response")

// ErrClosed is returned by Send when called with no channel bound.
var ErrClosed = errors.New("rpc: no channel bound")

// Handler processes an inbound server→client call. The returned value is
// marshaled as the response's "value"; returning an error writes
// {ok:false, error} instead, per spec §4.C.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

type pendingResponse struct {
	done chan Frame
}

// Client is the bidirectional RPC layer. One Client is created per
// connection lifetime and rebound across reconnects via ResetConnection —
// pending requests are never discarded on rebind, only on timeout.
type Client struct {
	outbound Catalog
	inbound  Catalog
	logger   *zap.Logger
	timeout  time.Duration

	mu      sync.Mutex
	channel transport.Channel
	pending map[string]*pendingResponse

	handlersMu sync.RWMutex
	handlers   map[string]Handler
}

// New creates an RPC Client. outbound is validated/dispatched by Send;
// inbound is validated/dispatched by the handlers registered via Handle.
func New(outbound, inbound Catalog, logger *zap.Logger) *Client {
	return &Client{
		outbound: outbound,
		inbound:  inbound,
		logger:   logger.Named("rpc"),
		timeout:  DefaultTimeout,
		pending:  make(map[string]*pendingResponse),
		handlers: make(map[string]Handler),
	}
}

// Handle registers fn as the handler for the named server→client method.
// Must be called before ResetConnection so no TRIGGER_WORKFLOW (or any
// other inbound call) races a missing handler.
func (c *Client) Handle(method string, fn Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[method] = fn
}

// ResetConnection rebinds the channel the client reads from and writes to,
// without discarding any pending outbound request — an in-flight request
// that outlives the swap either gets answered by the new connection or
// times out on its own, per spec §4.C.
func (c *Client) ResetConnection(ch transport.Channel) {
	c.mu.Lock()
	c.channel = ch
	c.mu.Unlock()

	go c.readLoop(ch)
}

func (c *Client) readLoop(ch transport.Channel) {
	for raw := range ch.Messages() {
		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.logger.Warn("discarding malformed frame", zap.Error(err))
			continue
		}

		switch frame.Kind {
		case KindResponseFrame:
			c.dispatchResponse(frame)
		case KindRequestFrame:
			// Each inbound call is handled in its own goroutine so a slow
			// handler (e.g. a long user workflow function) never blocks
			// delivery of frames for other runs — ordering of arrival is
			// preserved by the read loop itself; handler completion order
			// is not, per spec §4.C/§5.
			go c.dispatchRequest(ch, frame)
		default:
			c.logger.Warn("discarding frame with unknown kind", zap.String("kind", string(frame.Kind)))
		}
	}
}

func (c *Client) dispatchResponse(frame Frame) {
	c.mu.Lock()
	pr, ok := c.pending[frame.ID]
	if ok {
		delete(c.pending, frame.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("response for unknown correlation id, ignoring", zap.String("id", frame.ID))
		return
	}
	pr.done <- frame
}

func (c *Client) dispatchRequest(ch transport.Channel, frame Frame) {
	ctx := context.Background()

	method, ok := c.inbound.Lookup(frame.Method)
	if !ok {
		c.writeErrorResponse(ch, frame.ID, &Error{Name: "UnknownMethod", Message: "unknown method: " + frame.Method})
		return
	}
	if method.Request != nil {
		if err := schema.ValidateJSON(method.Request, frame.Payload); err != nil {
			c.writeErrorResponse(ch, frame.ID, &Error{Name: "ValidationError", Message: schema.Flatten(err)})
			return
		}
	}

	c.handlersMu.RLock()
	handler, ok := c.handlers[frame.Method]
	c.handlersMu.RUnlock()
	if !ok {
		c.writeErrorResponse(ch, frame.ID, &Error{Name: "UnhandledMethod", Message: "no handler registered for " + frame.Method})
		return
	}

	value, err := handler(ctx, frame.Payload)
	if err != nil {
		c.writeErrorResponse(ch, frame.ID, &Error{Name: "HandlerError", Message: err.Error()})
		return
	}

	valueJSON, err := json.Marshal(value)
	if err != nil {
		c.writeErrorResponse(ch, frame.ID, &Error{Name: "MarshalError", Message: err.Error()})
		return
	}

	ok2 := true
	resp := Frame{Kind: KindResponseFrame, ID: frame.ID, OK: &ok2, Value: valueJSON}
	c.writeFrame(ch, resp)
}

func (c *Client) writeErrorResponse(ch transport.Channel, id string, rpcErr *Error) {
	ok := false
	resp := Frame{Kind: KindResponseFrame, ID: id, OK: &ok, Error: rpcErr}
	c.writeFrame(ch, resp)
}

func (c *Client) writeFrame(ch transport.Channel, frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error("failed to marshal frame", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeFrameTimeout)
	defer cancel()
	if err := ch.Send(ctx, data); err != nil {
		c.logger.Warn("failed to write frame", zap.Error(err))
	}
}

const writeFrameTimeout = 10 * time.Second

// Send validates payload against method's request schema, writes a
// correlated request frame, and blocks until the matching response frame
// arrives, ctx is cancelled, or the RPC timeout elapses. On success the
// response's value is validated against method's response schema (when
// one is declared) and returned as raw JSON.
func (c *Client) Send(ctx context.Context, methodName string, payload any) (json.RawMessage, error) {
	method, ok := c.outbound.Lookup(methodName)
	if !ok {
		return nil, fmt.Errorf("rpc: unknown outbound method %q", methodName)
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("rpc: failed to marshal payload for %s: %w", methodName, err)
	}
	if method.Request != nil {
		if err := schema.ValidateJSON(method.Request, payloadJSON); err != nil {
			return nil, fmt.Errorf("rpc: request payload for %s failed validation: %w", methodName, err)
		}
	}

	c.mu.Lock()
	ch := c.channel
	if ch == nil {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	id := uuid.NewString()
	pr := &pendingResponse{done: make(chan Frame, 1)}
	c.pending[id] = pr
	c.mu.Unlock()

	frame := Frame{Kind: KindRequestFrame, ID: id, Method: methodName, Payload: payloadJSON}
	data, err := json.Marshal(frame)
	if err != nil {
		c.forgetPending(id)
		return nil, fmt.Errorf("rpc: failed to marshal frame: %w", err)
	}

	if err := ch.Send(ctx, data); err != nil {
		c.forgetPending(id)
		return nil, fmt.Errorf("rpc: failed to write request: %w", err)
	}

	timeout := c.timeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-pr.done:
		if resp.OK != nil && !*resp.OK {
			if resp.Error != nil {
				return nil, resp.Error
			}
			return nil, fmt.Errorf("rpc: %s rejected with no error detail", methodName)
		}
		if method.Response != nil {
			if err := schema.ValidateJSON(method.Response, resp.Value); err != nil {
				return nil, fmt.Errorf("rpc: response for %s failed validation: %w", methodName, err)
			}
		}
		return resp.Value, nil

	case <-ctx.Done():
		c.forgetPending(id)
		return nil, ctx.Err()

	case <-timer.C:
		c.forgetPending(id)
		return nil, fmt.Errorf("%w: %s", ErrTimeout, methodName)
	}
}

func (c *Client) forgetPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
