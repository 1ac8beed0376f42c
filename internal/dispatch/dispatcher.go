// ABOUTME: Tool dispatcher: in-process method table and envelope routing.
// ABOUTME: Turns inbound JSON-RPC requests into result or error envelopes.

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tonklabs/toolmesh/internal/dedupe"
)

// ErrInvalidHandler indicates RegisterTool was called without a callable handler.
var ErrInvalidHandler = errors.New("handler must not be nil")

// Handler executes a tool call. Handlers are not serialized per method and
// get no timeout from the dispatcher; they must be safe for concurrent
// invocation and callers wanting bounded latency wrap the context.
type Handler func(ctx context.Context, params []any) (any, error)

// Metadata describes a tool for discovery and registry publication.
type Metadata struct {
	Description string
	PriceInTNK  string
	Category    string
	ServiceID   string
}

// ToolInfo is a snapshot row returned by ListTools.
type ToolInfo struct {
	Method      string `json:"method"`
	Description string `json:"description"`
	PriceInTNK  string `json:"priceInTNK"`
	Category    string `json:"category"`
	ServiceID   string `json:"serviceId"`
}

// Publisher publishes a registered tool into the shared service registry.
// Publication is best-effort: the dispatcher logs failures and never
// surfaces them to the registering caller.
type Publisher interface {
	Publish(ctx context.Context, method string, meta Metadata) error
}

// tool pairs a handler with its metadata.
type tool struct {
	handler Handler
	meta    Metadata
}

// Dispatcher owns the in-process tool table. Registrations are not
// persisted; providers replay them on process start.
type Dispatcher struct {
	logger    *slog.Logger
	publisher Publisher
	allowed   map[string]struct{} // nil means every channel is ours
	answered  *dedupe.Cache       // optional answered-frame replay

	mu    sync.RWMutex
	tools map[string]*tool
	order []string // method names in first-registration order
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithChannels restricts the dispatcher to the named channels; messages on
// any other channel are not ours to answer.
func WithChannels(channels ...string) Option {
	return func(d *Dispatcher) {
		d.allowed = make(map[string]struct{}, len(channels))
		for _, ch := range channels {
			d.allowed[ch] = struct{}{}
		}
	}
}

// WithPublisher wires best-effort registry publication of registered tools.
func WithPublisher(p Publisher) Option {
	return func(d *Dispatcher) { d.publisher = p }
}

// WithDuplicateSuppression re-sends the prior answer for repeated frames
// carrying the same request id from the same sender within ttl. Broadcast
// transports can deliver a frame more than once; replaying the stored
// envelope keeps the handler from double-executing while every conforming
// request still gets its response. Request ids are only unique per
// requester, so the sender is part of the identity: two peers reusing id 1
// are two distinct requests.
func WithDuplicateSuppression(ttl time.Duration, maxTracked int) Option {
	return func(d *Dispatcher) { d.answered = dedupe.New(ttl, maxTracked) }
}

// New creates a Dispatcher with an empty tool table.
func New(logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger: logger.With("component", "dispatch"),
		tools:  make(map[string]*tool),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RegisterTool installs handler under method, overwriting any prior
// registration for the same name. When a publisher is configured and
// metadata is provided, a matching service record is published
// asynchronously; publication failures are logged, never returned.
func (d *Dispatcher) RegisterTool(method string, handler Handler, meta *Metadata) error {
	if handler == nil {
		return ErrInvalidHandler
	}

	var m Metadata
	if meta != nil {
		m = *meta
	}

	d.mu.Lock()
	_, existed := d.tools[method]
	d.tools[method] = &tool{handler: handler, meta: m}
	if !existed {
		d.order = append(d.order, method)
	}
	d.mu.Unlock()

	d.logger.Info("tool registered", "method", method, "overwrote", existed)

	if d.publisher != nil && meta != nil {
		go func() {
			if err := d.publisher.Publish(context.Background(), method, m); err != nil {
				d.logger.Warn("tool publication failed", "method", method, "error", err)
			}
		}()
	}

	return nil
}

// ListTools returns a snapshot of the table in first-registration order.
func (d *Dispatcher) ListTools() []ToolInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	infos := make([]ToolInfo, 0, len(d.order))
	for _, method := range d.order {
		t := d.tools[method]
		infos = append(infos, ToolInfo{
			Method:      method,
			Description: t.meta.Description,
			PriceInTNK:  t.meta.PriceInTNK,
			Category:    t.meta.Category,
			ServiceID:   t.meta.ServiceID,
		})
	}
	return infos
}

// HandleMessage inspects a frame received on channel and returns the
// response envelope to broadcast back, or nil when the frame is not a
// request for this dispatcher: wrong channel, non-conforming payload, or a
// notification. A re-delivered frame gets its original answer again rather
// than a second handler execution.
func (d *Dispatcher) HandleMessage(ctx context.Context, channel string, payload any, conn *ConnInfo) *Envelope {
	if d.allowed != nil {
		if _, ours := d.allowed[channel]; !ours {
			return nil
		}
	}

	req := parseRequest(payload)
	if req == nil {
		return nil
	}

	var frameKey string
	if d.answered != nil {
		peer := ""
		if conn != nil {
			peer = conn.PeerPubKey
		}
		frameKey = fmt.Sprintf("%s|%s|%s|%T:%v", channel, peer, req.Method, req.ID, req.ID)
		if prior, ok := d.answered.Get(frameKey); ok {
			if env, ok := prior.(*Envelope); ok {
				d.logger.Debug("re-sending answer for repeated frame",
					"channel", channel, "method", req.Method)
				return env
			}
		}
	}

	env := d.dispatch(ctx, channel, req, conn)
	if d.answered != nil {
		d.answered.Put(frameKey, env)
	}
	return env
}

func (d *Dispatcher) dispatch(ctx context.Context, channel string, req *Request, conn *ConnInfo) *Envelope {
	d.mu.RLock()
	t, ok := d.tools[req.Method]
	d.mu.RUnlock()

	if !ok {
		d.logger.Warn("method not found", "channel", channel, "method", req.Method)
		return ErrorEnvelope(req.ID, CodeMethodNotFound, "Method not found")
	}

	if conn != nil {
		ctx = WithConnInfo(ctx, conn)
	}

	result, err := t.handler(ctx, req.Params)
	if err != nil {
		d.logger.Warn("handler failed",
			"channel", channel,
			"method", req.Method,
			"error", err,
		)
		return ErrorEnvelope(req.ID, CodeHandlerFailure, err.Error())
	}

	// A handler returning nothing still yields a valid "result":null.
	return ResultEnvelope(req.ID, result)
}
