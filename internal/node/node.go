// ABOUTME: Node assembles identity, store, registry, capability keeper, and dispatcher.
// ABOUTME: Runs the serve loop answering JSON-RPC frames on the configured channels.

package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/tonklabs/toolmesh/internal/capability"
	"github.com/tonklabs/toolmesh/internal/config"
	"github.com/tonklabs/toolmesh/internal/dispatch"
	"github.com/tonklabs/toolmesh/internal/identity"
	"github.com/tonklabs/toolmesh/internal/registry"
	"github.com/tonklabs/toolmesh/internal/store"
	"github.com/tonklabs/toolmesh/internal/transport"
)

// dupWindow is how long answered request ids are remembered.
const dupWindow = 5 * time.Minute

// Node is a single mesh peer: it serves tools on its channels, publishes
// them to the registry, and gates invite-only channels through the keeper.
type Node struct {
	cfg      *config.Config
	logger   *slog.Logger
	identity *identity.Identity

	store      store.Store
	registry   *registry.Registry
	keeper     *capability.Keeper
	dispatcher *dispatch.Dispatcher
	bus        *transport.Bus

	// admitted memoizes peers the keeper has let onto each channel, so an
	// invite is presented once, not on every frame.
	admittedMu sync.RWMutex
	admitted   map[string]map[string]struct{} // channel -> peer pubkey

	closeStore func() error
}

// New builds a Node from configuration. A missing keyfile is populated with
// a freshly generated identity.
func New(cfg *config.Config, logger *slog.Logger) (*Node, error) {
	id, err := loadOrCreateIdentity(cfg.Identity.Keyfile, logger)
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:      cfg,
		logger:   logger.With("component", "node"),
		identity: id,
		admitted: make(map[string]map[string]struct{}),
	}

	if err := n.openStore(); err != nil {
		return nil, err
	}

	n.registry = registry.New(n.store, logger)

	var keeperOpts []capability.Option
	if cfg.Invites.DefaultTTL > 0 {
		keeperOpts = append(keeperOpts, capability.WithDefaultTTL(cfg.Invites.DefaultTTL))
	}
	n.keeper = capability.NewKeeper(logger, keeperOpts...)
	for channel, admission := range cfg.Channels.Admission {
		n.keeper.SetPolicy(channel, capability.Policy{
			RequireInvite: admission.RequireInvite,
			SingleUse:     admission.SingleUse,
		})
	}

	n.dispatcher = dispatch.New(logger,
		dispatch.WithChannels(cfg.Channels.Serve...),
		dispatch.WithPublisher(dispatch.NewRegistryPublisher(n.registry, id.Address())),
		dispatch.WithDuplicateSuppression(dupWindow, 10000),
	)

	n.bus = transport.NewBus(id.PublicKeyHex(), logger)

	// The node's own response frames come back over the same channels.
	for _, channel := range cfg.Channels.Serve {
		n.markAdmitted(channel, id.PublicKeyHex())
	}

	if err := n.registerBuiltins(); err != nil {
		return nil, fmt.Errorf("registering builtin tools: %w", err)
	}

	return n, nil
}

func (n *Node) openStore() error {
	switch n.cfg.Store.Backend {
	case "memory":
		n.store = store.NewMemoryStore()
		n.closeStore = func() error { return nil }
	default:
		s, err := store.NewSQLiteStore(n.cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		n.store = s
		n.closeStore = s.Close
	}
	return nil
}

func loadOrCreateIdentity(keyfile string, logger *slog.Logger) (*identity.Identity, error) {
	id, err := identity.Load(keyfile)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading identity: %w", err)
	}

	id, err = identity.Generate()
	if err != nil {
		return nil, err
	}
	if err := id.Save(keyfile); err != nil {
		return nil, err
	}
	logger.Info("generated new identity", "keyfile", keyfile, "address", id.Address())
	return id, nil
}

// Identity returns the node's identity.
func (n *Node) Identity() *identity.Identity { return n.identity }

// Registry returns the node's registry client.
func (n *Node) Registry() *registry.Registry { return n.registry }

// Keeper returns the node's capability keeper.
func (n *Node) Keeper() *capability.Keeper { return n.keeper }

// Bus returns the node's loopback transport.
func (n *Node) Bus() *transport.Bus { return n.bus }

// RegisterTool installs a tool on the node's dispatcher.
func (n *Node) RegisterTool(method string, handler dispatch.Handler, meta *dispatch.Metadata) error {
	return n.dispatcher.RegisterTool(method, handler, meta)
}

// Run subscribes to the configured channels and answers requests until ctx
// is cancelled. Frames that are not requests for this node are ignored.
func (n *Node) Run(ctx context.Context) error {
	for _, channel := range n.cfg.Channels.Serve {
		frames, _ := n.bus.Subscribe(ctx, channel)
		go n.serveChannel(ctx, channel, frames)
	}

	n.logger.Info("node serving",
		"address", n.identity.Address(),
		"channels", n.cfg.Channels.Serve,
		"tools", len(n.dispatcher.ListTools()),
	)

	<-ctx.Done()
	n.logger.Info("node shutting down")
	return n.closeStore()
}

func (n *Node) serveChannel(ctx context.Context, channel string, frames <-chan transport.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			n.handleFrame(ctx, channel, frame)
		}
	}
}

func (n *Node) handleFrame(ctx context.Context, channel string, frame transport.Frame) {
	if err := n.admitFrame(channel, frame); err != nil {
		n.logger.Warn("frame rejected",
			"channel", channel,
			"peer", frame.SenderPubKey,
			"error", err,
		)
		return
	}

	conn := &dispatch.ConnInfo{
		PeerPubKey:  frame.SenderPubKey,
		PeerAddress: peerAddress(frame.SenderPubKey),
		Channel:     channel,
	}

	env := n.dispatcher.HandleMessage(ctx, channel, frame.Payload, conn)
	if env == nil {
		return
	}

	raw, err := json.Marshal(env)
	if err != nil {
		n.logger.Error("encoding response envelope", "channel", channel, "error", err)
		return
	}
	n.bus.Broadcast(channel, raw)
}

// admitFrame gates a frame through the channel's admission policy. A peer
// presents its invite once; later frames pass on the memoized admission.
// Rejection drops the frame without a response: an unadmitted peer gets
// nothing, not an error envelope.
func (n *Node) admitFrame(channel string, frame transport.Frame) error {
	n.admittedMu.RLock()
	_, ok := n.admitted[channel][frame.SenderPubKey]
	n.admittedMu.RUnlock()
	if ok {
		return nil
	}

	var invite *capability.Invite
	if len(frame.Invite) > 0 {
		parsed, err := capability.ParseInviteArg(string(frame.Invite))
		if err != nil {
			return err
		}
		invite = parsed
	}

	if err := n.keeper.Admit(channel, frame.SenderPubKey, invite); err != nil {
		return err
	}

	n.markAdmitted(channel, frame.SenderPubKey)
	return nil
}

func (n *Node) markAdmitted(channel, peerPubKey string) {
	n.admittedMu.Lock()
	defer n.admittedMu.Unlock()
	if n.admitted[channel] == nil {
		n.admitted[channel] = make(map[string]struct{})
	}
	n.admitted[channel][peerPubKey] = struct{}{}
}

func peerAddress(pubKeyHex string) string {
	pub, err := identity.ParsePublicKeyHex(pubKeyHex)
	if err != nil {
		return ""
	}
	return identity.AddressForKey(pub)
}

// registerBuiltins installs the node's own introspection tools. These are
// free to call and published like any provider tool.
func (n *Node) registerBuiltins() error {
	builtins := []struct {
		method  string
		handler dispatch.Handler
		meta    *dispatch.Metadata
	}{
		{
			method: "mesh.ping",
			handler: func(ctx context.Context, params []any) (any, error) {
				return "pong", nil
			},
			meta: &dispatch.Metadata{
				Description: "Liveness probe",
				PriceInTNK:  "0",
				Category:    "mesh",
				ServiceID:   "mesh-ping-" + shortAddr(n.identity.Address()),
			},
		},
		{
			method: "mesh.tools",
			handler: func(ctx context.Context, params []any) (any, error) {
				return n.dispatcher.ListTools(), nil
			},
			meta: &dispatch.Metadata{
				Description: "List tools served by this node",
				PriceInTNK:  "0",
				Category:    "mesh",
				ServiceID:   "mesh-tools-" + shortAddr(n.identity.Address()),
			},
		},
		{
			method: "mesh.services",
			handler: func(ctx context.Context, params []any) (any, error) {
				records, err := n.registry.List(ctx)
				if err != nil {
					return nil, err
				}
				return records, nil
			},
			meta: &dispatch.Metadata{
				Description: "List active services in the shared registry",
				PriceInTNK:  "0",
				Category:    "mesh",
				ServiceID:   "mesh-services-" + shortAddr(n.identity.Address()),
			},
		},
	}

	for _, b := range builtins {
		if err := n.dispatcher.RegisterTool(b.method, b.handler, b.meta); err != nil {
			return err
		}
	}
	return nil
}

// shortAddr keeps builtin service ids inside the registry's id length cap.
func shortAddr(addr string) string {
	if len(addr) > 16 {
		return addr[:16]
	}
	return addr
}
