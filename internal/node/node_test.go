// ABOUTME: Tests for node assembly and the end-to-end serve loop.
// ABOUTME: Runs a node on a memory store and exchanges envelopes over its bus.

package node

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonklabs/toolmesh/internal/capability"
	"github.com/tonklabs/toolmesh/internal/config"
	"github.com/tonklabs/toolmesh/internal/dispatch"
	"github.com/tonklabs/toolmesh/internal/identity"
	"github.com/tonklabs/toolmesh/internal/transport"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Identity: config.IdentityConfig{Keyfile: filepath.Join(t.TempDir(), "mesh.key")},
		Store:    config.StoreConfig{Backend: "memory"},
		Channels: config.ChannelsConfig{
			Serve: []string{"tools"},
			Admission: map[string]config.AdmissionConfig{
				"ops": {RequireInvite: true},
			},
		},
		Invites: config.InvitesConfig{DefaultTTL: time.Hour},
		Logging: config.LoggingConfig{Level: "info"},
	}
}

func TestNewGeneratesIdentityOnce(t *testing.T) {
	cfg := testConfig(t)

	n1, err := New(cfg, slog.Default())
	require.NoError(t, err)

	n2, err := New(cfg, slog.Default())
	require.NoError(t, err)

	assert.Equal(t, n1.Identity().Address(), n2.Identity().Address(),
		"second start must reuse the persisted keyfile")
}

func TestNodeAnswersOverBus(t *testing.T) {
	cfg := testConfig(t)
	n, err := New(cfg, slog.Default())
	require.NoError(t, err)

	require.NoError(t, n.RegisterTool("calc.add", func(ctx context.Context, params []any) (any, error) {
		sum := 0.0
		for _, p := range params {
			sum += p.(float64)
		}
		return sum, nil
	}, &dispatch.Metadata{Description: "adds", PriceInTNK: "0.10", ServiceID: "svc-add"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	consumer, _ := n.Bus().Subscribe(ctx, "tools")

	// Run subscribes asynchronously, so repeat the request until answered.
	// Duplicate suppression keeps the handler from running twice.
	request := []byte(`{"jsonrpc":"2.0","method":"calc.add","params":[5,3],"id":1}`)
	resend := time.NewTicker(50 * time.Millisecond)
	defer resend.Stop()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-resend.C:
			n.Bus().Broadcast("tools", request)
		case frame := <-consumer:
			var decoded map[string]any
			require.NoError(t, json.Unmarshal(frame.Payload, &decoded))
			if _, isRequest := decoded["method"]; isRequest {
				continue
			}
			assert.JSONEq(t, `{"jsonrpc":"2.0","result":8,"id":1}`, string(frame.Payload))
			return
		case <-deadline:
			t.Fatal("no response frame")
		}
	}
}

func TestNodePublishesToolsToRegistry(t *testing.T) {
	cfg := testConfig(t)
	n, err := New(cfg, slog.Default())
	require.NoError(t, err)

	require.NoError(t, n.RegisterTool("calc.add", func(ctx context.Context, params []any) (any, error) {
		return nil, nil
	}, &dispatch.Metadata{Description: "adds", PriceInTNK: "0.10", ServiceID: "svc-add"}))

	// Publication is asynchronous; poll briefly.
	ctx := context.Background()
	require.Eventually(t, func() bool {
		rec, err := n.Registry().Get(ctx, "svc-add")
		return err == nil && rec.Active
	}, 2*time.Second, 10*time.Millisecond)

	rec, err := n.Registry().Get(ctx, "svc-add")
	require.NoError(t, err)
	assert.Equal(t, n.Identity().Address(), rec.ProviderAddress)
	assert.Equal(t, "calc.add", rec.Method)
}

func TestNodeAdmissionPolicies(t *testing.T) {
	cfg := testConfig(t)
	n, err := New(cfg, slog.Default())
	require.NoError(t, err)

	guest, err := identity.Generate()
	require.NoError(t, err)

	// Open channel admits anyone; the configured "ops" channel needs an invite.
	assert.NoError(t, n.Keeper().Admit("tools", guest.PublicKeyHex(), nil))
	assert.ErrorIs(t, n.Keeper().Admit("ops", guest.PublicKeyHex(), nil), capability.ErrAdmissionDenied)

	invite, err := n.Keeper().IssueInvite("ops", guest.PublicKeyHex(), 0, n.Identity())
	require.NoError(t, err, "default TTL from config applies")
	assert.NoError(t, n.Keeper().Admit("ops", guest.PublicKeyHex(), invite))
}

func TestNodeGatedChannelEnforcement(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channels.Serve = []string{"ops"}

	n, err := New(cfg, slog.Default())
	require.NoError(t, err)

	guest, err := identity.Generate()
	require.NoError(t, err)
	stranger, err := identity.Generate()
	require.NoError(t, err)

	invite, err := n.Keeper().IssueInvite("ops", guest.PublicKeyHex(), 0, n.Identity())
	require.NoError(t, err)
	inviteJSON, err := json.Marshal(invite)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	consumer, _ := n.Bus().Subscribe(ctx, "ops")

	strangerFrame := transport.Frame{
		Channel:      "ops",
		SenderPubKey: stranger.PublicKeyHex(),
		Payload:      []byte(`{"jsonrpc":"2.0","method":"mesh.ping","params":[],"id":"no-1"}`),
	}
	guestFrame := transport.Frame{
		Channel:      "ops",
		SenderPubKey: guest.PublicKeyHex(),
		Payload:      []byte(`{"jsonrpc":"2.0","method":"mesh.ping","params":[],"id":"ok-1"}`),
		Invite:       inviteJSON,
	}

	resend := time.NewTicker(50 * time.Millisecond)
	defer resend.Stop()
	deadline := time.After(2 * time.Second)

	responded := func(frame transport.Frame) (string, bool) {
		var decoded map[string]any
		if json.Unmarshal(frame.Payload, &decoded) != nil {
			return "", false
		}
		if _, isRequest := decoded["method"]; isRequest {
			return "", false
		}
		id, _ := decoded["id"].(string)
		return id, true
	}

	// The stranger's frames precede the guest's each round; the serve loop
	// is FIFO per subscription, so the first answer proves every earlier
	// stranger frame was dropped.
	for answered := false; !answered; {
		select {
		case <-resend.C:
			n.Bus().BroadcastFrame(strangerFrame)
			n.Bus().BroadcastFrame(guestFrame)
		case frame := <-consumer:
			id, isResponse := responded(frame)
			if !isResponse {
				continue
			}
			require.NotEqual(t, "no-1", id, "uninvited peer must never be answered")
			if id == "ok-1" {
				answered = true
			}
		case <-deadline:
			t.Fatal("invited peer got no response on the gated channel")
		}
	}

	// Admission is memoized: the guest's next frame needs no invite.
	n.Bus().BroadcastFrame(transport.Frame{
		Channel:      "ops",
		SenderPubKey: guest.PublicKeyHex(),
		Payload:      []byte(`{"jsonrpc":"2.0","method":"mesh.ping","params":[],"id":"ok-2"}`),
	})

	deadline = time.After(2 * time.Second)
	for {
		select {
		case frame := <-consumer:
			id, isResponse := responded(frame)
			if !isResponse {
				continue
			}
			require.NotEqual(t, "no-1", id)
			if id == "ok-2" {
				return
			}
		case <-deadline:
			t.Fatal("admitted peer's follow-up frame got no response")
		}
	}
}

func TestNodeBuiltinTools(t *testing.T) {
	cfg := testConfig(t)
	n, err := New(cfg, slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	consumer, _ := n.Bus().Subscribe(ctx, "tools")

	request := []byte(`{"jsonrpc":"2.0","method":"mesh.ping","params":[],"id":"p1"}`)
	resend := time.NewTicker(50 * time.Millisecond)
	defer resend.Stop()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-resend.C:
			n.Bus().Broadcast("tools", request)
		case frame := <-consumer:
			var decoded map[string]any
			require.NoError(t, json.Unmarshal(frame.Payload, &decoded))
			if _, isRequest := decoded["method"]; isRequest {
				continue
			}
			assert.Equal(t, "pong", decoded["result"])
			return
		case <-deadline:
			t.Fatal("no pong")
		}
	}
}
