// ABOUTME: Tests for tool registration, message routing, and error shaping.
// ABOUTME: Covers channel allow-lists, unknown methods, handler failures, and publication.

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonklabs/toolmesh/internal/registry"
	"github.com/tonklabs/toolmesh/internal/store"
)

func addHandler(ctx context.Context, params []any) (any, error) {
	sum := 0.0
	for _, p := range params {
		n, ok := p.(float64)
		if !ok {
			return nil, errors.New("params must be numbers")
		}
		sum += n
	}
	return sum, nil
}

func TestRegisterTool(t *testing.T) {
	t.Run("nil handler rejected", func(t *testing.T) {
		d := New(slog.Default())
		assert.ErrorIs(t, d.RegisterTool("calc.add", nil, nil), ErrInvalidHandler)
	})

	t.Run("last write wins without error", func(t *testing.T) {
		d := New(slog.Default())
		require.NoError(t, d.RegisterTool("echo", func(ctx context.Context, params []any) (any, error) {
			return "first", nil
		}, nil))
		require.NoError(t, d.RegisterTool("echo", func(ctx context.Context, params []any) (any, error) {
			return "second", nil
		}, nil))

		env := d.HandleMessage(context.Background(), "ch", `{"jsonrpc":"2.0","method":"echo","id":1}`, nil)
		require.NotNil(t, env)
		assert.Equal(t, "second", env.Result)
	})
}

func TestHandleMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("routes and answers", func(t *testing.T) {
		d := New(slog.Default())
		require.NoError(t, d.RegisterTool("calc.add", addHandler, nil))

		env := d.HandleMessage(ctx, "tools", `{"jsonrpc":"2.0","method":"calc.add","params":[5,3],"id":1}`, nil)
		require.NotNil(t, env)

		raw, err := json.Marshal(env)
		require.NoError(t, err)
		assert.JSONEq(t, `{"jsonrpc":"2.0","result":8,"id":1}`, string(raw))
	})

	t.Run("unknown method yields -32601", func(t *testing.T) {
		d := New(slog.Default())
		env := d.HandleMessage(ctx, "tools", `{"jsonrpc":"2.0","method":"nope","id":2}`, nil)
		require.NotNil(t, env)
		require.NotNil(t, env.Err)
		assert.Equal(t, CodeMethodNotFound, env.Err.Code)
		assert.Equal(t, "Method not found", env.Err.Message)
	})

	t.Run("handler failure yields -32000 with message", func(t *testing.T) {
		d := New(slog.Default())
		require.NoError(t, d.RegisterTool("boom", func(ctx context.Context, params []any) (any, error) {
			return nil, errors.New("kaboom")
		}, nil))

		env := d.HandleMessage(ctx, "tools", `{"jsonrpc":"2.0","method":"boom","id":3}`, nil)
		require.NotNil(t, env)
		require.NotNil(t, env.Err)
		assert.Equal(t, CodeHandlerFailure, env.Err.Code)
		assert.Equal(t, "kaboom", env.Err.Message)
	})

	t.Run("nil handler result still answers", func(t *testing.T) {
		d := New(slog.Default())
		require.NoError(t, d.RegisterTool("fire", func(ctx context.Context, params []any) (any, error) {
			return nil, nil
		}, nil))

		env := d.HandleMessage(ctx, "tools", `{"jsonrpc":"2.0","method":"fire","id":4}`, nil)
		require.NotNil(t, env)
		require.Nil(t, env.Err)
		assert.Nil(t, env.Result)
	})

	t.Run("channel not in allow-list is ignored", func(t *testing.T) {
		d := New(slog.Default(), WithChannels("mine"))
		require.NoError(t, d.RegisterTool("calc.add", addHandler, nil))

		assert.Nil(t, d.HandleMessage(ctx, "other", `{"jsonrpc":"2.0","method":"calc.add","id":1}`, nil))
		assert.NotNil(t, d.HandleMessage(ctx, "mine", `{"jsonrpc":"2.0","method":"calc.add","id":1}`, nil))
	})

	t.Run("non-conforming traffic is ignored", func(t *testing.T) {
		d := New(slog.Default())
		assert.Nil(t, d.HandleMessage(ctx, "tools", "just a chat line", nil))
		assert.Nil(t, d.HandleMessage(ctx, "tools", `{"jsonrpc":"2.0","method":"m"}`, nil), "notification")
	})

	t.Run("conn info reaches the handler", func(t *testing.T) {
		d := New(slog.Default())
		var seen *ConnInfo
		require.NoError(t, d.RegisterTool("whoami", func(ctx context.Context, params []any) (any, error) {
			seen = ConnInfoFrom(ctx)
			return nil, nil
		}, nil))

		conn := &ConnInfo{PeerPubKey: "abcd", Channel: "tools"}
		d.HandleMessage(ctx, "tools", `{"jsonrpc":"2.0","method":"whoami","id":1}`, conn)
		require.NotNil(t, seen)
		assert.Equal(t, "abcd", seen.PeerPubKey)
	})

	t.Run("re-delivered frame gets the same answer once", func(t *testing.T) {
		d := New(slog.Default(), WithDuplicateSuppression(time.Minute, 100))

		var executions int
		require.NoError(t, d.RegisterTool("calc.add", func(ctx context.Context, params []any) (any, error) {
			executions++
			return addHandler(ctx, params)
		}, nil))

		frame := `{"jsonrpc":"2.0","method":"calc.add","params":[1,2],"id":"dup-1"}`
		conn := &ConnInfo{PeerPubKey: "peer-a"}

		first := d.HandleMessage(ctx, "tools", frame, conn)
		require.NotNil(t, first)
		second := d.HandleMessage(ctx, "tools", frame, conn)
		require.NotNil(t, second, "a repeated delivery still gets a response")
		assert.Equal(t, first, second)
		assert.Equal(t, 1, executions, "handler must not run twice for one request")
	})

	t.Run("same id from different peers are distinct requests", func(t *testing.T) {
		d := New(slog.Default(), WithDuplicateSuppression(time.Minute, 100))

		var executions int
		require.NoError(t, d.RegisterTool("calc.add", func(ctx context.Context, params []any) (any, error) {
			executions++
			return addHandler(ctx, params)
		}, nil))

		frame := `{"jsonrpc":"2.0","method":"calc.add","params":[1,2],"id":1}`
		fromA := d.HandleMessage(ctx, "tools", frame, &ConnInfo{PeerPubKey: "peer-a"})
		fromB := d.HandleMessage(ctx, "tools", frame, &ConnInfo{PeerPubKey: "peer-b"})

		require.NotNil(t, fromA)
		require.NotNil(t, fromB, "another peer reusing an id must still be answered")
		assert.Equal(t, 2, executions)
	})

	t.Run("retry after an error envelope is answered again", func(t *testing.T) {
		d := New(slog.Default(), WithDuplicateSuppression(time.Minute, 100))
		require.NoError(t, d.RegisterTool("boom", func(ctx context.Context, params []any) (any, error) {
			return nil, errors.New("kaboom")
		}, nil))

		frame := `{"jsonrpc":"2.0","method":"boom","id":"r-1"}`
		conn := &ConnInfo{PeerPubKey: "peer-a"}

		first := d.HandleMessage(ctx, "tools", frame, conn)
		require.NotNil(t, first)
		require.NotNil(t, first.Err)

		retry := d.HandleMessage(ctx, "tools", frame, conn)
		require.NotNil(t, retry, "a retried request must get a response")
		require.NotNil(t, retry.Err)
		assert.Equal(t, CodeHandlerFailure, retry.Err.Code)
	})
}

func TestListTools(t *testing.T) {
	d := New(slog.Default())
	require.NoError(t, d.RegisterTool("calc.add", addHandler, &Metadata{
		Description: "adds numbers",
		PriceInTNK:  "0.10",
		Category:    "math",
		ServiceID:   "svc-add",
	}))
	require.NoError(t, d.RegisterTool("text.upper", func(ctx context.Context, params []any) (any, error) {
		return nil, nil
	}, nil))

	tools := d.ListTools()
	require.Len(t, tools, 2)
	assert.Equal(t, "calc.add", tools[0].Method, "registration order preserved")
	assert.Equal(t, "adds numbers", tools[0].Description)
	assert.Equal(t, "0.10", tools[0].PriceInTNK)
	assert.Equal(t, "svc-add", tools[0].ServiceID)
	assert.Equal(t, "text.upper", tools[1].Method)
}

// signalingPublisher records publications and signals a channel per call.
type signalingPublisher struct {
	mu       sync.Mutex
	calls    []string
	failWith error
	done     chan struct{}
}

func (p *signalingPublisher) Publish(ctx context.Context, method string, meta Metadata) error {
	p.mu.Lock()
	p.calls = append(p.calls, method)
	p.mu.Unlock()
	p.done <- struct{}{}
	return p.failWith
}

func TestRegisterToolPublishes(t *testing.T) {
	t.Run("metadata triggers publication", func(t *testing.T) {
		pub := &signalingPublisher{done: make(chan struct{}, 1)}
		d := New(slog.Default(), WithPublisher(pub))

		require.NoError(t, d.RegisterTool("calc.add", addHandler, &Metadata{Description: "adds"}))

		select {
		case <-pub.done:
		case <-time.After(time.Second):
			t.Fatal("expected publication")
		}
		assert.Equal(t, []string{"calc.add"}, pub.calls)
	})

	t.Run("no metadata no publication", func(t *testing.T) {
		pub := &signalingPublisher{done: make(chan struct{}, 1)}
		d := New(slog.Default(), WithPublisher(pub))

		require.NoError(t, d.RegisterTool("calc.add", addHandler, nil))

		select {
		case <-pub.done:
			t.Fatal("unexpected publication")
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("publication failure never fails registration", func(t *testing.T) {
		pub := &signalingPublisher{done: make(chan struct{}, 1), failWith: errors.New("not permitted")}
		d := New(slog.Default(), WithPublisher(pub))

		err := d.RegisterTool("calc.add", addHandler, &Metadata{Description: "adds"})
		assert.NoError(t, err)
		<-pub.done

		// The tool is callable regardless of the failed publication.
		env := d.HandleMessage(context.Background(), "tools", `{"jsonrpc":"2.0","method":"calc.add","params":[2,2],"id":1}`, nil)
		require.NotNil(t, env)
		assert.Equal(t, float64(4), env.Result)
	})
}

func TestRegistryPublisher(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(store.NewMemoryStore(), slog.Default())
	pub := NewRegistryPublisher(reg, "addr-provider")

	require.NoError(t, pub.Publish(ctx, "calc.add", Metadata{
		Description: "adds numbers",
		PriceInTNK:  "0.10",
		Category:    "math",
		ServiceID:   "svc-add",
	}))

	rec, err := reg.Get(ctx, "svc-add")
	require.NoError(t, err)
	assert.Equal(t, "calc.add", rec.Method)
	assert.Equal(t, "addr-provider", rec.ProviderAddress)
	assert.True(t, rec.Active)

	t.Run("service id defaults to method", func(t *testing.T) {
		require.NoError(t, pub.Publish(ctx, "text.upper", Metadata{PriceInTNK: "0"}))
		rec, err := reg.Get(ctx, "text.upper")
		require.NoError(t, err)
		assert.Equal(t, "text.upper", rec.ServiceID)
	})

	t.Run("replayed registration surfaces AlreadyExists", func(t *testing.T) {
		err := pub.Publish(ctx, "calc.add", Metadata{ServiceID: "svc-add", PriceInTNK: "0.10"})
		assert.ErrorIs(t, err, registry.ErrAlreadyExists)
	})
}
