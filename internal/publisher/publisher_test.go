package publisher

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitroproof/tee-prover/internal/enclavesrv"
	"github.com/nitroproof/tee-prover/internal/objectstore"
	"github.com/nitroproof/tee-prover/internal/proverengine"
)

type stubAttester struct{}

func (stubAttester) Attest(pubKeySEC1 []byte, version uint32) ([]byte, error) {
	return append([]byte{byte(version)}, pubKeySEC1...), nil
}

func newTestDialer(t *testing.T) Dialer {
	t.Helper()
	d, err := enclavesrv.New(enclavesrv.Config{
		Attester: stubAttester{},
		Engine:   proverengine.FibonacciEngine{},
	})
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go d.Serve(l) //nolint:errcheck
	t.Cleanup(func() { _ = l.Close() })

	addr := l.Addr().String()
	return func(ctx context.Context) (net.Conn, error) {
		var dialer net.Dialer
		return dialer.DialContext(ctx, "tcp", addr)
	}
}

func TestPublishOnceStoresAttestationUnderDerivedAddress(t *testing.T) {
	store := objectstore.NewMemStore()
	p := &Publisher{Dial: newTestDialer(t), Store: store}

	require.NoError(t, p.PublishOnce(context.Background()))

	keys, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], "0x")
}

func TestPublishOnceIsIdempotent(t *testing.T) {
	store := objectstore.NewMemStore()
	p := &Publisher{Dial: newTestDialer(t), Store: store}

	require.NoError(t, p.PublishOnce(context.Background()))
	require.NoError(t, p.PublishOnce(context.Background()))

	keys, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	store := objectstore.NewMemStore()
	p := &Publisher{
		Dial:         newTestDialer(t),
		Store:        store,
		InitialDelay: time.Hour,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestRunRetriesOnFailureWithBackoff(t *testing.T) {
	store := objectstore.NewMemStore()
	// Dial always fails: Run must retry using Backoff rather than Interval.
	var dials atomic.Int32
	p := &Publisher{
		Dial: func(context.Context) (net.Conn, error) {
			dials.Add(1)
			return nil, assertErr
		},
		Store:        store,
		InitialDelay: time.Millisecond,
		Backoff:      5 * time.Millisecond,
		Interval:     time.Hour,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	// With a one-hour Interval only a single attempt could fit in 50ms; more
	// than one means the 5ms Backoff was used after each failure.
	assert.GreaterOrEqual(t, dials.Load(), int32(2))

	keys, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

var assertErr = &dialError{"dial always fails in this test"}

type dialError struct{ msg string }

func (e *dialError) Error() string { return e.msg }
