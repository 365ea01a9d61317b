package client

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/KevoDB/tinynvs/pkg/common/log"
	"github.com/KevoDB/tinynvs/pkg/config"
	"github.com/KevoDB/tinynvs/pkg/flash"
	"github.com/KevoDB/tinynvs/pkg/grpc/service"
	"github.com/KevoDB/tinynvs/pkg/grpc/transport"
	"github.com/KevoDB/tinynvs/pkg/store"
)

// serve mounts a store on dev, serves it over an in-memory listener and
// returns a client connected to it
func serve(t *testing.T, dev *flash.MemDevice) *Client {
	t.Helper()

	st, err := store.Open(dev, config.NewDefaultConfig(), store.WithLogger(log.NewDiscard()))
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	srv := transport.NewServer(service.NewStoreServer(st, log.NewDiscard()), transport.ServerOptions{Logger: log.NewDiscard()})
	go srv.Serve(lis)
	t.Cleanup(func() { srv.Stop(context.Background()) })

	opts := DefaultClientOptions()
	opts.Endpoint = "passthrough:///bufnet"
	opts.RequestTimeout = 5 * time.Second
	opts.DialOptions = []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	}

	c, err := NewClient(opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientSetGetDelete(t *testing.T) {
	ctx := context.Background()
	c := serve(t, flash.NewMemDevice(4096, 4))

	require.NoError(t, c.Set(ctx, []byte("wifi.ssid"), []byte("home")))
	value, err := c.Get(ctx, []byte("wifi.ssid"))
	require.NoError(t, err)
	assert.Equal(t, "home", string(value))

	require.NoError(t, c.Set(ctx, []byte("wifi.ssid"), []byte("office")))
	value, err = c.Get(ctx, []byte("wifi.ssid"))
	require.NoError(t, err)
	assert.Equal(t, "office", string(value))

	require.NoError(t, c.Delete(ctx, []byte("wifi.ssid")))
	_, err = c.Get(ctx, []byte("wifi.ssid"))
	assert.ErrorIs(t, err, store.ErrKeyNotFound)

	var remote *service.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, codes.NotFound, remote.Code)
	assert.Equal(t, "KEY_NOT_FOUND", remote.Reason)

	err = c.Delete(ctx, []byte("wifi.ssid"))
	assert.ErrorIs(t, err, store.ErrKeyNotFound)
}

func TestClientArgumentErrors(t *testing.T) {
	ctx := context.Background()
	c := serve(t, flash.NewMemDevice(4096, 4))

	tests := []struct {
		name  string
		key   []byte
		value []byte
		want  error
	}{
		{"empty key", nil, []byte("v"), store.ErrInvalidArgument},
		{"empty value", []byte("k"), nil, store.ErrInvalidArgument},
		{"long key", []byte(strings.Repeat("k", 33)), []byte("v"), store.ErrKeyTooLong},
		{"large value", []byte("k"), make([]byte, 1025), store.ErrValueTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Set(ctx, tt.key, tt.value)
			assert.ErrorIs(t, err, tt.want)
			assert.False(t, IsRetryableError(err))

			var remote *service.RemoteError
			require.True(t, errors.As(err, &remote))
			assert.Equal(t, codes.InvalidArgument, remote.Code)
		})
	}
}

func TestClientHardwareError(t *testing.T) {
	ctx := context.Background()
	dev := flash.NewMemDevice(4096, 4)
	c := serve(t, dev)

	require.NoError(t, c.Set(ctx, []byte("a"), []byte("1")))
	dev.InjectError(flash.OpWrite, errors.New("program timeout"))

	err := c.Set(ctx, []byte("b"), []byte("2"))
	assert.ErrorIs(t, err, store.ErrHardwareIO)
	assert.Contains(t, err.Error(), "program timeout")

	var remote *service.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, codes.Unavailable, remote.Code)
	// a store error is never retried, even with a transient code
	assert.False(t, IsRetryableError(err))
}

func TestClientStats(t *testing.T) {
	ctx := context.Background()
	c := serve(t, flash.NewMemDevice(4096, 4))

	require.NoError(t, c.Set(ctx, []byte("a"), []byte("1")))
	require.NoError(t, c.Set(ctx, []byte("b"), []byte("2")))
	_, err := c.Get(ctx, []byte("a"))
	require.NoError(t, err)

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), st.Keys)
	assert.Equal(t, uint32(1), st.SeqID)
	assert.Equal(t, uint32(0), st.ActiveSector)
	require.Len(t, st.Sectors, 4)
	assert.True(t, st.Sectors[0].Active)
	assert.Equal(t, "USED", st.Sectors[0].State)

	ops := map[string]uint64{}
	for _, op := range st.Operations {
		ops[op.Name] = op.Count
	}
	assert.Equal(t, uint64(2), ops["set"])
	assert.Equal(t, uint64(1), ops["get"])
}

func TestClientRotateAndWearLeveling(t *testing.T) {
	ctx := context.Background()
	c := serve(t, flash.NewMemDevice(4096, 4))

	require.NoError(t, c.Set(ctx, []byte("a"), []byte("1")))

	resp, err := c.Rotate(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, uint32(0), resp.ActiveSector)
	assert.Equal(t, uint32(2), resp.SeqID)

	value, err := c.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(value))

	reclaimed, err := c.CheckWL(ctx)
	require.NoError(t, err)
	assert.False(t, reclaimed)

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.Rotations)
}

func TestClientClosed(t *testing.T) {
	c := serve(t, flash.NewMemDevice(4096, 4))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.Get(context.Background(), []byte("a"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	opts := DefaultClientOptions()
	opts.Endpoint = ""
	_, err := NewClient(opts)
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.True(t, IsRetryableError(context.DeadlineExceeded))
	assert.True(t, IsRetryableError(status.Error(codes.Unavailable, "connection refused")))
	assert.False(t, IsRetryableError(status.Error(codes.InvalidArgument, "bad")))
	assert.False(t, IsRetryableError(errors.New("plain")))
}

func TestRetryWithBackoff(t *testing.T) {
	policy := RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2,
		Jitter:         0.1,
	}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := RetryWithBackoff(context.Background(), func() error {
			calls++
			if calls < 3 {
				return status.Error(codes.Unavailable, "try again")
			}
			return nil
		}, policy)
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		calls := 0
		permanent := errors.New("permanent")
		err := RetryWithBackoff(context.Background(), func() error {
			calls++
			return permanent
		}, policy)
		assert.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := RetryWithBackoff(context.Background(), func() error {
			calls++
			return status.Error(codes.Unavailable, "down")
		}, policy)
		assert.Equal(t, codes.Unavailable, status.Code(err))
		assert.Equal(t, policy.MaxRetries+1, calls)
	})

	t.Run("honours context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		slow := policy
		slow.InitialBackoff = time.Second
		err := RetryWithBackoff(ctx, func() error {
			return status.Error(codes.Unavailable, "down")
		}, slow)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestCalculateExponentialBackoff(t *testing.T) {
	policy := RetryPolicy{
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		BackoffFactor:  2,
	}
	assert.Equal(t, 10*time.Millisecond, CalculateExponentialBackoff(0, policy))
	assert.Equal(t, 40*time.Millisecond, CalculateExponentialBackoff(2, policy))
	assert.Equal(t, 50*time.Millisecond, CalculateExponentialBackoff(5, policy))
}
