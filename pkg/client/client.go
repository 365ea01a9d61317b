// Package client talks to a remote store served by pkg/grpc/transport
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/KevoDB/tinynvs/pkg/grpc/service"
	"github.com/KevoDB/tinynvs/pkg/grpc/transport"
)

// RetryPolicy controls how read-only calls are retried on transport errors
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	Jitter         float64
}

// ClientOptions configures a client
type ClientOptions struct {
	Endpoint       string        // Server address
	RequestTimeout time.Duration // Default timeout for requests, 0 uses the caller's context as is
	MaxMessageSize int

	TLS *transport.TLSConfig // nil dials without transport security

	Retry RetryPolicy

	// DialOptions are appended after the ones built from the fields above
	DialOptions []grpc.DialOption
}

// DefaultClientOptions returns sensible default client options
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Endpoint:       "localhost:50051",
		RequestTimeout: 10 * time.Second,
		MaxMessageSize: 1 << 20,
		Retry: RetryPolicy{
			MaxRetries:     3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			BackoffFactor:  1.5,
			Jitter:         0.2,
		},
	}
}

// Client is a connection to a remote store. Errors reported by the store
// unwrap to the store package sentinels.
type Client struct {
	options ClientOptions
	conn    *grpc.ClientConn

	mu     sync.RWMutex
	closed bool
}

// NewClient creates a client for options.Endpoint. The connection is
// established lazily by the first call.
func NewClient(options ClientOptions) (*Client, error) {
	if options.Endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrInvalidOptions)
	}

	creds := insecure.NewCredentials()
	if options.TLS != nil {
		tlsConfig, err := transport.LoadClientTLSConfig(options.TLS)
		if err != nil {
			return nil, err
		}
		creds = credentials.NewTLS(tlsConfig)
	}

	callOpts := []grpc.CallOption{grpc.CallContentSubtype(service.CodecName)}
	if options.MaxMessageSize > 0 {
		callOpts = append(callOpts,
			grpc.MaxCallRecvMsgSize(options.MaxMessageSize),
			grpc.MaxCallSendMsgSize(options.MaxMessageSize),
		)
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(callOpts...),
	}
	dialOpts = append(dialOpts, options.DialOptions...)

	conn, err := grpc.NewClient(options.Endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}

	return &Client{options: options, conn: conn}, nil
}

// Close closes the connection to the server
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp service.Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrNotConnected
	}

	if c.options.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.RequestTimeout)
		defer cancel()
	}

	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		return service.FromStatus(err)
	}
	return nil
}

// invokeIdempotent retries transport failures according to the retry policy
func (c *Client) invokeIdempotent(ctx context.Context, method string, req, resp service.Message) error {
	return RetryWithBackoff(ctx, func() error {
		return c.invoke(ctx, method, req, resp)
	}, c.options.Retry)
}

// Set stores value under key
func (c *Client) Set(ctx context.Context, key, value []byte) error {
	return c.invoke(ctx, service.MethodSet, &service.SetRequest{Key: key, Value: value}, &service.SetResponse{})
}

// Get retrieves the value of key
func (c *Client) Get(ctx context.Context, key []byte) ([]byte, error) {
	resp := &service.GetResponse{}
	if err := c.invokeIdempotent(ctx, service.MethodGet, &service.GetRequest{Key: key}, resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// Delete removes key
func (c *Client) Delete(ctx context.Context, key []byte) error {
	return c.invoke(ctx, service.MethodDelete, &service.DeleteRequest{Key: key}, &service.DeleteResponse{})
}

// Stats returns the sector table and operation counts of the remote store
func (c *Client) Stats(ctx context.Context) (*service.StatsResponse, error) {
	resp := &service.StatsResponse{}
	if err := c.invokeIdempotent(ctx, service.MethodStats, &service.StatsRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CheckWL runs one static wear-leveling check and reports whether a
// sector was reclaimed
func (c *Client) CheckWL(ctx context.Context) (bool, error) {
	resp := &service.CheckWearLevelingResponse{}
	if err := c.invoke(ctx, service.MethodCheckWearLeveling, &service.CheckWearLevelingRequest{}, resp); err != nil {
		return false, err
	}
	return resp.Reclaimed, nil
}

// Rotate forces a garbage collection of the active sector
func (c *Client) Rotate(ctx context.Context) (*service.RotateResponse, error) {
	resp := &service.RotateResponse{}
	if err := c.invoke(ctx, service.MethodRotate, &service.RotateRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
