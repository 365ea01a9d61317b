package client

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/KevoDB/tinynvs/pkg/grpc/service"
)

// RetryableFunc is a function that can be retried
type RetryableFunc func() error

// Errors that can occur during client operations
var (
	// ErrNotConnected indicates the client has been closed
	ErrNotConnected = errors.New("not connected to server")

	// ErrInvalidOptions indicates invalid client options
	ErrInvalidOptions = errors.New("invalid client options")
)

// IsRetryableError reports whether err is a transport failure worth
// retrying. Errors reported by the remote store never are.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var remote *service.RemoteError
	if errors.As(err, &remote) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted:
			return true
		}
	}
	return false
}

// RetryWithBackoff executes a function with exponential backoff and jitter
func RetryWithBackoff(ctx context.Context, fn RetryableFunc, policy RetryPolicy) error {
	var err error
	backoff := policy.InitialBackoff

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if !IsRetryableError(err) || attempt >= policy.MaxRetries {
			return err
		}

		jitterRange := float64(backoff) * policy.Jitter
		jitterAmount := int64(rand.Float64() * jitterRange)
		sleepTime := backoff + time.Duration(jitterAmount)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepTime):
		}

		backoff = time.Duration(float64(backoff) * policy.BackoffFactor)
		if backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}

	return err
}

// CalculateExponentialBackoff calculates the backoff time for a given attempt
func CalculateExponentialBackoff(attempt int, policy RetryPolicy) time.Duration {
	backoff := time.Duration(float64(policy.InitialBackoff) * math.Pow(policy.BackoffFactor, float64(attempt)))
	if backoff > policy.MaxBackoff {
		backoff = policy.MaxBackoff
	}

	if policy.Jitter > 0 {
		jitterRange := float64(backoff) * policy.Jitter
		jitterAmount := int64(rand.Float64() * jitterRange)
		backoff += time.Duration(jitterAmount)
	}

	return backoff
}
