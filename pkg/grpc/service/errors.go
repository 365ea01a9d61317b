package service

import (
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/KevoDB/tinynvs/pkg/store"
)

// ErrorDomain is the ErrorInfo domain attached to store errors
const ErrorDomain = "tinynvs"

// errorTable maps store errors to status codes. The first match wins, so
// wrapping errors come before the ones they may wrap.
var errorTable = []struct {
	err    error
	code   codes.Code
	reason string
}{
	{store.ErrHardwareIO, codes.Unavailable, "HARDWARE_IO"},
	{store.ErrClosed, codes.Unavailable, "CLOSED"},
	{store.ErrKeyNotFound, codes.NotFound, "KEY_NOT_FOUND"},
	{store.ErrKeyTooLong, codes.InvalidArgument, "KEY_TOO_LONG"},
	{store.ErrValueTooLarge, codes.InvalidArgument, "VALUE_TOO_LARGE"},
	{store.ErrBufferTooSmall, codes.InvalidArgument, "BUFFER_TOO_SMALL"},
	{store.ErrInvalidArgument, codes.InvalidArgument, "INVALID_ARGUMENT"},
	{store.ErrCrcMismatch, codes.DataLoss, "CRC_MISMATCH"},
	{store.ErrNotValid, codes.DataLoss, "NOT_VALID"},
	{store.ErrStorageExhausted, codes.ResourceExhausted, "STORAGE_EXHAUSTED"},
	{store.ErrIndexFull, codes.ResourceExhausted, "INDEX_FULL"},
}

// ToStatus converts a store error into a gRPC status error carrying an
// ErrorInfo detail that names the store error
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	for _, e := range errorTable {
		if !errors.Is(err, e.err) {
			continue
		}
		st := status.New(e.code, err.Error())
		if detailed, derr := st.WithDetails(&errdetails.ErrorInfo{Reason: e.reason, Domain: ErrorDomain}); derr == nil {
			st = detailed
		}
		return st.Err()
	}
	return status.Error(codes.Internal, err.Error())
}

// RemoteError is a store error returned by a remote server. It unwraps to
// the matching store sentinel, so errors.Is works across the wire.
type RemoteError struct {
	Code    codes.Code
	Reason  string
	Message string
	err     error
}

func (e *RemoteError) Error() string { return e.Message }

func (e *RemoteError) Unwrap() error { return e.err }

// FromStatus reverses ToStatus. Errors without a store ErrorInfo detail
// are returned unchanged.
func FromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || st == nil {
		return err
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != ErrorDomain {
			continue
		}
		for _, e := range errorTable {
			if e.reason == info.GetReason() {
				return &RemoteError{Code: st.Code(), Reason: e.reason, Message: st.Message(), err: e.err}
			}
		}
	}
	return err
}
