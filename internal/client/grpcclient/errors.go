package grpcclient

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrUnavailable  = errors.New("server unavailable")
	ErrUnauthorized = errors.New("unauthorized")
)

// mapError turns a status into the engine's sentinel errors, keeping the
// server's reason in the message.
func mapError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("rpc error: %w", err)
	}

	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return ErrUnauthorized
	case codes.Unavailable, codes.DeadlineExceeded:
		return ErrUnavailable
	case codes.ResourceExhausted:
		rl := &common.RateLimitError{}
		for _, d := range st.Details() {
			if ri, ok := d.(*errdetails.RetryInfo); ok && ri.RetryDelay != nil {
				rl.RetryAfter = ri.RetryDelay.AsDuration()
			}
		}
		return rl
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", common.ErrReconnectRequired, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%w: %s", common.ErrorNotFound, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", common.ErrInvalidArgument, st.Message())
	case codes.Aborted:
		return fmt.Errorf("%w: %s", common.ErrConflict, st.Message())
	default:
		return fmt.Errorf("rpc error: %s", st.Message())
	}
}
