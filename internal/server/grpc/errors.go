package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, common.ErrRateLimited):
		return codes.ResourceExhausted
	case errors.Is(err, common.ErrReconnectRequired):
		return codes.FailedPrecondition
	case errors.Is(err, common.ErrProviderUnavailable), errors.Is(err, common.ErrAuthExpired):
		return codes.Unavailable
	case errors.Is(err, common.ErrorNotFound):
		return codes.NotFound
	case errors.Is(err, common.ErrConflict), errors.Is(err, common.ErrVersionConflict),
		errors.Is(err, common.ErrAlreadyExists), errors.Is(err, common.ErrSyncInProgress):
		return codes.Aborted
	case errors.Is(err, common.ErrInvalidArgument):
		return codes.InvalidArgument
	case errors.Is(err, common.ErrorUnauthorized), errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired):
		return codes.Unauthenticated
	default:
		return codes.Internal
	}
}

// toStatus reports err to the caller with a reason that never carries
// provider details. Rate limits carry the retry hint as RetryInfo.
func (s *GRPCServer) toStatus(ctx context.Context, method string, err error) error {
	code := codeOf(err)
	if code == codes.Internal {
		s.logger.Error(ctx, "request failed", "method", method, "error", err)
	} else {
		s.logger.Debug(ctx, "request rejected", "method", method, "code", code.String(), "error", err)
	}

	st := status.New(code, common.Reason(err))
	if d, ok := common.RetryAfter(err); ok {
		if withHint, derr := st.WithDetails(&errdetails.RetryInfo{RetryDelay: durationpb.New(d)}); derr == nil {
			st = withHint
		}
	}
	return st.Err()
}
