package api

import (
	"context"
	"errors"

	"github.com/matheus3301/securetalk/internal/identity"
	"github.com/matheus3301/securetalk/internal/rest"
	intsync "github.com/matheus3301/securetalk/internal/sync"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus maps a core error to a gRPC status error.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	return grpcstatus.Error(codeOf(err), err.Error())
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, identity.ErrNoToken), errors.Is(err, identity.ErrNoUserID):
		return codes.Unauthenticated
	case errors.Is(err, intsync.ErrEmptyMessage), errors.Is(err, intsync.ErrMessageTooLong):
		return codes.InvalidArgument
	case errors.Is(err, intsync.ErrNotRetryable):
		return codes.FailedPrecondition
	case errors.Is(err, intsync.ErrThreadClosed):
		return codes.Aborted
	}
	if kind, ok := rest.KindOf(err); ok {
		switch kind {
		case rest.KindAuthMissing:
			return codes.Unauthenticated
		case rest.KindMalformed:
			return codes.DataLoss
		case rest.KindRejected:
			return codes.InvalidArgument
		default:
			return codes.Unavailable
		}
	}
	return codes.Internal
}
