package connect

import (
	"context"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"

	"github.com/osa030/trackbridge/internal/app/broker"
	"github.com/osa030/trackbridge/internal/app/playback"
	"github.com/osa030/trackbridge/internal/app/session"
)

// ErrorCodeHeader carries the command error code in the error metadata.
const ErrorCodeHeader = "Trackbridge-Error-Code"

// toConnectError converts a command failure to a connect error carrying its
// command error code.
func toConnectError(err error) error {
	if err == nil {
		return nil
	}
	ce := connect.NewError(statusOf(err), err)
	ce.Meta().Set(ErrorCodeHeader, string(playback.Code(err)))
	return ce
}

func statusOf(err error) connect.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return connect.CodeDeadlineExceeded
	case errors.Is(err, broker.ErrQueueFull):
		return connect.CodeResourceExhausted
	case errors.Is(err, broker.ErrClosed),
		errors.Is(err, session.ErrSessionClosed),
		errors.Is(err, playback.ErrClosed):
		return connect.CodeUnavailable
	case errors.Is(err, playback.ErrUnknownPosition):
		return connect.CodeFailedPrecondition
	}

	switch playback.Code(err) {
	case playback.CodeTrackNotInQueue:
		return connect.CodeNotFound
	case playback.CodeInvalidTrack:
		return connect.CodeInvalidArgument
	case playback.CodeNoPreviousTrack, playback.CodeQueueExhausted:
		return connect.CodeFailedPrecondition
	default:
		return connect.CodeInternal
	}
}

// CodeOf returns the command error code of an error returned by Client.
func CodeOf(err error) playback.ErrorCode {
	if err == nil {
		return ""
	}
	var ce *connect.Error
	if errors.As(err, &ce) {
		if code := ce.Meta().Get(ErrorCodeHeader); code != "" {
			return playback.ErrorCode(code)
		}
	}
	return playback.CodeUnknown
}
