package playback

import (
	"github.com/cockroachdb/errors"

	"github.com/osa030/trackbridge/internal/domain/track"
)

// Errors
var (
	ErrTrackNotInQueue = errors.New("track is not in the queue")
	ErrInvalidTrack    = track.ErrInvalidTrack
	ErrNoPreviousTrack = errors.New("there is no previous track")
	ErrQueueExhausted  = errors.New("there is no tracks left to play")
	ErrUnknownPosition = errors.New("playback position is unknown")
	ErrIndexOutOfRange = errors.New("queue index out of range")
	ErrClosed          = errors.New("controller is closed")
)

// ErrorCode is the code a failed command resolves with.
type ErrorCode string

const (
	CodeTrackNotInQueue ErrorCode = "track_not_in_queue"
	CodeInvalidTrack    ErrorCode = "invalid_track_object"
	CodeNoPreviousTrack ErrorCode = "no_previous_track"
	CodeQueueExhausted  ErrorCode = "queue_exhausted"
	CodeUnknown         ErrorCode = "unknown"
)

// Code maps err to its command error code.
func Code(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrTrackNotInQueue):
		return CodeTrackNotInQueue
	case errors.Is(err, ErrInvalidTrack):
		return CodeInvalidTrack
	case errors.Is(err, ErrNoPreviousTrack):
		return CodeNoPreviousTrack
	case errors.Is(err, ErrQueueExhausted):
		return CodeQueueExhausted
	default:
		return CodeUnknown
	}
}
