package playback

import "github.com/osa030/trackbridge/internal/domain/track"

// EventType represents a playback event type.
type EventType int

const (
	EventPlay         EventType = iota // Entered Playing or Buffering
	EventPause                         // Entered Paused
	EventStop                          // Entered None or Stopped
	EventStateChange                   // Derived state changed
	EventEnd                           // Queue ended
	EventTrackChanged                  // Current window changed
	EventError                         // Engine failure
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventPlay:
		return "play"
	case EventPause:
		return "pause"
	case EventStop:
		return "stop"
	case EventStateChange:
		return "state_change"
	case EventEnd:
		return "end"
	case EventTrackChanged:
		return "track_changed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event represents a playback event. Only the fields relevant to Type are set.
type Event struct {
	Type  EventType
	State State // EventStateChange

	Track    *track.Track // EventEnd: the current item, may be nil
	Previous *track.Track // EventTrackChanged
	Next     *track.Track // EventTrackChanged

	// Position in seconds. EventEnd: where playback stopped.
	// EventTrackChanged: where the previous item was left.
	Position float64

	Source  string // EventError
	Message string // EventError
}
