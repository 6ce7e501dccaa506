package connect

// Service and procedure names of the player bridge.
const (
	PlayerServiceName = "trackbridge.v1.PlayerService"

	SetupProcedure               = "/" + PlayerServiceName + "/Setup"
	UpdateOptionsProcedure       = "/" + PlayerServiceName + "/UpdateOptions"
	AddProcedure                 = "/" + PlayerServiceName + "/Add"
	RemoveProcedure              = "/" + PlayerServiceName + "/Remove"
	RemoveUpcomingProcedure      = "/" + PlayerServiceName + "/RemoveUpcoming"
	SkipProcedure                = "/" + PlayerServiceName + "/Skip"
	SkipToNextProcedure          = "/" + PlayerServiceName + "/SkipToNext"
	SkipToPreviousProcedure      = "/" + PlayerServiceName + "/SkipToPrevious"
	PlayProcedure                = "/" + PlayerServiceName + "/Play"
	PauseProcedure               = "/" + PlayerServiceName + "/Pause"
	StopProcedure                = "/" + PlayerServiceName + "/Stop"
	ResetProcedure               = "/" + PlayerServiceName + "/Reset"
	SeekToProcedure              = "/" + PlayerServiceName + "/SeekTo"
	SetVolumeProcedure           = "/" + PlayerServiceName + "/SetVolume"
	GetVolumeProcedure           = "/" + PlayerServiceName + "/GetVolume"
	SetRateProcedure             = "/" + PlayerServiceName + "/SetRate"
	GetRateProcedure             = "/" + PlayerServiceName + "/GetRate"
	GetTrackProcedure            = "/" + PlayerServiceName + "/GetTrack"
	GetQueueProcedure            = "/" + PlayerServiceName + "/GetQueue"
	GetCurrentTrackProcedure     = "/" + PlayerServiceName + "/GetCurrentTrack"
	GetDurationProcedure         = "/" + PlayerServiceName + "/GetDuration"
	GetBufferedPositionProcedure = "/" + PlayerServiceName + "/GetBufferedPosition"
	GetPositionProcedure         = "/" + PlayerServiceName + "/GetPosition"
	GetStateProcedure            = "/" + PlayerServiceName + "/GetState"
	SubscribeEventsProcedure     = "/" + PlayerServiceName + "/SubscribeEvents"
)

// Empty is the message of commands that carry no data.
type Empty struct{}

type OptionsRequest struct {
	Options map[string]any `json:"options"`
}

type AddRequest struct {
	Tracks         []map[string]any `json:"tracks"`
	InsertBeforeID string           `json:"insertBeforeId,omitempty"`
}

type RemoveRequest struct {
	IDs []string `json:"ids"`
}

type IDRequest struct {
	ID string `json:"id"`
}

type SecondsMessage struct {
	Seconds float64 `json:"seconds"`
}

type VolumeMessage struct {
	Volume float64 `json:"volume"`
}

type RateMessage struct {
	Rate float64 `json:"rate"`
}

// TrackResponse carries the payload the track was added with. Track is null
// when there is no such track.
type TrackResponse struct {
	Track map[string]any `json:"track"`
}

type QueueResponse struct {
	Tracks []map[string]any `json:"tracks"`
}

// CurrentTrackResponse carries the current track id, null when nothing is
// current.
type CurrentTrackResponse struct {
	ID *string `json:"id"`
}

type StateResponse struct {
	State int `json:"state"`
}

// EventMessage is one playback event on the event stream. Only the fields of
// its type are set.
type EventMessage struct {
	SequenceNo uint64         `json:"sequenceNo"`
	Type       string         `json:"type"`
	State      *int           `json:"state,omitempty"`
	Track      map[string]any `json:"track,omitempty"`
	Previous   map[string]any `json:"previous,omitempty"`
	Next       map[string]any `json:"next,omitempty"`
	Position   *float64       `json:"position,omitempty"`
	Source     string         `json:"source,omitempty"`
	Message    string         `json:"message,omitempty"`
}
