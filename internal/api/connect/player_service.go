package connect

import (
	"context"
	"net/http"
	"sync"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/osa030/trackbridge/internal/app/broker"
	"github.com/osa030/trackbridge/internal/app/notification"
	"github.com/osa030/trackbridge/internal/app/playback"
	"github.com/osa030/trackbridge/internal/app/session"
	"github.com/osa030/trackbridge/internal/domain/track"
	"github.com/osa030/trackbridge/internal/infra/metrics"
)

// PlayerService implements the player bridge. Every command goes through the
// connection broker, so commands that arrive before the session is bound are
// held and run in order once it is.
type PlayerService struct {
	broker  *broker.Broker[*session.Manager]
	metrics *metrics.Metrics

	done      chan struct{}
	closeOnce sync.Once
}

// NewPlayerService creates a new PlayerService. metrics may be nil.
func NewPlayerService(b *broker.Broker[*session.Manager], m *metrics.Metrics) *PlayerService {
	return &PlayerService{
		broker:  b,
		metrics: m,
		done:    make(chan struct{}),
	}
}

// Close ends all open event streams.
func (s *PlayerService) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// NewPlayerServiceHandler builds an HTTP handler that serves every procedure
// of svc. It returns the path to mount it on.
func NewPlayerServiceHandler(svc *PlayerService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(SetupProcedure, connect.NewUnaryHandler(SetupProcedure, svc.Setup, opts...))
	mux.Handle(UpdateOptionsProcedure, connect.NewUnaryHandler(UpdateOptionsProcedure, svc.UpdateOptions, opts...))
	mux.Handle(AddProcedure, connect.NewUnaryHandler(AddProcedure, svc.Add, opts...))
	mux.Handle(RemoveProcedure, connect.NewUnaryHandler(RemoveProcedure, svc.Remove, opts...))
	mux.Handle(RemoveUpcomingProcedure, connect.NewUnaryHandler(RemoveUpcomingProcedure, svc.RemoveUpcoming, opts...))
	mux.Handle(SkipProcedure, connect.NewUnaryHandler(SkipProcedure, svc.Skip, opts...))
	mux.Handle(SkipToNextProcedure, connect.NewUnaryHandler(SkipToNextProcedure, svc.SkipToNext, opts...))
	mux.Handle(SkipToPreviousProcedure, connect.NewUnaryHandler(SkipToPreviousProcedure, svc.SkipToPrevious, opts...))
	mux.Handle(PlayProcedure, connect.NewUnaryHandler(PlayProcedure, svc.Play, opts...))
	mux.Handle(PauseProcedure, connect.NewUnaryHandler(PauseProcedure, svc.Pause, opts...))
	mux.Handle(StopProcedure, connect.NewUnaryHandler(StopProcedure, svc.Stop, opts...))
	mux.Handle(ResetProcedure, connect.NewUnaryHandler(ResetProcedure, svc.Reset, opts...))
	mux.Handle(SeekToProcedure, connect.NewUnaryHandler(SeekToProcedure, svc.SeekTo, opts...))
	mux.Handle(SetVolumeProcedure, connect.NewUnaryHandler(SetVolumeProcedure, svc.SetVolume, opts...))
	mux.Handle(GetVolumeProcedure, connect.NewUnaryHandler(GetVolumeProcedure, svc.GetVolume, opts...))
	mux.Handle(SetRateProcedure, connect.NewUnaryHandler(SetRateProcedure, svc.SetRate, opts...))
	mux.Handle(GetRateProcedure, connect.NewUnaryHandler(GetRateProcedure, svc.GetRate, opts...))
	mux.Handle(GetTrackProcedure, connect.NewUnaryHandler(GetTrackProcedure, svc.GetTrack, opts...))
	mux.Handle(GetQueueProcedure, connect.NewUnaryHandler(GetQueueProcedure, svc.GetQueue, opts...))
	mux.Handle(GetCurrentTrackProcedure, connect.NewUnaryHandler(GetCurrentTrackProcedure, svc.GetCurrentTrack, opts...))
	mux.Handle(GetDurationProcedure, connect.NewUnaryHandler(GetDurationProcedure, svc.GetDuration, opts...))
	mux.Handle(GetBufferedPositionProcedure, connect.NewUnaryHandler(GetBufferedPositionProcedure, svc.GetBufferedPosition, opts...))
	mux.Handle(GetPositionProcedure, connect.NewUnaryHandler(GetPositionProcedure, svc.GetPosition, opts...))
	mux.Handle(GetStateProcedure, connect.NewUnaryHandler(GetStateProcedure, svc.GetState, opts...))
	mux.Handle(SubscribeEventsProcedure, connect.NewServerStreamHandler(SubscribeEventsProcedure, svc.SubscribeEvents, opts...))
	return "/" + PlayerServiceName + "/", mux
}

// do runs fn against the bound session and records the outcome.
func (s *PlayerService) do(ctx context.Context, command string, fn func(*session.Manager) error) error {
	err := s.broker.Do(ctx, func(m *session.Manager) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(m)
	})
	if s.metrics != nil {
		code := "ok"
		if err != nil {
			code = string(playback.Code(err))
		}
		s.metrics.Command(command, code)
	}
	if err != nil {
		zlog.Debug().Msgf("bridge: %s failed: %v", command, err)
	}
	return toConnectError(err)
}

// control runs fn against the player, creating it with defaults if needed.
func (s *PlayerService) control(ctx context.Context, command string, fn func(*playback.Controller) error) error {
	return s.do(ctx, command, func(m *session.Manager) error {
		c, err := m.Playback()
		if err != nil {
			return err
		}
		return fn(c)
	})
}

func empty() *connect.Response[Empty] {
	return connect.NewResponse(&Empty{})
}

// Setup handles player setup. Only the first call has an effect.
func (s *PlayerService) Setup(ctx context.Context, req *connect.Request[OptionsRequest]) (*connect.Response[Empty], error) {
	if err := s.do(ctx, "setup", func(m *session.Manager) error {
		return m.Setup(ctx, req.Msg.Options)
	}); err != nil {
		return nil, err
	}
	return empty(), nil
}

// UpdateOptions handles option updates.
func (s *PlayerService) UpdateOptions(ctx context.Context, req *connect.Request[OptionsRequest]) (*connect.Response[Empty], error) {
	if err := s.do(ctx, "updateOptions", func(m *session.Manager) error {
		return m.UpdateOptions(ctx, req.Msg.Options)
	}); err != nil {
		return nil, err
	}
	return empty(), nil
}

// Add handles track additions.
func (s *PlayerService) Add(ctx context.Context, req *connect.Request[AddRequest]) (*connect.Response[Empty], error) {
	if err := s.do(ctx, "add", func(m *session.Manager) error {
		return m.Add(ctx, req.Msg.Tracks, req.Msg.InsertBeforeID)
	}); err != nil {
		return nil, err
	}
	return empty(), nil
}

func (s *PlayerService) Remove(ctx context.Context, req *connect.Request[RemoveRequest]) (*connect.Response[Empty], error) {
	if err := s.control(ctx, "remove", func(c *playback.Controller) error {
		return c.Remove(ctx, req.Msg.IDs)
	}); err != nil {
		return nil, err
	}
	return empty(), nil
}

func (s *PlayerService) RemoveUpcoming(ctx context.Context, _ *connect.Request[Empty]) (*connect.Response[Empty], error) {
	if err := s.control(ctx, "removeUpcoming", func(c *playback.Controller) error {
		return c.RemoveUpcoming(ctx)
	}); err != nil {
		return nil, err
	}
	return empty(), nil
}

func (s *PlayerService) Skip(ctx context.Context, req *connect.Request[IDRequest]) (*connect.Response[Empty], error) {
	if err := s.control(ctx, "skip", func(c *playback.Controller) error {
		return c.Skip(ctx, req.Msg.ID)
	}); err != nil {
		return nil, err
	}
	return empty(), nil
}

func (s *PlayerService) SkipToNext(ctx context.Context, _ *connect.Request[Empty]) (*connect.Response[Empty], error) {
	if err := s.control(ctx, "skipToNext", func(c *playback.Controller) error {
		return c.SkipToNext(ctx)
	}); err != nil {
		return nil, err
	}
	return empty(), nil
}

func (s *PlayerService) SkipToPrevious(ctx context.Context, _ *connect.Request[Empty]) (*connect.Response[Empty], error) {
	if err := s.control(ctx, "skipToPrevious", func(c *playback.Controller) error {
		return c.SkipToPrevious(ctx)
	}); err != nil {
		return nil, err
	}
	return empty(), nil
}

func (s *PlayerService) Play(ctx context.Context, _ *connect.Request[Empty]) (*connect.Response[Empty], error) {
	if err := s.control(ctx, "play", func(c *playback.Controller) error {
		return c.Play(ctx)
	}); err != nil {
		return nil, err
	}
	return empty(), nil
}

func (s *PlayerService) Pause(ctx context.Context, _ *connect.Request[Empty]) (*connect.Response[Empty], error) {
	if err := s.control(ctx, "pause", func(c *playback.Controller) error {
		return c.Pause(ctx)
	}); err != nil {
		return nil, err
	}
	return empty(), nil
}

func (s *PlayerService) Stop(ctx context.Context, _ *connect.Request[Empty]) (*connect.Response[Empty], error) {
	if err := s.control(ctx, "stop", func(c *playback.Controller) error {
		return c.Stop(ctx)
	}); err != nil {
		return nil, err
	}
	return empty(), nil
}

func (s *PlayerService) Reset(ctx context.Context, _ *connect.Request[Empty]) (*connect.Response[Empty], error) {
	if err := s.control(ctx, "reset", func(c *playback.Controller) error {
		return c.Reset(ctx)
	}); err != nil {
		return nil, err
	}
	return empty(), nil
}

func (s *PlayerService) SeekTo(ctx context.Context, req *connect.Request[SecondsMessage]) (*connect.Response[Empty], error) {
	if err := s.control(ctx, "seekTo", func(c *playback.Controller) error {
		return c.SeekTo(ctx, req.Msg.Seconds)
	}); err != nil {
		return nil, err
	}
	return empty(), nil
}

func (s *PlayerService) SetVolume(ctx context.Context, req *connect.Request[VolumeMessage]) (*connect.Response[Empty], error) {
	if err := s.control(ctx, "setVolume", func(c *playback.Controller) error {
		return c.SetVolume(ctx, req.Msg.Volume)
	}); err != nil {
		return nil, err
	}
	return empty(), nil
}

func (s *PlayerService) GetVolume(ctx context.Context, _ *connect.Request[Empty]) (*connect.Response[VolumeMessage], error) {
	var volume float64
	if err := s.control(ctx, "getVolume", func(c *playback.Controller) (err error) {
		volume, err = c.Volume(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	return connect.NewResponse(&VolumeMessage{Volume: volume}), nil
}

func (s *PlayerService) SetRate(ctx context.Context, req *connect.Request[RateMessage]) (*connect.Response[Empty], error) {
	if err := s.control(ctx, "setRate", func(c *playback.Controller) error {
		return c.SetRate(ctx, req.Msg.Rate)
	}); err != nil {
		return nil, err
	}
	return empty(), nil
}

func (s *PlayerService) GetRate(ctx context.Context, _ *connect.Request[Empty]) (*connect.Response[RateMessage], error) {
	var rate float64
	if err := s.control(ctx, "getRate", func(c *playback.Controller) (err error) {
		rate, err = c.Rate(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	return connect.NewResponse(&RateMessage{Rate: rate}), nil
}

// GetTrack returns the payload of the first track with the id, or null.
func (s *PlayerService) GetTrack(ctx context.Context, req *connect.Request[IDRequest]) (*connect.Response[TrackResponse], error) {
	var t *track.Track
	if err := s.control(ctx, "getTrack", func(c *playback.Controller) (err error) {
		t, err = c.Track(ctx, req.Msg.ID)
		return err
	}); err != nil {
		return nil, err
	}
	return connect.NewResponse(&TrackResponse{Track: payloadOf(t)}), nil
}

// GetQueue returns the payloads of every queued track.
func (s *PlayerService) GetQueue(ctx context.Context, _ *connect.Request[Empty]) (*connect.Response[QueueResponse], error) {
	var queue []track.Track
	if err := s.control(ctx, "getQueue", func(c *playback.Controller) (err error) {
		queue, err = c.Queue(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	tracks := lo.Map(queue, func(t track.Track, _ int) map[string]any { return t.Original })
	return connect.NewResponse(&QueueResponse{Tracks: tracks}), nil
}

// GetCurrentTrack returns the id of the current track, or null.
func (s *PlayerService) GetCurrentTrack(ctx context.Context, _ *connect.Request[Empty]) (*connect.Response[CurrentTrackResponse], error) {
	var t *track.Track
	if err := s.control(ctx, "getCurrentTrack", func(c *playback.Controller) (err error) {
		t, err = c.CurrentTrack(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	res := &CurrentTrackResponse{}
	if t != nil {
		res.ID = lo.ToPtr(t.ID)
	}
	return connect.NewResponse(res), nil
}

func (s *PlayerService) GetDuration(ctx context.Context, _ *connect.Request[Empty]) (*connect.Response[SecondsMessage], error) {
	return s.seconds(ctx, "getDuration", (*playback.Controller).Duration)
}

func (s *PlayerService) GetBufferedPosition(ctx context.Context, _ *connect.Request[Empty]) (*connect.Response[SecondsMessage], error) {
	return s.seconds(ctx, "getBufferedPosition", (*playback.Controller).BufferedPosition)
}

func (s *PlayerService) GetPosition(ctx context.Context, _ *connect.Request[Empty]) (*connect.Response[SecondsMessage], error) {
	return s.seconds(ctx, "getPosition", (*playback.Controller).Position)
}

func (s *PlayerService) seconds(
	ctx context.Context,
	command string,
	get func(*playback.Controller, context.Context) (float64, error),
) (*connect.Response[SecondsMessage], error) {
	var sec float64
	if err := s.control(ctx, command, func(c *playback.Controller) (err error) {
		sec, err = get(c, ctx)
		return err
	}); err != nil {
		return nil, err
	}
	return connect.NewResponse(&SecondsMessage{Seconds: sec}), nil
}

// GetState returns the numeric host state.
func (s *PlayerService) GetState(ctx context.Context, _ *connect.Request[Empty]) (*connect.Response[StateResponse], error) {
	var state playback.State
	if err := s.control(ctx, "getState", func(c *playback.Controller) (err error) {
		state, err = c.State(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	return connect.NewResponse(&StateResponse{State: int(state)}), nil
}

// SubscribeEvents streams playback events until the client goes away or the
// service closes.
func (s *PlayerService) SubscribeEvents(
	ctx context.Context,
	_ *connect.Request[Empty],
	stream *connect.ServerStream[EventMessage],
) error {
	adapter := &eventStream{stream: stream}
	var mgr *session.Manager
	var subscriptionID string
	if err := s.do(ctx, "subscribeEvents", func(m *session.Manager) error {
		mgr = m
		subscriptionID = m.Subscribe(adapter)
		return nil
	}); err != nil {
		return err
	}
	// Clients wait for response headers before reading any event.
	if err := adapter.sendHeaders(); err != nil {
		mgr.Unsubscribe(subscriptionID)
		adapter.close()
		return err
	}

	// Wait for context cancellation or service shutdown
	select {
	case <-ctx.Done():
	case <-s.done:
	}

	mgr.Unsubscribe(subscriptionID)
	adapter.close()
	return nil
}

var errStreamClosed = errors.New("event stream closed")

// eventStream adapts connect.ServerStream to notification.Stream. The header
// flush can race the first broadcast, so sends are serialized.
type eventStream struct {
	mu     sync.Mutex
	stream *connect.ServerStream[EventMessage]
	closed bool
}

func (e *eventStream) Send(n *notification.Notification) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errStreamClosed
	}
	return e.stream.Send(eventMessage(n))
}

func (e *eventStream) sendHeaders() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stream.Send(nil)
}

func (e *eventStream) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}

var eventNames = map[playback.EventType]string{
	playback.EventPlay:         "onPlay",
	playback.EventPause:        "onPause",
	playback.EventStop:         "onStop",
	playback.EventStateChange:  "onStateChange",
	playback.EventEnd:          "onEnd",
	playback.EventTrackChanged: "onTrackChanged",
	playback.EventError:        "onError",
}

func eventMessage(n *notification.Notification) *EventMessage {
	e := n.Event
	msg := &EventMessage{
		SequenceNo: n.SequenceNo,
		Type:       eventNames[e.Type],
	}
	switch e.Type {
	case playback.EventStateChange:
		msg.State = lo.ToPtr(int(e.State))
	case playback.EventEnd:
		msg.Track = payloadOf(e.Track)
		msg.Position = lo.ToPtr(e.Position)
	case playback.EventTrackChanged:
		msg.Previous = payloadOf(e.Previous)
		msg.Next = payloadOf(e.Next)
		msg.Position = lo.ToPtr(e.Position)
	case playback.EventError:
		msg.Source = e.Source
		msg.Message = e.Message
	}
	return msg
}

func payloadOf(t *track.Track) map[string]any {
	if t == nil {
		return nil
	}
	return t.Original
}
