package connect

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// Client calls the player bridge over HTTP.
type Client struct {
	httpClient connect.HTTPClient
	baseURL    string
	opts       []connect.ClientOption
}

// NewClient creates a client for the bridge at baseURL. A non-empty token is
// sent with every call.
func NewClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	if token != "" {
		opts = append(opts, connect.WithInterceptors(&tokenInterceptor{token: token}))
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		opts:       opts,
	}
}

func call[Req, Res any](ctx context.Context, c *Client, procedure string, req *Req) (*Res, error) {
	client := connect.NewClient[Req, Res](c.httpClient, c.baseURL+procedure, c.opts...)
	res, err := client.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) exec(ctx context.Context, procedure string) error {
	_, err := call[Empty, Empty](ctx, c, procedure, &Empty{})
	return err
}

func (c *Client) Setup(ctx context.Context, options map[string]any) error {
	_, err := call[OptionsRequest, Empty](ctx, c, SetupProcedure, &OptionsRequest{Options: options})
	return err
}

func (c *Client) UpdateOptions(ctx context.Context, options map[string]any) error {
	_, err := call[OptionsRequest, Empty](ctx, c, UpdateOptionsProcedure, &OptionsRequest{Options: options})
	return err
}

func (c *Client) Add(ctx context.Context, tracks []map[string]any, insertBeforeID string) error {
	_, err := call[AddRequest, Empty](ctx, c, AddProcedure, &AddRequest{Tracks: tracks, InsertBeforeID: insertBeforeID})
	return err
}

func (c *Client) Remove(ctx context.Context, ids []string) error {
	_, err := call[RemoveRequest, Empty](ctx, c, RemoveProcedure, &RemoveRequest{IDs: ids})
	return err
}

func (c *Client) RemoveUpcoming(ctx context.Context) error { return c.exec(ctx, RemoveUpcomingProcedure) }

func (c *Client) Skip(ctx context.Context, id string) error {
	_, err := call[IDRequest, Empty](ctx, c, SkipProcedure, &IDRequest{ID: id})
	return err
}

func (c *Client) SkipToNext(ctx context.Context) error     { return c.exec(ctx, SkipToNextProcedure) }
func (c *Client) SkipToPrevious(ctx context.Context) error { return c.exec(ctx, SkipToPreviousProcedure) }
func (c *Client) Play(ctx context.Context) error           { return c.exec(ctx, PlayProcedure) }
func (c *Client) Pause(ctx context.Context) error          { return c.exec(ctx, PauseProcedure) }
func (c *Client) Stop(ctx context.Context) error           { return c.exec(ctx, StopProcedure) }
func (c *Client) Reset(ctx context.Context) error          { return c.exec(ctx, ResetProcedure) }

func (c *Client) SeekTo(ctx context.Context, seconds float64) error {
	_, err := call[SecondsMessage, Empty](ctx, c, SeekToProcedure, &SecondsMessage{Seconds: seconds})
	return err
}

func (c *Client) SetVolume(ctx context.Context, volume float64) error {
	_, err := call[VolumeMessage, Empty](ctx, c, SetVolumeProcedure, &VolumeMessage{Volume: volume})
	return err
}

func (c *Client) Volume(ctx context.Context) (float64, error) {
	res, err := call[Empty, VolumeMessage](ctx, c, GetVolumeProcedure, &Empty{})
	if err != nil {
		return 0, err
	}
	return res.Volume, nil
}

func (c *Client) SetRate(ctx context.Context, rate float64) error {
	_, err := call[RateMessage, Empty](ctx, c, SetRateProcedure, &RateMessage{Rate: rate})
	return err
}

func (c *Client) Rate(ctx context.Context) (float64, error) {
	res, err := call[Empty, RateMessage](ctx, c, GetRateProcedure, &Empty{})
	if err != nil {
		return 0, err
	}
	return res.Rate, nil
}

// Track returns the payload of the track with id, nil when absent.
func (c *Client) Track(ctx context.Context, id string) (map[string]any, error) {
	res, err := call[IDRequest, TrackResponse](ctx, c, GetTrackProcedure, &IDRequest{ID: id})
	if err != nil {
		return nil, err
	}
	return res.Track, nil
}

func (c *Client) Queue(ctx context.Context) ([]map[string]any, error) {
	res, err := call[Empty, QueueResponse](ctx, c, GetQueueProcedure, &Empty{})
	if err != nil {
		return nil, err
	}
	return res.Tracks, nil
}

// CurrentTrack returns the current track id. ok is false when nothing is
// current.
func (c *Client) CurrentTrack(ctx context.Context) (id string, ok bool, err error) {
	res, err := call[Empty, CurrentTrackResponse](ctx, c, GetCurrentTrackProcedure, &Empty{})
	if err != nil || res.ID == nil {
		return "", false, err
	}
	return *res.ID, true, nil
}

func (c *Client) seconds(ctx context.Context, procedure string) (float64, error) {
	res, err := call[Empty, SecondsMessage](ctx, c, procedure, &Empty{})
	if err != nil {
		return 0, err
	}
	return res.Seconds, nil
}

func (c *Client) Duration(ctx context.Context) (float64, error) {
	return c.seconds(ctx, GetDurationProcedure)
}

func (c *Client) BufferedPosition(ctx context.Context) (float64, error) {
	return c.seconds(ctx, GetBufferedPositionProcedure)
}

func (c *Client) Position(ctx context.Context) (float64, error) {
	return c.seconds(ctx, GetPositionProcedure)
}

func (c *Client) State(ctx context.Context) (int, error) {
	res, err := call[Empty, StateResponse](ctx, c, GetStateProcedure, &Empty{})
	if err != nil {
		return 0, err
	}
	return res.State, nil
}

// Events opens the event stream. Cancel ctx to close it.
func (c *Client) Events(ctx context.Context) (*connect.ServerStreamForClient[EventMessage], error) {
	client := connect.NewClient[Empty, EventMessage](c.httpClient, c.baseURL+SubscribeEventsProcedure, c.opts...)
	return client.CallServerStream(ctx, connect.NewRequest(&Empty{}))
}
