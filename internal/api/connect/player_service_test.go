package connect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/trackbridge/internal/app/broker"
	"github.com/osa030/trackbridge/internal/app/playback"
	"github.com/osa030/trackbridge/internal/app/session"
	"github.com/osa030/trackbridge/internal/infra/config"
	"github.com/osa030/trackbridge/internal/infra/engine"
	"github.com/osa030/trackbridge/internal/infra/metrics"
)

const testToken = "secret"

type bridge struct {
	client  *Client
	manager *session.Manager
	server  *httptest.Server

	mu   sync.Mutex
	fake *engine.Fake
}

func (b *bridge) engine() *engine.Fake {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fake
}

func newBridge(t *testing.T) *bridge {
	t.Helper()
	cfg, err := config.Parse([]byte("player: {cache_dir: " + t.TempDir() + "}"))
	require.NoError(t, err)

	b := &bridge{}
	mgr, err := session.NewManager(cfg,
		session.WithEngineFactory(func() engine.Engine {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.fake = engine.NewFake()
			return b.fake
		}),
		session.WithMetrics(metrics.New()),
	)
	require.NoError(t, err)
	b.manager = mgr

	brk := broker.New(mgr.Start, broker.Config{})
	svc := NewPlayerService(brk, metrics.New())
	path, handler := NewPlayerServiceHandler(svc, connect.WithInterceptors(NewAuthInterceptor(testToken)))

	mux := http.NewServeMux()
	mux.Handle(path, handler)
	b.server = httptest.NewServer(mux)
	b.client = NewClient(b.server.Client(), b.server.URL, testToken)

	t.Cleanup(func() {
		svc.Close()
		b.server.Close()
		brk.Close()
		mgr.Close()
	})
	return b
}

func payload(id string) map[string]any {
	return map[string]any{
		"id":       id,
		"url":      map[string]any{"uri": "https://cdn.example.com/" + id + ".mp3"},
		"title":    "Song " + id,
		"duration": 3.5,
	}
}

func payloadIDs(tracks []map[string]any) []string {
	out := make([]string, len(tracks))
	for i, t := range tracks {
		out[i], _ = t["id"].(string)
	}
	return out
}

func TestBridge_Auth(t *testing.T) {
	b := newBridge(t)
	ctx := context.Background()

	anon := NewClient(b.server.Client(), b.server.URL, "")
	err := anon.Play(ctx)
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	wrong := NewClient(b.server.Client(), b.server.URL, "guess")
	_, err = wrong.State(ctx)
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	assert.NoError(t, b.client.Play(ctx))
}

func TestBridge_Queue(t *testing.T) {
	b := newBridge(t)
	ctx := context.Background()
	c := b.client

	require.NoError(t, c.Setup(ctx, map[string]any{"ratingType": 0}))
	require.NoError(t, c.Add(ctx, []map[string]any{payload("a"), payload("b"), payload("c")}, ""))
	require.NoError(t, c.Add(ctx, []map[string]any{payload("x")}, "b"))

	queue, err := c.Queue(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "x", "b", "c"}, payloadIDs(queue))
	assert.Equal(t, "Song a", queue[0]["title"])

	got, err := c.Track(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "b", got["id"])

	got, err = c.Track(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, got)

	id, ok, err := c.CurrentTrack(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a", id)

	require.NoError(t, c.Remove(ctx, []string{"x", "unknown"}))
	require.NoError(t, c.Remove(ctx, []string{"unknown"}))
	queue, err = c.Queue(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, payloadIDs(queue))

	require.NoError(t, c.Skip(ctx, "b"))
	id, _, err = c.CurrentTrack(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", id)

	require.NoError(t, c.RemoveUpcoming(ctx))
	queue, err = c.Queue(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, payloadIDs(queue))

	require.NoError(t, c.Reset(ctx))
	queue, err = c.Queue(ctx)
	require.NoError(t, err)
	assert.Empty(t, queue)
	_, ok, err = c.CurrentTrack(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBridge_ErrorCodes(t *testing.T) {
	b := newBridge(t)
	ctx := context.Background()
	c := b.client
	require.NoError(t, c.Add(ctx, []map[string]any{payload("a")}, ""))

	tests := []struct {
		name   string
		call   func() error
		code   playback.ErrorCode
		status connect.Code
	}{
		{"skip unknown", func() error { return c.Skip(ctx, "nope") }, playback.CodeTrackNotInQueue, connect.CodeNotFound},
		{"insert before unknown", func() error { return c.Add(ctx, []map[string]any{payload("b")}, "nope") }, playback.CodeTrackNotInQueue, connect.CodeNotFound},
		{"no tracks", func() error { return c.Add(ctx, nil, "") }, playback.CodeInvalidTrack, connect.CodeInvalidArgument},
		{"track without url", func() error { return c.Add(ctx, []map[string]any{{"id": "z"}}, "") }, playback.CodeInvalidTrack, connect.CodeInvalidArgument},
		{"no previous", func() error { return c.SkipToPrevious(ctx) }, playback.CodeNoPreviousTrack, connect.CodeFailedPrecondition},
		{"no next", func() error { return c.SkipToNext(ctx) }, playback.CodeQueueExhausted, connect.CodeFailedPrecondition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.Equal(t, tt.code, CodeOf(err))
			assert.Equal(t, tt.status, connect.CodeOf(err))
		})
	}
	assert.Equal(t, playback.ErrorCode(""), CodeOf(nil))
}

func TestBridge_TransportAndTimes(t *testing.T) {
	b := newBridge(t)
	ctx := context.Background()
	c := b.client

	// Nothing queued: position is unknown, duration and buffer read as zero
	_, err := c.Position(ctx)
	assert.Equal(t, playback.CodeUnknown, CodeOf(err))
	d, err := c.Duration(ctx)
	require.NoError(t, err)
	assert.Zero(t, d)
	buffered, err := c.BufferedPosition(ctx)
	require.NoError(t, err)
	assert.Zero(t, buffered)

	require.NoError(t, c.Add(ctx, []map[string]any{payload("a")}, ""))
	d, err = c.Duration(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 3.5, d, 0.001)

	require.NoError(t, c.SeekTo(ctx, 1.2345))
	pos, err := c.Position(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1.234, pos, 0.0001)

	require.NoError(t, c.Play(ctx))
	b.engine().SetState(engine.StateReady)
	state, err := c.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, int(playback.StatePlaying), state)

	require.NoError(t, c.Pause(ctx))
	state, err = c.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, int(playback.StatePaused), state)

	require.NoError(t, c.Stop(ctx))
	pos, err = c.Position(ctx)
	require.NoError(t, err)
	assert.Zero(t, pos)

	require.NoError(t, c.SetVolume(ctx, 0.25))
	v, err := c.Volume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.25, v)

	require.NoError(t, c.SetRate(ctx, 1.5))
	r, err := c.Rate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.5, r)
}

func TestBridge_EventsOpenBeforeFirstEvent(t *testing.T) {
	b := newBridge(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Nothing has been published yet, so only the response headers arrive.
	start := time.Now()
	stream, err := b.client.Events(ctx)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	require.Eventually(t, func() bool { return b.manager.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	_ = stream.Close()
	require.Eventually(t, func() bool { return b.manager.SubscriberCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestBridge_Events(t *testing.T) {
	b := newBridge(t)
	c := b.client

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := c.Events(ctx)
	require.NoError(t, err)
	defer stream.Close()
	require.Eventually(t, func() bool { return b.manager.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, c.Add(ctx, []map[string]any{payload("a"), payload("b")}, ""))
	require.NoError(t, c.Play(ctx))
	b.engine().SetState(engine.StateReady)
	b.engine().SetPosition(1500)
	b.engine().Advance()

	var got []*EventMessage
	var trackChanged *EventMessage
	for trackChanged == nil && stream.Receive() {
		msg := stream.Msg()
		got = append(got, msg)
		if msg.Type == "onTrackChanged" && msg.Next["id"] == "b" {
			trackChanged = msg
		}
	}
	require.NotNil(t, trackChanged, "stream ended: %v", stream.Err())

	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].SequenceNo, got[i-1].SequenceNo)
	}
	assert.Equal(t, "a", trackChanged.Previous["id"])
	assert.Equal(t, "b", trackChanged.Next["id"])
	require.NotNil(t, trackChanged.Position)
	assert.InDelta(t, 3.5, *trackChanged.Position, 0.001)

	var types []string
	for _, m := range got {
		types = append(types, m.Type)
	}
	assert.Contains(t, types, "onPlay")
	assert.Contains(t, types, "onStateChange")
	assert.Equal(t, "onTrackChanged", types[0], "adding to an empty queue reports the first item")
	assert.Nil(t, got[0].Previous)
}

func TestBridge_CommandsBeforeBinding(t *testing.T) {
	b := newBridge(t)
	ctx := context.Background()

	// Commands issued concurrently before anything is bound run in order
	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for _, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			errs <- b.client.Add(ctx, []map[string]any{payload(id)}, "")
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	queue, err := b.client.Queue(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, payloadIDs(queue))
}
