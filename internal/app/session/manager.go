// Package session provides the session manager.
package session

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/trackbridge/internal/app/filter"
	"github.com/osa030/trackbridge/internal/app/notification"
	"github.com/osa030/trackbridge/internal/app/playback"
	"github.com/osa030/trackbridge/internal/domain/track"
	"github.com/osa030/trackbridge/internal/infra/cache"
	"github.com/osa030/trackbridge/internal/infra/config"
	"github.com/osa030/trackbridge/internal/infra/datasource"
	"github.com/osa030/trackbridge/internal/infra/engine"
	"github.com/osa030/trackbridge/internal/infra/media"
	"github.com/osa030/trackbridge/internal/infra/metrics"
)

var ErrSessionClosed = errors.New("session is closed")

// cacheSubdir is where the player keeps its media cache under the cache dir.
const cacheSubdir = "TrackPlayer"

// Options are the player options a host passes to setup.
type Options struct {
	MaxCacheSize int64 `mapstructure:"maxCacheSize" validate:"gte=0"` // KiB
	RatingType   int   `mapstructure:"ratingType" validate:"gte=0,lte=6"`
}

// UpdateOptions are the options a host may change after setup.
type UpdateOptions struct {
	RatingType               *int  `mapstructure:"ratingType"`
	Capabilities             []int `mapstructure:"capabilities"`
	NotificationCapabilities []int `mapstructure:"notificationCapabilities"`
	CompactCapabilities      []int `mapstructure:"compactCapabilities"`
}

// EngineFactory creates the engine for a new player.
type EngineFactory func() engine.Engine

// Option configures a Manager.
type Option func(*Manager)

// WithEngineFactory replaces the engine a player is built on.
func WithEngineFactory(f EngineFactory) Option {
	return func(m *Manager) { m.newEngine = f }
}

// WithMetrics records events and cache activity.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// player is everything built by setup and torn down by Destroy.
type player struct {
	controller *playback.Controller
	cache      *cache.Cache
	chain      *filter.Chain
	done       chan struct{} // closed when event forwarding ends
}

// Manager owns the player lifecycle behind the bridge. It creates the player
// on setup or on first use, forwards its events to subscribers, and tears it
// down on Destroy.
type Manager struct {
	mu sync.RWMutex

	config       *config.Config
	newEngine    EngineFactory
	loader       *engine.Loader
	metrics      *metrics.Metrics
	notification *notification.Manager

	player       *player
	ratingType   track.RatingType
	capabilities UpdateOptions
	closed       bool
}

// NewManager creates a new session manager.
func NewManager(cfg *config.Config, opts ...Option) (*Manager, error) {
	ratingType, err := track.ParseRatingType(cfg.Player.RatingType)
	if err != nil {
		return nil, errors.Wrap(err, "invalid default rating type")
	}
	m := &Manager{
		config:       cfg,
		notification: notification.NewManager(),
		ratingType:   ratingType,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.newEngine == nil {
		m.loader = engine.NewLoader(cfg.Engine.LoaderWorkers, cfg.Engine.LoaderDepth)
		m.newEngine = m.defaultEngine
	}
	return m, nil
}

func (m *Manager) defaultEngine() engine.Engine {
	var out engine.Output
	if m.config.Engine.Output == "speaker" {
		out = engine.NewSpeakerOutput()
	}
	return engine.NewPlayer(engine.PlayerConfig{
		TickInterval: m.config.Engine.TickInterval,
		Loader:       m.loader,
		Output:       out,
	})
}

// Start binds the manager for the connection broker. The player itself is
// created lazily.
func (m *Manager) Start(ctx context.Context) (*Manager, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrSessionClosed
	}
	zlog.Debug().Msg("session: bound")
	return m, nil
}

// Setup creates the player with the given options. Later calls are no-ops.
func (m *Manager) Setup(ctx context.Context, raw map[string]any) error {
	opts := Options{
		MaxCacheSize: m.config.Player.MaxCacheKiB,
		RatingType:   int(m.ratingType),
	}
	if err := decode(raw, &opts); err != nil {
		return errors.Wrap(err, "invalid setup options")
	}
	if err := validator.New().Struct(opts); err != nil {
		return errors.Wrap(err, "invalid setup options")
	}
	ratingType, err := track.ParseRatingType(opts.RatingType)
	if err != nil {
		return errors.Wrap(err, "invalid setup options")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrSessionClosed
	}
	if m.player != nil {
		zlog.Debug().Msg("session: player already set up")
		return nil
	}
	m.ratingType = ratingType
	return m.createLocked(opts.MaxCacheSize)
}

// UpdateOptions records the rating type and capabilities for later adds.
func (m *Manager) UpdateOptions(ctx context.Context, raw map[string]any) error {
	var opts UpdateOptions
	if err := decode(raw, &opts); err != nil {
		return errors.Wrap(err, "invalid options")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if opts.RatingType != nil {
		rt, err := track.ParseRatingType(*opts.RatingType)
		if err != nil {
			return errors.Wrap(err, "invalid options")
		}
		m.ratingType = rt
	}
	m.capabilities = opts
	zlog.Debug().Msgf("session: options updated: rating=%s capabilities=%v", m.ratingType, opts.Capabilities)
	return nil
}

// Capabilities returns the capability lists from the last UpdateOptions.
func (m *Manager) Capabilities() UpdateOptions {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.capabilities
}

// RatingType returns the rating type used to decode added tracks.
func (m *Manager) RatingType() track.RatingType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ratingType
}

// Playback returns the controller, creating the player with configured
// defaults when setup has not run.
func (m *Manager) Playback() (*playback.Controller, error) {
	p, err := m.ensurePlayer()
	if err != nil {
		return nil, err
	}
	return p.controller, nil
}

func (m *Manager) ensurePlayer() (*player, error) {
	m.mu.RLock()
	p, closed := m.player, m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrSessionClosed
	}
	if p != nil {
		return p, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrSessionClosed
	}
	if m.player == nil {
		if err := m.createLocked(m.config.Player.MaxCacheKiB); err != nil {
			return nil, err
		}
	}
	return m.player, nil
}

// Add decodes host payloads, runs them through the filter chain and queues
// them before insertBeforeID, or at the end when it is empty.
func (m *Manager) Add(ctx context.Context, payloads []map[string]any, insertBeforeID string) error {
	p, err := m.ensurePlayer()
	if err != nil {
		return err
	}
	if len(payloads) == 0 {
		return errors.Wrap(playback.ErrInvalidTrack, "no tracks given")
	}

	ratingType := m.RatingType()
	tracks := make([]track.Track, 0, len(payloads))
	for i, payload := range payloads {
		t, err := track.FromMap(payload, ratingType)
		if err != nil {
			return errors.Wrapf(err, "track %d", i)
		}
		tracks = append(tracks, t)
	}

	m.mu.RLock()
	chain := p.chain
	m.mu.RUnlock()
	for _, t := range tracks {
		if result := chain.Execute(ctx, t); !result.Accepted {
			zlog.Info().Msgf("session: track %s rejected by %s: %s", t.ID, result.Filter, result.Code)
			return errors.Wrapf(playback.ErrInvalidTrack, "track %q rejected by %s: %s", t.ID, result.Filter, result.Code)
		}
	}

	if ms := m.config.Player.AddTimeoutMs; ms > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
		defer cancel()
	}
	return p.controller.Add(ctx, tracks, insertBeforeID)
}

// Subscribe registers stream for playback events.
func (m *Manager) Subscribe(stream notification.Stream) string {
	id := m.notification.Subscribe(stream)
	m.updateSubscribers()
	return id
}

// Unsubscribe removes an event subscription.
func (m *Manager) Unsubscribe(id string) {
	m.notification.Unsubscribe(id)
	m.updateSubscribers()
}

// SubscriberCount returns the number of event subscribers.
func (m *Manager) SubscriberCount() int {
	return m.notification.SubscriberCount()
}

func (m *Manager) updateSubscribers() {
	if m.metrics != nil {
		m.metrics.SetSubscribers(m.notification.SubscriberCount())
	}
}

// ApplyConfig takes a reloaded configuration. Player defaults apply to the
// next player. The filter chain of a running player is rebuilt.
func (m *Manager) ApplyConfig(cfg *config.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = cfg
	if m.player == nil {
		return
	}
	chain, err := filter.Build(filterSettings(cfg), filter.Deps{Queue: m.player.controller})
	if err != nil {
		zlog.Warn().Msgf("session: keeping previous filters: %v", err)
		return
	}
	m.player.chain = chain
	zlog.Info().Msgf("session: %d filters active", len(chain.Filters()))
}

// Destroy tears the player down. The next setup or command creates a new one.
func (m *Manager) Destroy() {
	m.mu.Lock()
	p := m.player
	m.player = nil
	m.mu.Unlock()

	if p == nil {
		return
	}
	p.controller.Close()
	<-p.done
	if err := p.cache.Close(); err != nil {
		zlog.Warn().Msgf("session: failed to close media cache: %v", err)
	}
	zlog.Info().Msg("session: player destroyed")
}

// Close destroys the player and drops all subscribers.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.Destroy()
	m.notification.Close()
	if m.loader != nil {
		m.loader.Close()
	}
}

func (m *Manager) createLocked(maxCacheKiB int64) error {
	cfg := m.config

	var observer cache.Observer
	if m.metrics != nil {
		observer = m.metrics
	}
	mediaCache, err := cache.New(cache.Config{
		Dir:      filepath.Join(cfg.Player.CacheDir, cacheSubdir),
		MaxBytes: maxCacheKiB * 1024,
		Observer: observer,
	})
	if err != nil {
		return errors.Wrap(err, "failed to open media cache")
	}

	local := datasource.NewDecryptingFileSource(
		cfg.Decryption.Enabled,
		datasource.HexChaCha20Resolver(cfg.Decryption.Key, cfg.Decryption.Nonce),
	)
	network := datasource.NewHTTPSource(datasource.HTTPConfig{
		UserAgent:      cfg.HTTP.UserAgent,
		ConnectTimeout: cfg.HTTP.ConnectTimeout,
	})

	controller := playback.NewController(
		m.newEngine(),
		media.NewFactory(local, mediaCache.Wrap(network), network),
		playback.Config{EventBuffer: cfg.Player.EventBuffer},
	)
	chain, err := filter.Build(filterSettings(cfg), filter.Deps{Queue: controller})
	if err != nil {
		controller.Close()
		_ = mediaCache.Close()
		return errors.Wrap(err, "failed to build filter chain")
	}

	p := &player{
		controller: controller,
		cache:      mediaCache,
		chain:      chain,
		done:       make(chan struct{}),
	}
	go m.forward(controller.Events(), p.done)
	m.player = p

	zlog.Info().Msgf("session: player created: cache=%d KiB rating=%s filters=%d",
		maxCacheKiB, m.ratingType, len(chain.Filters()))
	return nil
}

// forward broadcasts controller events until the controller closes.
func (m *Manager) forward(events <-chan playback.Event, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("session: event forwarding panicked: %v", r)
			// Keep draining so the controller never blocks on a full channel
			for range events {
			}
		}
	}()

	for e := range events {
		n := m.notification.Broadcast(e)
		if m.metrics != nil {
			m.metrics.Event(e.Type.String())
		}
		zlog.Debug().Msgf("session: event #%d %s", n.SequenceNo, e.Type)
	}
}

func filterSettings(cfg *config.Config) map[string]filter.Settings {
	out := make(map[string]filter.Settings, len(cfg.Filters))
	for name, f := range cfg.Filters {
		out[name] = filter.Settings{Enabled: f.Enabled, Settings: f.Settings}
	}
	return out
}

func decode(raw map[string]any, out any) error {
	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return d.Decode(raw)
}
