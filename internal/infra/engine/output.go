package engine

import (
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"
	zlog "github.com/rs/zerolog/log"
)

// Output renders the current media. The Player keeps time on its own clock,
// so an Output only has to follow the commands it receives.
type Output interface {
	Start(m Media, position time.Duration) error
	SetPaused(paused bool)
	SetVolume(v float64)
	SetSpeed(s float64)
	Stop()
}

// nopOutput renders nothing.
type nopOutput struct{}

func (nopOutput) Start(Media, time.Duration) error { return nil }
func (nopOutput) SetPaused(bool)                   {}
func (nopOutput) SetVolume(float64)                {}
func (nopOutput) SetSpeed(float64)                 {}
func (nopOutput) Stop()                            {}

const speakerSampleRate = beep.SampleRate(44100)

// SpeakerOutput plays media on the default audio device.
type SpeakerOutput struct {
	mu     sync.Mutex
	opened bool

	ctrl      *beep.Ctrl
	resampler *beep.Resampler
	volume    *effects.Volume
	rate      beep.SampleRate

	level float64
	speed float64
}

// NewSpeakerOutput creates a speaker output. The device is opened on first use.
func NewSpeakerOutput() *SpeakerOutput {
	return &SpeakerOutput{level: 1, speed: 1}
}

// Start begins rendering m from position, replacing whatever was playing.
func (o *SpeakerOutput) Start(m Media, position time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	streamer := m.Streamer()
	if streamer == nil {
		o.stopLocked()
		return nil
	}
	if !o.opened {
		if err := speaker.Init(speakerSampleRate, speakerSampleRate.N(time.Second/10)); err != nil {
			return errors.Wrap(err, "failed to initialize speaker")
		}
		o.opened = true
	}
	speaker.Clear()

	format := m.Format()
	speaker.Lock()
	err := streamer.Seek(min(format.SampleRate.N(position), streamer.Len()))
	speaker.Unlock()
	if err != nil {
		return errors.Wrap(err, "failed to seek media")
	}

	o.rate = format.SampleRate
	o.ctrl = &beep.Ctrl{Streamer: streamer}
	o.resampler = beep.ResampleRatio(4, o.ratio(), o.ctrl)
	o.volume = &effects.Volume{Streamer: o.resampler, Base: 2}
	o.applyVolume()

	speaker.Play(o.volume)
	zlog.Debug().Msgf("speaker output started at %v", position)
	return nil
}

// SetPaused pauses or resumes rendering.
func (o *SpeakerOutput) SetPaused(paused bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ctrl == nil {
		return
	}
	speaker.Lock()
	o.ctrl.Paused = paused
	speaker.Unlock()
}

// SetVolume sets the output level in the range 0..1.
func (o *SpeakerOutput) SetVolume(v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.level = v
	if o.volume == nil {
		return
	}
	speaker.Lock()
	o.applyVolume()
	speaker.Unlock()
}

// SetSpeed changes the playback rate of the current media.
func (o *SpeakerOutput) SetSpeed(s float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.speed = s
	if o.resampler == nil {
		return
	}
	speaker.Lock()
	o.resampler.SetRatio(o.ratio())
	speaker.Unlock()
}

// Stop silences the device.
func (o *SpeakerOutput) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
}

func (o *SpeakerOutput) stopLocked() {
	o.ctrl, o.resampler, o.volume = nil, nil, nil
	if o.opened {
		speaker.Clear()
	}
}

func (o *SpeakerOutput) ratio() float64 {
	return float64(o.rate) / float64(speakerSampleRate) * o.speed
}

// applyVolume maps the linear 0..1 level onto the exponential gain of effects.Volume.
func (o *SpeakerOutput) applyVolume() {
	if o.level <= 0 {
		o.volume.Silent = true
		return
	}
	o.volume.Silent = false
	o.volume.Volume = math.Log2(o.level)
}
