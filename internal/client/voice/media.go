package voice

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"

	"github.com/Patryk-Bura/discord-clone/internal/core/domain"
)

// LocalAudioTrack is the send side of the user's microphone. Disabling it
// keeps the track attached but stops frames from leaving the client, which is
// how muting works without renegotiation.
type LocalAudioTrack interface {
	Track() webrtc.TrackLocal
	SetEnabled(enabled bool)
	Enabled() bool
	Close() error
}

// MicrophoneSource opens the capture device and yields a sendable track.
type MicrophoneSource interface {
	Open() (LocalAudioTrack, error)
}

// AudioOutput plays one remote participant's audio. Muting an output silences
// playback locally without touching the inbound track.
type AudioOutput interface {
	SetMuted(muted bool)
	Close() error
}

// AudioOutputFactory builds playback sinks for negotiated remote tracks.
type AudioOutputFactory interface {
	NewOutput(user domain.UserID, track RemoteAudioTrack) (AudioOutput, error)
}

const opusClockRate = 48000

// Microphone is the pion-backed MicrophoneSource. Capture hardware feeds
// encoded Opus frames in through WriteFrame; the track handles RTP
// packetization.
type Microphone struct {
	logger *zap.SugaredLogger
}

func NewMicrophone(logger *zap.SugaredLogger) *Microphone {
	return &Microphone{logger: logger}
}

func (m *Microphone) Open() (LocalAudioTrack, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2},
		"audio", "microphone",
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaUnavailable, err)
	}
	return &micTrack{
		track:   track,
		ssrc:    rand.Uint32(),
		seq:     uint16(rand.Uint32()),
		enabled: true,
		logger:  m.logger,
	}, nil
}

type micTrack struct {
	track *webrtc.TrackLocalStaticRTP

	mu        sync.Mutex
	ssrc      uint32
	seq       uint16
	timestamp uint32
	enabled   bool
	closed    bool

	logger *zap.SugaredLogger
}

func (t *micTrack) Track() webrtc.TrackLocal { return t.track }

func (t *micTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *micTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// WriteFrame sends one encoded Opus frame spanning the given number of
// samples. Frames are dropped silently while the track is disabled.
func (t *micTrack) WriteFrame(payload []byte, samples uint32) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return io.ErrClosedPipe
	}
	if !t.enabled {
		t.timestamp += samples
		t.mu.Unlock()
		return nil
	}
	t.seq++
	t.timestamp += samples
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    111,
			SequenceNumber: t.seq,
			Timestamp:      t.timestamp,
			SSRC:           t.ssrc,
		},
		Payload: payload,
	}
	t.mu.Unlock()

	if err := t.track.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("failed to write audio frame: %w", err)
	}
	return nil
}

// WriteSample is a convenience for callers that track frame durations rather
// than sample counts.
func (t *micTrack) WriteSample(sample media.Sample) error {
	samples := uint32(sample.Duration.Seconds() * opusClockRate)
	return t.WriteFrame(sample.Data, samples)
}

func (t *micTrack) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

// NullOutputFactory discards remote audio. It stands in where no playback
// device is wired up, keeping inbound tracks drained so the jitter buffer
// does not grow unbounded.
type NullOutputFactory struct {
	logger *zap.SugaredLogger
}

func NewNullOutputFactory(logger *zap.SugaredLogger) *NullOutputFactory {
	return &NullOutputFactory{logger: logger}
}

func (f *NullOutputFactory) NewOutput(user domain.UserID, track RemoteAudioTrack) (AudioOutput, error) {
	out := &nullOutput{done: make(chan struct{})}
	go func() {
		for {
			select {
			case <-out.done:
				return
			default:
			}
			if _, err := track.ReadRTP(); err != nil {
				if !errors.Is(err, io.EOF) {
					f.logger.Debugw("remote track drained",
						"user_id", string(user), "error", err)
				}
				return
			}
		}
	}()
	return out, nil
}

type nullOutput struct {
	once sync.Once
	done chan struct{}
}

func (o *nullOutput) SetMuted(bool) {}

func (o *nullOutput) Close() error {
	o.once.Do(func() { close(o.done) })
	return nil
}

// MediaRegistry owns the local microphone track and the playback outputs for
// every remote participant. The one local track is shared between a 1:1 call
// and a channel session and released only when neither needs it.
type MediaRegistry struct {
	mic     MicrophoneSource
	outputs AudioOutputFactory
	logger  *zap.SugaredLogger

	local   LocalAudioTrack
	remotes map[domain.UserID]AudioOutput
	deafen  bool
}

func NewMediaRegistry(mic MicrophoneSource, outputs AudioOutputFactory, logger *zap.SugaredLogger) *MediaRegistry {
	return &MediaRegistry{
		mic:     mic,
		outputs: outputs,
		logger:  logger,
		remotes: make(map[domain.UserID]AudioOutput),
	}
}

// EnsureLocal opens the microphone if it is not already open. Repeated calls
// return the same track.
func (r *MediaRegistry) EnsureLocal() (LocalAudioTrack, error) {
	if r.local != nil {
		return r.local, nil
	}
	track, err := r.mic.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaUnavailable, err)
	}
	r.local = track
	r.logger.Debugw("local audio track opened")
	return track, nil
}

// HasLocal reports whether the microphone track is currently open.
func (r *MediaRegistry) HasLocal() bool { return r.local != nil }

// ReleaseLocalIfUnused closes the microphone track when no call and no
// channel session is holding it.
func (r *MediaRegistry) ReleaseLocalIfUnused(inCall, inChannel bool) {
	if r.local == nil || inCall || inChannel {
		return
	}
	r.local.Close()
	r.local = nil
	r.logger.Debugw("local audio track released")
}

// SetLocalEnabled flips the send gate on the microphone track.
func (r *MediaRegistry) SetLocalEnabled(enabled bool) {
	if r.local != nil {
		r.local.SetEnabled(enabled)
	}
}

func (r *MediaRegistry) LocalEnabled() bool {
	return r.local != nil && r.local.Enabled()
}

// AttachRemote wires a negotiated inbound track to a playback output. A
// second track for the same user replaces the first rather than stacking, so
// renegotiation never produces doubled audio.
func (r *MediaRegistry) AttachRemote(user domain.UserID, track RemoteAudioTrack) error {
	if existing, ok := r.remotes[user]; ok {
		existing.Close()
		delete(r.remotes, user)
	}
	out, err := r.outputs.NewOutput(user, track)
	if err != nil {
		return fmt.Errorf("failed to open audio output for %s: %w", user, err)
	}
	out.SetMuted(r.deafen)
	r.remotes[user] = out
	r.logger.Debugw("remote audio attached",
		"user_id", string(user), "track_id", track.ID())
	return nil
}

// DetachRemote stops playback for the given user.
func (r *MediaRegistry) DetachRemote(user domain.UserID) {
	if out, ok := r.remotes[user]; ok {
		out.Close()
		delete(r.remotes, user)
	}
}

// SetDeafened mutes or unmutes playback of every remote participant, current
// and future.
func (r *MediaRegistry) SetDeafened(deafened bool) {
	r.deafen = deafened
	for _, out := range r.remotes {
		out.SetMuted(deafened)
	}
}

func (r *MediaRegistry) Deafened() bool { return r.deafen }

// RemoteCount reports the number of attached playback outputs.
func (r *MediaRegistry) RemoteCount() int { return len(r.remotes) }

// Reset tears down the local track and every output unconditionally.
func (r *MediaRegistry) Reset() {
	for user, out := range r.remotes {
		out.Close()
		delete(r.remotes, user)
	}
	if r.local != nil {
		r.local.Close()
		r.local = nil
	}
	r.deafen = false
}
