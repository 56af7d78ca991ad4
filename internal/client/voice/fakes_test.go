package voice

import (
	"fmt"
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/Patryk-Bura/discord-clone/internal/core/domain"
	"github.com/Patryk-Bura/discord-clone/internal/relay"
)

type invocation struct {
	op      relay.Op
	payload any
}

type fakeSignaler struct {
	invokes []invocation
	failOn  map[relay.Op]error
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{failOn: make(map[relay.Op]error)}
}

func (s *fakeSignaler) Invoke(op relay.Op, payload any) error {
	if err := s.failOn[op]; err != nil {
		return err
	}
	s.invokes = append(s.invokes, invocation{op: op, payload: payload})
	return nil
}

func (s *fakeSignaler) ops() []relay.Op {
	ops := make([]relay.Op, 0, len(s.invokes))
	for _, inv := range s.invokes {
		ops = append(ops, inv.op)
	}
	return ops
}

func (s *fakeSignaler) count(op relay.Op) int {
	n := 0
	for _, inv := range s.invokes {
		if inv.op == op {
			n++
		}
	}
	return n
}

func (s *fakeSignaler) last(t *testing.T, op relay.Op) any {
	t.Helper()
	for i := len(s.invokes) - 1; i >= 0; i-- {
		if s.invokes[i].op == op {
			return s.invokes[i].payload
		}
	}
	t.Fatalf("no %s invocation", op)
	return nil
}

type fakePC struct {
	localDesc  *webrtc.SessionDescription
	remoteDesc *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	closed     bool

	offerErr  error
	answerErr error
	attachErr error

	onCandidate func(webrtc.ICECandidateInit)
	onTrack     func(RemoteAudioTrack)
	onState     func(webrtc.ICEConnectionState)
}

func (p *fakePC) CreateOffer() (webrtc.SessionDescription, error) {
	if p.offerErr != nil {
		return webrtc.SessionDescription{}, p.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 fake-offer"}, nil
}

func (p *fakePC) CreateAnswer() (webrtc.SessionDescription, error) {
	if p.answerErr != nil {
		return webrtc.SessionDescription{}, p.answerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 fake-answer"}, nil
}

func (p *fakePC) SetLocalDescription(desc webrtc.SessionDescription) error {
	p.localDesc = &desc
	return nil
}

func (p *fakePC) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.remoteDesc = &desc
	return nil
}

func (p *fakePC) RemoteDescription() *webrtc.SessionDescription { return p.remoteDesc }

func (p *fakePC) AddICECandidate(cand webrtc.ICECandidateInit) error {
	p.candidates = append(p.candidates, cand)
	return nil
}

func (p *fakePC) AttachAudio(track webrtc.TrackLocal) error { return p.attachErr }

func (p *fakePC) OnICECandidate(fn func(webrtc.ICECandidateInit))               { p.onCandidate = fn }
func (p *fakePC) OnTrack(fn func(RemoteAudioTrack))                             { p.onTrack = fn }
func (p *fakePC) OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState)) { p.onState = fn }

func (p *fakePC) Close() error {
	p.closed = true
	return nil
}

type fakePCFactory struct {
	created []*fakePC
	err     error
}

func (f *fakePCFactory) NewPeerConnection() (PeerConnection, error) {
	if f.err != nil {
		return nil, f.err
	}
	pc := &fakePC{}
	f.created = append(f.created, pc)
	return pc, nil
}

type fakeLocalTrack struct {
	enabled bool
	closed  bool
}

func (t *fakeLocalTrack) Track() webrtc.TrackLocal { return nil }
func (t *fakeLocalTrack) SetEnabled(enabled bool)  { t.enabled = enabled }
func (t *fakeLocalTrack) Enabled() bool            { return t.enabled }
func (t *fakeLocalTrack) Close() error {
	t.closed = true
	return nil
}

type fakeMic struct {
	openErr error
	opened  []*fakeLocalTrack
}

func (m *fakeMic) Open() (LocalAudioTrack, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	track := &fakeLocalTrack{enabled: true}
	m.opened = append(m.opened, track)
	return track, nil
}

type fakeOutput struct {
	muted  bool
	closed bool
}

func (o *fakeOutput) SetMuted(muted bool) { o.muted = muted }
func (o *fakeOutput) Close() error {
	o.closed = true
	return nil
}

type fakeOutputFactory struct {
	outputs map[domain.UserID][]*fakeOutput
	err     error
}

func newFakeOutputFactory() *fakeOutputFactory {
	return &fakeOutputFactory{outputs: make(map[domain.UserID][]*fakeOutput)}
}

func (f *fakeOutputFactory) NewOutput(user domain.UserID, track RemoteAudioTrack) (AudioOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := &fakeOutput{}
	f.outputs[user] = append(f.outputs[user], out)
	return out, nil
}

type fakeRemoteTrack struct {
	id string
}

func (t *fakeRemoteTrack) ID() string { return t.id }
func (t *fakeRemoteTrack) ReadRTP() (*rtp.Packet, error) {
	return nil, fmt.Errorf("fake track has no packets")
}

// testRig wires the voice subsystems around fakes, mirroring what the
// orchestrator constructor does.
type testRig struct {
	signaler *fakeSignaler
	factory  *fakePCFactory
	mic      *fakeMic
	outputs  *fakeOutputFactory
	media    *MediaRegistry
	peers    *PeerManager
	call     *CallStateMachine
	channel  *ChannelCoordinator
}

func newTestRig(t *testing.T, localID domain.UserID) *testRig {
	t.Helper()
	log := zap.NewNop().Sugar()
	rig := &testRig{
		signaler: newFakeSignaler(),
		factory:  &fakePCFactory{},
		mic:      &fakeMic{},
		outputs:  newFakeOutputFactory(),
	}
	rig.media = NewMediaRegistry(rig.mic, rig.outputs, log)
	rig.peers = NewPeerManager(rig.factory, rig.media, log)
	rig.call = NewCallStateMachine(localID, rig.signaler, rig.peers, log)
	rig.channel = NewChannelCoordinator(localID, rig.signaler, rig.peers, rig.media, log)

	rig.call.SetBusyCheck(rig.channel.Joined)
	rig.channel.SetBusyCheck(rig.call.Busy)
	release := func() {
		rig.media.ReleaseLocalIfUnused(rig.call.Busy(), rig.channel.Joined())
	}
	rig.call.SetReleaseHook(release)
	rig.channel.SetReleaseHook(release)
	return rig
}

// pc returns the fake behind the live link to the given remote.
func (r *testRig) pc(t *testing.T, remote domain.UserID) *fakePC {
	t.Helper()
	link, ok := r.peers.Get(remote)
	if !ok {
		t.Fatalf("no link to %s", remote)
	}
	return link.PC.(*fakePC)
}

func mustSDP(t *testing.T, desc webrtc.SessionDescription) string {
	t.Helper()
	raw, err := encodeSDP(desc)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func mustCandidate(t *testing.T, candidate string) string {
	t.Helper()
	raw, err := encodeCandidate(webrtc.ICECandidateInit{Candidate: candidate})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}
