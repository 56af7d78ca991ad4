package voice

import (
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newPeerRig(t *testing.T) (*PeerManager, *fakePCFactory, *fakeMic, *MediaRegistry) {
	t.Helper()
	log := zap.NewNop().Sugar()
	factory := &fakePCFactory{}
	mic := &fakeMic{}
	media := NewMediaRegistry(mic, newFakeOutputFactory(), log)
	return NewPeerManager(factory, media, log), factory, mic, media
}

func TestPeerManager_CreateIsIdempotent(t *testing.T) {
	peers, factory, _, _ := newPeerRig(t)

	first, err := peers.Create("bob", "general", RoleOfferer, LinkCallbacks{})
	require.NoError(t, err)
	second, err := peers.Create("bob", "general", RoleOfferer, LinkCallbacks{})
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Len(t, factory.created, 1)
	assert.Equal(t, 1, peers.Count())
}

func TestPeerManager_CreateOpensMicrophoneOnce(t *testing.T) {
	peers, _, mic, _ := newPeerRig(t)

	_, err := peers.Create("bob", "general", RoleOfferer, LinkCallbacks{})
	require.NoError(t, err)
	_, err = peers.Create("carol", "general", RoleOfferer, LinkCallbacks{})
	require.NoError(t, err)

	assert.Len(t, mic.opened, 1)
}

func TestPeerManager_GenerationDistinguishesReplacedLinks(t *testing.T) {
	peers, _, _, _ := newPeerRig(t)

	old, err := peers.Create("bob", "", RoleOfferer, LinkCallbacks{})
	require.NoError(t, err)
	assert.True(t, peers.IsCurrent(old))

	peers.Close("bob")
	assert.False(t, peers.IsCurrent(old))

	replacement, err := peers.Create("bob", "", RoleAnswerer, LinkCallbacks{})
	require.NoError(t, err)
	assert.True(t, peers.IsCurrent(replacement))
	assert.False(t, peers.IsCurrent(old))
	assert.NotEqual(t, old.Generation(), replacement.Generation())
}

func TestPeerManager_CandidatesBufferUntilRemoteDescription(t *testing.T) {
	peers, _, _, _ := newPeerRig(t)
	link, err := peers.Create("bob", "", RoleAnswerer, LinkCallbacks{})
	require.NoError(t, err)
	pc := link.PC.(*fakePC)

	require.NoError(t, peers.AddCandidate(link, webrtc.ICECandidateInit{Candidate: "a"}))
	require.NoError(t, peers.AddCandidate(link, webrtc.ICECandidateInit{Candidate: "b"}))
	assert.Empty(t, pc.candidates)

	require.NoError(t, peers.SetRemoteDescription(link, webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer, SDP: "v=0",
	}))
	require.Len(t, pc.candidates, 2)
	assert.Equal(t, "a", pc.candidates[0].Candidate)
	assert.Equal(t, "b", pc.candidates[1].Candidate)

	// After the description, candidates apply immediately.
	require.NoError(t, peers.AddCandidate(link, webrtc.ICECandidateInit{Candidate: "c"}))
	assert.Len(t, pc.candidates, 3)
}

func TestPeerManager_BufferEarlyKeepsArrivalOrder(t *testing.T) {
	peers, _, _, _ := newPeerRig(t)
	link, err := peers.Create("bob", "", RoleAnswerer, LinkCallbacks{})
	require.NoError(t, err)

	require.NoError(t, peers.AddCandidate(link, webrtc.ICECandidateInit{Candidate: "late"}))
	peers.BufferEarly(link, []webrtc.ICECandidateInit{{Candidate: "early-1"}, {Candidate: "early-2"}})

	require.NoError(t, peers.SetRemoteDescription(link, webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer, SDP: "v=0",
	}))

	pc := link.PC.(*fakePC)
	require.Len(t, pc.candidates, 3)
	assert.Equal(t, "early-1", pc.candidates[0].Candidate)
	assert.Equal(t, "early-2", pc.candidates[1].Candidate)
	assert.Equal(t, "late", pc.candidates[2].Candidate)
}

func TestPeerManager_CloseChannelIsSelective(t *testing.T) {
	peers, _, _, _ := newPeerRig(t)
	_, err := peers.Create("bob", "general", RoleOfferer, LinkCallbacks{})
	require.NoError(t, err)
	_, err = peers.Create("carol", "gaming", RoleOfferer, LinkCallbacks{})
	require.NoError(t, err)
	_, err = peers.Create("dave", "", RoleOfferer, LinkCallbacks{})
	require.NoError(t, err)

	peers.CloseChannel("general")

	_, bobAlive := peers.Get("bob")
	_, carolAlive := peers.Get("carol")
	_, daveAlive := peers.Get("dave")
	assert.False(t, bobAlive)
	assert.True(t, carolAlive)
	assert.True(t, daveAlive)
}

func TestPeerManager_CloseDetachesPlayback(t *testing.T) {
	log := zap.NewNop().Sugar()
	outputs := newFakeOutputFactory()
	media := NewMediaRegistry(&fakeMic{}, outputs, log)
	peers := NewPeerManager(&fakePCFactory{}, media, log)

	link, err := peers.Create("bob", "", RoleOfferer, LinkCallbacks{})
	require.NoError(t, err)
	require.NoError(t, media.AttachRemote("bob", &fakeRemoteTrack{id: "t-1"}))

	peers.Close("bob")

	assert.True(t, link.PC.(*fakePC).closed)
	require.Len(t, outputs.outputs["bob"], 1)
	assert.True(t, outputs.outputs["bob"][0].closed)
	assert.Zero(t, media.RemoteCount())
}

func TestPeerManager_CreateFailureLeavesNoLink(t *testing.T) {
	peers, factory, _, _ := newPeerRig(t)
	factory.err = assert.AnError

	_, err := peers.Create("bob", "", RoleOfferer, LinkCallbacks{})
	assert.Error(t, err)
	assert.Zero(t, peers.Count())
}
