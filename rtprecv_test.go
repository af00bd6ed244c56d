// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 rtprecv contributors

package rtprecv

import (
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/silentwave/rtprecv/rtpcodec"
	"github.com/silentwave/rtprecv/sap"
	"github.com/silentwave/rtprecv/sink"
)

// fakeSink is a minimal in-memory sink.Sink for exercising Module without
// a real host audio mixer.
type fakeSink struct {
	mu      sync.Mutex
	latency int64
	adapter sink.PlaybackAdapter
}

func (s *fakeSink) GetLatencyUs() (int64, error) { return s.latency, nil }
func (s *fakeSink) SetPlaybackAdapter(a sink.PlaybackAdapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapter = a
}
func (s *fakeSink) AttachPoll(int, sink.PollEvents) error {
	return nil
}
func (s *fakeSink) DetachPoll() error { return nil }
func (s *fakeSink) RequestRewind(int, bool, bool, bool) error {
	return nil
}
func (s *fakeSink) SetRequestedLatencyUs(us int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = us
	return us, nil
}
func (s *fakeSink) UnderrunCount() uint64 { return 0 }
func (s *fakeSink) RenderDelayUs() int64  { return 0 }

func newTestModule(t *testing.T, sapSuffix int) (*Module, chan string) {
	t.Helper()
	created := make(chan string, 32)
	sinkNew := func(origin string, spec rtpcodec.SampleSpec) (sink.Sink, error) {
		created <- origin
		return &fakeSink{latency: 10_000}, nil
	}

	rawArgs := fmt.Sprintf("sink=test;sap_address=239.9.9.%d", sapSuffix)
	m, err := New(rawArgs, sinkNew, nil, zerolog.Nop())
	if err != nil {
		t.Skipf("no multicast-capable environment available: %v", err)
	}
	return m, created
}

func announceFor(origin string, sessionID int, groupAddr string, groupPort int) sap.Announce {
	body := fmt.Sprintf("v=0\r\n"+
		"o=%s %d 1 IN IP4 127.0.0.1\r\n"+
		"s=Integration Stream\r\n"+
		"c=IN IP4 %s/255\r\n"+
		"t=0 0\r\n"+
		"m=audio %d RTP/AVP 11\r\n"+
		"a=rtpmap:11 L16/44100/1\r\n", origin, sessionID, groupAddr, groupPort)

	datagram := append([]byte{0x20, 0, 0, 1}, net.ParseIP("127.0.0.1").To4()...)
	datagram = append(datagram, []byte("application/sdp\x00")...)
	datagram = append(datagram, []byte(body)...)

	ann, err := sap.DecodeAnnounce(datagram)
	if err != nil {
		panic(err) // test fixture is always well-formed
	}
	return ann
}

// TestCreateRefreshDestroyLifecycle reproduces the happy-path scenario
// end to end: a new origin creates a session, the handler refreshes a
// repeat announcement rather than recreating, and Destroy tears it down.
func TestCreateRefreshDestroyLifecycle(t *testing.T) {
	mod, created := newTestModule(t, 21)
	defer mod.Shutdown()

	ann := announceFor("alice", 1, "239.8.8.8", 6000)
	origin := sap.OriginKey(ann.SDP)

	err := mod.Create(origin, ann)
	if err != nil {
		t.Skipf("multicast join failed in this environment: %v", err)
	}
	require.Equal(t, origin, <-created)
	require.Equal(t, 1, mod.SessionCount())

	require.True(t, mod.RefreshIfExists(origin))
	require.Equal(t, 1, mod.SessionCount())

	mod.Destroy(origin)
	require.Equal(t, 0, mod.SessionCount())
}

// TestRefreshIfExistsFalseForUnknownOrigin covers the "no live session"
// branch the discovery loop relies on to decide whether to call Create.
func TestRefreshIfExistsFalseForUnknownOrigin(t *testing.T) {
	mod, _ := newTestModule(t, 22)
	defer mod.Shutdown()
	require.False(t, mod.RefreshIfExists("nobody 1 1 IN IP4 127.0.0.1"))
}

// TestCapacityRejectsSeventeenthSession reproduces the MAX_SESSIONS cap
// scenario: sixteen distinct origins succeed, the seventeenth is
// rejected and the registry size is unchanged.
func TestCapacityRejectsSeventeenthSession(t *testing.T) {
	mod, created := newTestModule(t, 23)
	defer mod.Shutdown()

	for i := 0; i < 16; i++ {
		origin := fmt.Sprintf("origin-%d", i)
		ann := announceFor(origin, i, fmt.Sprintf("239.7.7.%d", 10+i), 6100+i)
		if err := mod.Create(origin, ann); err != nil {
			t.Skipf("multicast join failed in this environment: %v", err)
		}
		<-created
	}
	require.Equal(t, 16, mod.SessionCount())

	ann := announceFor("one-too-many", 99, "239.7.7.99", 6200)
	err := mod.Create("one-too-many", ann)
	require.Error(t, err)
	require.Equal(t, 16, mod.SessionCount())
}

// TestDestroyUnknownOriginIsNoOp covers the liveness-reaper path calling
// Destroy on an origin that has already been removed.
func TestDestroyUnknownOriginIsNoOp(t *testing.T) {
	mod, _ := newTestModule(t, 24)
	defer mod.Shutdown()
	mod.Destroy("nobody 1 1 IN IP4 127.0.0.1") // must not panic
	require.Equal(t, 0, mod.SessionCount())
}
