package syncengine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePlayer records every call; positionMS and playErr are settable per test.
type fakePlayer struct {
	mu         sync.Mutex
	positionMS int64
	playErr    error

	plays   []playCall
	seeks   []int64
	pauses  int
	resumes int
}

type playCall struct {
	uri string
	pos int64
	at  time.Time
}

func (p *fakePlayer) Play(uri string, pos int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playErr != nil {
		return p.playErr
	}
	p.plays = append(p.plays, playCall{uri: uri, pos: pos, at: time.Now()})
	return nil
}

func (p *fakePlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauses++
	return nil
}

func (p *fakePlayer) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resumes++
	return nil
}

func (p *fakePlayer) Seek(pos int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeks = append(p.seeks, pos)
	return nil
}

func (p *fakePlayer) Position() (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionMS, nil
}

func (p *fakePlayer) playCalls() []playCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]playCall(nil), p.plays...)
}

func (p *fakePlayer) seekCalls() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.seeks...)
}

func (p *fakePlayer) setPlayErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playErr = err
}

func TestDriftCorrection_AboveThresholdSeeks(t *testing.T) {
	p := &fakePlayer{positionMS: 10_080}
	e := New(p, Options{})
	defer e.Close()

	// drift = 80 > threshold 75, no prior correction
	e.HandleSyncPosition(10_000)

	require.Equal(t, []int64{10_000}, p.seekCalls())
}

func TestDriftCorrection_WithinThresholdIgnored(t *testing.T) {
	p := &fakePlayer{positionMS: 10_040}
	e := New(p, Options{})
	defer e.Close()

	e.HandleSyncPosition(10_000)

	assert.Empty(t, p.seekCalls())
}

func TestDriftCorrection_Debounced(t *testing.T) {
	now := time.Unix(100, 0)
	p := &fakePlayer{positionMS: 10_080}
	e := New(p, Options{Now: func() time.Time { return now }})
	defer e.Close()

	e.HandleSyncPosition(10_000)
	require.Len(t, p.seekCalls(), 1)

	// 200ms later the same drift must not trigger another seek.
	now = now.Add(200 * time.Millisecond)
	e.HandleSyncPosition(10_000)
	assert.Len(t, p.seekCalls(), 1)

	// Once the debounce window has fully elapsed it fires again.
	now = now.Add(300 * time.Millisecond)
	e.HandleSyncPosition(10_000)
	assert.Len(t, p.seekCalls(), 2)
}

func TestDriftCorrection_HostNeverCorrects(t *testing.T) {
	p := &fakePlayer{positionMS: 20_000}
	e := New(p, Options{Host: true})
	defer e.Close()

	e.HandleSyncPosition(10_000)

	assert.Empty(t, p.seekCalls())
}

func TestHandlePlay_CountdownFiresAtScheduledStart(t *testing.T) {
	p := &fakePlayer{}
	var mu sync.Mutex
	var shown []int
	e := New(p, Options{
		CountdownTick: 20 * time.Millisecond,
		OnCountdown: func(s int) {
			mu.Lock()
			shown = append(shown, s)
			mu.Unlock()
		},
	})
	defer e.Close()

	start := time.Now().Add(2500 * time.Millisecond)
	e.HandlePlay(PlayCommand{TrackURI: "uri", PositionMS: 0, StartTimeMS: start.UnixMilli()})

	require.Eventually(t, func() bool { return len(p.playCalls()) == 1 }, 4*time.Second, 10*time.Millisecond)

	call := p.playCalls()[0]
	assert.Equal(t, "uri", call.uri)
	// Never early, even if ticks are delayed.
	assert.False(t, call.at.Before(start), "play fired %v before scheduled start", start.Sub(call.at))

	mu.Lock()
	defer mu.Unlock()
	// 2.5s out counts down through 3, 2, 1 and clears on fire.
	assert.Equal(t, []int{3, 2, 1, 0}, shown)
}

func TestHandlePlay_LateCommandPlaysImmediately(t *testing.T) {
	p := &fakePlayer{}
	e := New(p, Options{})
	defer e.Close()

	// Scheduled start already passed in transit.
	e.HandlePlay(PlayCommand{TrackURI: "uri", PositionMS: 1234, StartTimeMS: time.Now().Add(-time.Second).UnixMilli()})

	calls := p.playCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, int64(1234), calls[0].pos)
}

func TestHandlePlay_NewCommandSupersedesCountdown(t *testing.T) {
	p := &fakePlayer{}
	e := New(p, Options{CountdownTick: 10 * time.Millisecond})
	defer e.Close()

	e.HandlePlay(PlayCommand{TrackURI: "old", StartTimeMS: time.Now().Add(500 * time.Millisecond).UnixMilli()})
	e.HandlePlay(PlayCommand{TrackURI: "new", StartTimeMS: time.Now().Add(100 * time.Millisecond).UnixMilli()})

	require.Eventually(t, func() bool { return len(p.playCalls()) >= 1 }, time.Second, 10*time.Millisecond)
	// Give the cancelled countdown room to misfire if it were going to.
	time.Sleep(600 * time.Millisecond)

	calls := p.playCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "new", calls[0].uri)
}

// A countdown that loses the generation race must produce no effect at all:
// no playback, and no countdown-cleared callback for a start that will never
// happen.
func TestCountdownFire_StaleGenerationIsSilent(t *testing.T) {
	p := &fakePlayer{}
	var mu sync.Mutex
	var shown []int
	e := New(p, Options{
		CountdownTick: 10 * time.Millisecond,
		OnCountdown: func(s int) {
			mu.Lock()
			shown = append(shown, s)
			mu.Unlock()
		},
	})
	defer e.Close()

	e.HandlePlay(PlayCommand{TrackURI: "old", StartTimeMS: time.Now().Add(time.Hour).UnixMilli()})
	stale := e.gen
	e.HandlePlay(PlayCommand{TrackURI: "new", StartTimeMS: time.Now().Add(time.Hour).UnixMilli()})

	// Drive the superseded countdown's zero path directly.
	e.fire(stale, PlayCommand{TrackURI: "old"})

	assert.Empty(t, p.playCalls())
	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, shown, 0)
}

func TestHandleResume_AdjustsForLatency(t *testing.T) {
	now := time.Unix(1000, 0)
	p := &fakePlayer{}
	e := New(p, Options{Now: func() time.Time { return now }})
	defer e.Close()

	// Command stamped 120ms before our clock reads it.
	e.HandleResume(5000, now.UnixMilli()-120)

	require.Equal(t, []int64{5120}, p.seekCalls())
	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, 1, p.resumes)
}

func TestHandleSeek_AdjustsForLatency(t *testing.T) {
	now := time.Unix(1000, 0)
	p := &fakePlayer{}
	e := New(p, Options{Now: func() time.Time { return now }})
	defer e.Close()

	e.HandleSeek(8000, now.UnixMilli()-40)

	require.Equal(t, []int64{8040}, p.seekCalls())
}

func TestAutoplayBlock_UnlockGestureIsSticky(t *testing.T) {
	p := &fakePlayer{}
	p.setPlayErr(ErrAutoplayBlocked)
	e := New(p, Options{})
	defer e.Close()

	e.HandlePlay(PlayCommand{TrackURI: "uri", PositionMS: 300})
	assert.True(t, e.AwaitingGesture())
	assert.False(t, e.Playing())
	assert.Empty(t, p.playCalls())

	// The user gesture unblocks the platform and replays the command.
	p.setPlayErr(nil)
	require.NoError(t, e.UnlockGesture())
	assert.False(t, e.AwaitingGesture())
	assert.True(t, e.Playing())

	calls := p.playCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, int64(300), calls[0].pos)

	// Later commands play straight through, no second gesture needed.
	e.HandlePlay(PlayCommand{TrackURI: "uri2"})
	assert.Len(t, p.playCalls(), 2)
	assert.False(t, e.AwaitingGesture())
}

func TestHostReporting_EmitsWhilePlaying(t *testing.T) {
	p := &fakePlayer{positionMS: 4242}
	reports := make(chan int64, 16)
	e := New(p, Options{
		Host:           true,
		ReportInterval: 10 * time.Millisecond,
		Report:         func(pos int64) { reports <- pos },
	})
	defer e.Close()

	// Idle engine reports nothing.
	select {
	case pos := <-reports:
		t.Fatalf("unexpected report %d before playback", pos)
	case <-time.After(50 * time.Millisecond):
	}

	e.HandlePlay(PlayCommand{TrackURI: "uri"})
	select {
	case pos := <-reports:
		assert.Equal(t, int64(4242), pos)
	case <-time.After(time.Second):
		t.Fatalf("no position report while playing")
	}

	// Pausing stops the stream within an interval or two.
	e.HandlePause()
	time.Sleep(30 * time.Millisecond)
	for len(reports) > 0 {
		<-reports
	}
	select {
	case pos := <-reports:
		t.Fatalf("report %d after pause", pos)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClose_CancelsPendingCountdown(t *testing.T) {
	p := &fakePlayer{}
	e := New(p, Options{CountdownTick: 10 * time.Millisecond})

	e.HandlePlay(PlayCommand{TrackURI: "uri", StartTimeMS: time.Now().Add(80 * time.Millisecond).UnixMilli()})
	e.Close()

	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, p.playCalls(), "countdown fired after Close")
}

func TestDisplayLoop_PollsPosition(t *testing.T) {
	p := &fakePlayer{positionMS: 777}
	positions := make(chan int64, 16)
	e := New(p, Options{
		DisplayInterval: 10 * time.Millisecond,
		OnPosition:      func(pos int64) { positions <- pos },
	})
	defer e.Close()

	select {
	case pos := <-positions:
		assert.Equal(t, int64(777), pos)
	case <-time.After(time.Second):
		t.Fatalf("display poll never fired")
	}
}
