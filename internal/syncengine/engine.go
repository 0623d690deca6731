// Package syncengine keeps one device's local playback aligned with the
// room. It consumes the server's broadcast commands, compensates for
// delivery latency, counts down to scheduled starts, and applies periodic
// drift corrections against the host's reported position.
package syncengine

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAutoplayBlocked is returned by a Player whose platform refuses to start
// audio without a user gesture. It is the one recoverable playback error:
// a single UnlockGesture replays the blocked command and unlocks audio for
// the rest of the session.
var ErrAutoplayBlocked = errors.New("autoplay blocked by platform")

// Player is the local media-playback capability. Implementations wrap
// whatever the platform provides (a web playback SDK, a native audio stack).
// The engine serializes all calls to it.
type Player interface {
	Play(trackURI string, positionMS int64) error
	Pause() error
	Resume() error
	Seek(positionMS int64) error
	Position() (int64, error)
}

type Options struct {
	// Host engines report their position; guest engines correct against it.
	Host bool

	// DriftThresholdMS is the minimum absolute drift, in ms, before a
	// guest issues a corrective seek.
	DriftThresholdMS int64
	// DriftDebounce is the minimum gap between two corrective seeks.
	// Threshold and debounce together stop small noisy drift reports from
	// turning into correction oscillation.
	DriftDebounce  time.Duration
	ReportInterval time.Duration
	// DisplayInterval drives the position readout callback for UI.
	DisplayInterval time.Duration
	CountdownTick   time.Duration

	// Now is the clock; tests substitute it.
	Now func() time.Time

	// OnCountdown reports whole seconds remaining until a scheduled
	// start; 0 clears the display.
	OnCountdown func(secondsLeft int)
	// OnPosition receives the local position every DisplayInterval.
	OnPosition func(positionMS int64)
	// Report emits a position-update to the server (host only).
	Report func(positionMS int64)
	// OnError surfaces non-recoverable playback failures to the user.
	OnError func(err error)
}

type PlayCommand struct {
	TrackURI    string
	PositionMS  int64
	TimestampMS int64
	StartTimeMS int64 // absolute epoch ms; zero means start immediately
}

type Engine struct {
	player Player
	opts   Options

	mu              sync.Mutex
	playing         bool
	gen             uint64 // bumped whenever a countdown is superseded
	countdownCancel context.CancelFunc
	lastCorrection  time.Time
	corrected       bool
	unlocked        bool
	pending         *PlayCommand
	closed          bool

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(player Player, opts Options) *Engine {
	if opts.DriftThresholdMS == 0 {
		opts.DriftThresholdMS = 75
	}
	if opts.DriftDebounce == 0 {
		opts.DriftDebounce = 500 * time.Millisecond
	}
	if opts.ReportInterval == 0 {
		opts.ReportInterval = time.Second
	}
	if opts.DisplayInterval == 0 {
		opts.DisplayInterval = 100 * time.Millisecond
	}
	if opts.CountdownTick == 0 {
		opts.CountdownTick = 100 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	e := &Engine{
		player: player,
		opts:   opts,
		stop:   make(chan struct{}),
	}
	if opts.Host && opts.Report != nil {
		e.wg.Add(1)
		go e.reportLoop()
	}
	if opts.OnPosition != nil {
		e.wg.Add(1)
		go e.displayLoop()
	}
	return e
}

// HandlePlay reacts to a play-command. A future start time opens a countdown
// that recomputes remaining time from the clock on every tick, so a stalled
// loop can delay a tick without shifting the trigger instant. A command whose
// start is already past plays immediately rather than being dropped, and a
// newer command always supersedes a pending countdown.
func (e *Engine) HandlePlay(cmd PlayCommand) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	gen := e.supersedeLocked()
	if cmd.StartTimeMS > 0 && time.UnixMilli(cmd.StartTimeMS).After(e.opts.Now()) {
		ctx, cancel := context.WithCancel(context.Background())
		e.countdownCancel = cancel
		e.wg.Add(1)
		go e.countdown(ctx, gen, cmd)
		e.mu.Unlock()
		return
	}
	e.startPlaybackLocked(cmd)
	e.mu.Unlock()
}

func (e *Engine) HandlePause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.player.Pause(); err != nil {
		e.reportError(err)
		return
	}
	e.playing = false
}

// HandleResume latency-adjusts and resumes. Unlike play there is no shared
// future instant: the full observed timestamp delta stands in for one-way
// delay, a deliberate approximation (no RTT halving).
func (e *Engine) HandleResume(positionMS, timestampMS int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	adjusted := positionMS + (e.nowMS() - timestampMS)
	if err := e.player.Seek(adjusted); err != nil {
		e.reportError(err)
		return
	}
	if err := e.player.Resume(); err != nil {
		e.reportError(err)
		return
	}
	e.playing = true
}

func (e *Engine) HandleSeek(positionMS, timestampMS int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	adjusted := positionMS + (e.nowMS() - timestampMS)
	if err := e.player.Seek(adjusted); err != nil {
		e.reportError(err)
	}
}

// HandleSyncPosition applies the host's advisory position report. A
// corrective seek fires only when drift exceeds the threshold and the
// debounce window since the last correction has fully elapsed.
func (e *Engine) HandleSyncPosition(hostPositionMS int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.opts.Host {
		return
	}
	local, err := e.player.Position()
	if err != nil {
		return
	}
	drift := local - hostPositionMS
	if drift < 0 {
		drift = -drift
	}
	if drift <= e.opts.DriftThresholdMS {
		return
	}
	now := e.opts.Now()
	if e.corrected && now.Sub(e.lastCorrection) < e.opts.DriftDebounce {
		return
	}
	if err := e.player.Seek(hostPositionMS); err != nil {
		e.reportError(err)
		return
	}
	e.lastCorrection = now
	e.corrected = true
}

// UnlockGesture is the one explicit user action that recovers from an
// autoplay block. The unlock is sticky: once audio has started by gesture,
// later commands never need another one.
func (e *Engine) UnlockGesture() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		e.unlocked = true
		return nil
	}
	cmd := *e.pending
	if err := e.player.Play(cmd.TrackURI, cmd.PositionMS); err != nil {
		return err
	}
	e.pending = nil
	e.unlocked = true
	e.playing = true
	return nil
}

// AwaitingGesture reports whether a play command is parked until the user
// unlocks audio.
func (e *Engine) AwaitingGesture() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending != nil
}

func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// Close synchronously cancels the pending countdown and both timer loops, so
// no stale timer can fire against a room the device already left.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.supersedeLocked()
	e.mu.Unlock()
	close(e.stop)
	e.wg.Wait()
}

// supersedeLocked invalidates any in-flight countdown and returns the new
// generation. A countdown that races past its cancel signal still refuses to
// fire once it sees a newer generation.
func (e *Engine) supersedeLocked() uint64 {
	e.gen++
	if e.countdownCancel != nil {
		e.countdownCancel()
		e.countdownCancel = nil
	}
	return e.gen
}

func (e *Engine) countdown(ctx context.Context, gen uint64, cmd PlayCommand) {
	defer e.wg.Done()
	start := time.UnixMilli(cmd.StartTimeMS)
	lastShown := -1
	for {
		remaining := start.Sub(e.opts.Now())
		if remaining <= 0 {
			e.fire(gen, cmd)
			return
		}
		if secs := int((remaining + time.Second - 1) / time.Second); secs != lastShown {
			if e.opts.OnCountdown != nil {
				e.opts.OnCountdown(secs)
			}
			lastShown = secs
		}
		wait := e.opts.CountdownTick
		if remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// fire is a countdown reaching zero. The generation check comes before any
// observable effect: a superseded countdown must neither start playback nor
// flash the cleared-countdown callback.
func (e *Engine) fire(gen uint64, cmd PlayCommand) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return
	}
	e.countdownCancel = nil
	if e.opts.OnCountdown != nil {
		e.opts.OnCountdown(0)
	}
	e.startPlaybackLocked(cmd)
}

func (e *Engine) startPlaybackLocked(cmd PlayCommand) {
	err := e.player.Play(cmd.TrackURI, cmd.PositionMS)
	switch {
	case err == nil:
		e.playing = true
	case errors.Is(err, ErrAutoplayBlocked) && !e.unlocked:
		c := cmd
		e.pending = &c
	default:
		e.reportError(err)
	}
}

func (e *Engine) reportLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.opts.ReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.mu.Lock()
			playing := e.playing
			var pos int64
			var err error
			if playing {
				pos, err = e.player.Position()
			}
			e.mu.Unlock()
			if playing && err == nil {
				e.opts.Report(pos)
			}
		}
	}
}

func (e *Engine) displayLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.opts.DisplayInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.mu.Lock()
			pos, err := e.player.Position()
			e.mu.Unlock()
			if err == nil {
				e.opts.OnPosition(pos)
			}
		}
	}
}

func (e *Engine) nowMS() int64 {
	return e.opts.Now().UnixMilli()
}

func (e *Engine) reportError(err error) {
	if e.opts.OnError != nil {
		e.opts.OnError(err)
	}
}
