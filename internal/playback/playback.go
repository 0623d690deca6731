package playback

import (
	"errors"

	"github.com/syncsound/syncsound/internal/types"
)

var ErrUnsupportedCommand = errors.New("unsupported command")

// DefaultLeadTimeMS is how far in the future a play command is scheduled.
// Every receiver targets the same absolute instant, so arbitrary per-device
// network delay becomes a bounded countdown instead of unbounded skew.
const DefaultLeadTimeMS = 2000

// PreviousThresholdMS is the skip-previous tie-break: strictly below it the
// host wants the previous track, at or above it the current track restarts.
const PreviousThresholdMS = 3000

// State is the authoritative playback state of one room. It is a value;
// Apply never mutates its input.
type State struct {
	CurrentTrack *types.Track
	IsPlaying    bool
	PositionMS   int64
	UpdatedAtMS  int64
	Queue        []types.Track
}

func NewIdleState() State {
	return State{Queue: []types.Track{}}
}

type CommandType string

const (
	CmdPlayTrack      CommandType = "PlayTrack"
	CmdPause          CommandType = "Pause"
	CmdResume         CommandType = "Resume"
	CmdSeek           CommandType = "Seek"
	CmdPositionUpdate CommandType = "PositionUpdate"
	CmdEnqueue        CommandType = "Enqueue"
	CmdRemoveAt       CommandType = "RemoveAt"
	CmdSkipNext       CommandType = "SkipNext"
	CmdSkipPrevious   CommandType = "SkipPrevious"
)

type Command struct {
	Type        CommandType
	Track       types.Track
	PositionMS  int64
	StartTimeMS int64 // optional host-chosen start instant (PlayTrack)
	Index       int   // RemoveAt
}

type EventType string

const (
	EvtPlayScheduled  EventType = "PlayScheduled"
	EvtPaused         EventType = "Paused"
	EvtResumed        EventType = "Resumed"
	EvtSeeked         EventType = "Seeked"
	EvtPositionSynced EventType = "PositionSynced"
	EvtQueueUpdated   EventType = "QueueUpdated"
	EvtPlayNext       EventType = "PlayNext"
	EvtPlayPrevious   EventType = "PlayPrevious"
	EvtRestartCurrent EventType = "RestartCurrent"
)

type Event struct {
	Type        EventType
	TrackURI    string
	Track       types.Track
	PositionMS  int64
	TimestampMS int64
	StartTimeMS int64
	Queue       []types.Track
}

// Apply runs one host command against the room's playback state and returns
// the events to broadcast plus the new state. nowMS is the server clock in
// epoch milliseconds; it is stamped onto every timing-sensitive event so
// receivers can compensate for their own delivery delay.
func Apply(s State, cmd Command, nowMS, leadTimeMS int64) ([]Event, State, error) {
	next := s

	switch cmd.Type {
	case CmdPlayTrack:
		start := nowMS + leadTimeMS
		if cmd.StartTimeMS > nowMS {
			start = cmd.StartTimeMS
		}
		track := cmd.Track
		next.CurrentTrack = &track
		next.IsPlaying = true
		next.PositionMS = cmd.PositionMS
		next.UpdatedAtMS = nowMS
		events := []Event{{
			Type:        EvtPlayScheduled,
			TrackURI:    track.URI,
			PositionMS:  cmd.PositionMS,
			TimestampMS: nowMS,
			StartTimeMS: start,
		}}
		return events, next, nil

	case CmdPause:
		next.IsPlaying = false
		next.UpdatedAtMS = nowMS
		// Pause carries no timing payload: it is immediate and
		// unscheduled, a short stagger is inaudible on silence.
		return []Event{{Type: EvtPaused}}, next, nil

	case CmdResume:
		next.IsPlaying = true
		next.PositionMS = cmd.PositionMS
		next.UpdatedAtMS = nowMS
		events := []Event{{
			Type:        EvtResumed,
			PositionMS:  cmd.PositionMS,
			TimestampMS: nowMS,
		}}
		return events, next, nil

	case CmdSeek:
		next.PositionMS = cmd.PositionMS
		next.UpdatedAtMS = nowMS
		events := []Event{{
			Type:        EvtSeeked,
			PositionMS:  cmd.PositionMS,
			TimestampMS: nowMS,
		}}
		return events, next, nil

	case CmdPositionUpdate:
		// Position never moves backwards while playing; a stale or
		// reordered report is dropped and the next one heals it.
		if s.IsPlaying && cmd.PositionMS < s.PositionMS {
			return nil, s, nil
		}
		next.PositionMS = cmd.PositionMS
		next.UpdatedAtMS = nowMS
		return []Event{{Type: EvtPositionSynced, PositionMS: cmd.PositionMS}}, next, nil

	case CmdEnqueue:
		next.Queue = append(copyQueue(s.Queue), cmd.Track)
		return []Event{{Type: EvtQueueUpdated, Queue: next.Queue}}, next, nil

	case CmdRemoveAt:
		// An out-of-range index means the client acted on a stale view
		// of the queue; that is not worth a wire-level failure.
		if cmd.Index < 0 || cmd.Index >= len(s.Queue) {
			return nil, s, nil
		}
		q := copyQueue(s.Queue)
		next.Queue = append(q[:cmd.Index], q[cmd.Index+1:]...)
		return []Event{{Type: EvtQueueUpdated, Queue: next.Queue}}, next, nil

	case CmdSkipNext:
		if len(s.Queue) == 0 {
			return nil, s, nil
		}
		head := s.Queue[0]
		next.Queue = copyQueue(s.Queue[1:])
		// The host translates this into a PlayTrack for the popped
		// track; state transition happens there, not here.
		events := []Event{{Type: EvtPlayNext, Track: head, Queue: next.Queue}}
		return events, next, nil

	case CmdSkipPrevious:
		if cmd.PositionMS < PreviousThresholdMS {
			return []Event{{Type: EvtPlayPrevious}}, s, nil
		}
		return []Event{{Type: EvtRestartCurrent}}, s, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func copyQueue(q []types.Track) []types.Track {
	out := make([]types.Track, len(q))
	copy(out, q)
	return out
}
