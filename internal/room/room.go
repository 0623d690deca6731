package room

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/syncsound/syncsound/internal/playback"
	"github.com/syncsound/syncsound/internal/types"
)

type Msg interface{ isRoomMsg() }

// Join registers a connection. The first joiner becomes host. The snapshot
// reply (room-created or room-joined) goes straight to the member's outbox so
// a late joiner can reconstruct the whole room state without seeing any
// earlier broadcast.
type Join struct {
	Conn        string
	UserID      string
	DisplayName string
	Outbox      chan types.ServerEvent
}

func (Join) isRoomMsg() {}

// Leave removes a connection. Unknown connections are ignored, which lets
// the registry sweep every room on disconnect without tracking membership.
type Leave struct{ Conn string }

func (Leave) isRoomMsg() {}

// FromClient carries one playback/queue command attributed to a connection.
type FromClient struct {
	Conn string
	Cmd  playback.Command
}

func (FromClient) isRoomMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

// View reflects room internals without data races; test-only.
type View struct {
	NumMembers int
	HostConn   string
	State      playback.State
	Members    []types.Member
}

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

type member struct {
	conn        string
	userID      string
	displayName string
	role        Role
	outbox      chan types.ServerEvent
}

// Room is an actor: one goroutine owns all state and consumes the inbox, so
// every mutation of a single room is serialized while distinct rooms run in
// parallel.
type Room struct {
	code       string
	inbox      chan Msg
	state      playback.State
	members    []*member // join order
	hostConn   string
	leadTimeMS int64
	now        func() time.Time
	onClose    func()
	log        *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewRoom starts the room actor. onClose fires exactly once, from the room
// goroutine, when the room dies (host left or membership hit zero); the
// registry uses it to drop its map entry.
func NewRoom(parent context.Context, code string, leadTimeMS int64, log *zap.Logger, onClose func()) *Room {
	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		code:       code,
		inbox:      make(chan Msg, 64),
		state:      playback.NewIdleState(),
		leadTimeMS: leadTimeMS,
		now:        time.Now,
		onClose:    onClose,
		log:        log.With(zap.String("room", code)),
		ctx:        ctx,
		cancel:     cancel,
	}
	go r.loop()
	return r
}

func (r *Room) Inbox() chan<- Msg { return r.inbox }

// Done is closed once the room actor has stopped for good.
func (r *Room) Done() <-chan struct{} { return r.ctx.Done() }

func (r *Room) Alive() bool {
	select {
	case <-r.ctx.Done():
		return false
	default:
		return true
	}
}

// Deliver sends a message to the room unless it is dead, in which case it
// reports false instead of parking the message in an inbox nobody drains.
// A registry entry can briefly outlive its room, so senders must not assume
// a room they looked up is still running.
func (r *Room) Deliver(m Msg) bool {
	select {
	case <-r.ctx.Done():
		return false
	default:
	}
	select {
	case r.inbox <- m:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				r.handleJoin(msg)

			case Leave:
				if r.handleLeave(msg.Conn) {
					return
				}

			case FromClient:
				r.handleCommand(msg)

			case GetState:
				msg.Reply <- View{
					NumMembers: len(r.members),
					HostConn:   r.hostConn,
					State:      r.state,
					Members:    r.memberList(),
				}

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) handleJoin(msg Join) {
	if existing := r.memberByConn(msg.Conn); existing != nil {
		// A connection already seated here joined again: fold it into
		// a snapshot resend instead of seating a ghost member. The
		// snapshot is idempotent, so the client just converges.
		r.send(existing, r.snapshotFor(existing))
		return
	}

	isHost := len(r.members) == 0
	role := RoleGuest
	if isHost {
		role = RoleHost
		r.hostConn = msg.Conn
	}
	m := &member{
		conn:        msg.Conn,
		userID:      msg.UserID,
		displayName: msg.DisplayName,
		role:        role,
		outbox:      msg.Outbox,
	}
	r.members = append(r.members, m)

	r.send(m, r.snapshotFor(m))

	r.broadcast(types.ServerEvent{
		Type:        types.EvMemberJoined,
		UserID:      msg.UserID,
		MemberCount: len(r.members),
		Members:     r.memberList(),
	}, "")
	r.log.Info("member joined", zap.String("user", msg.UserID), zap.Int("members", len(r.members)))
}

// handleLeave reports whether the room shut down as a result.
func (r *Room) handleLeave(conn string) bool {
	idx := -1
	for i, m := range r.members {
		if m.conn == conn {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false
	}
	leaving := r.members[idx]
	r.members = append(r.members[:idx], r.members[idx+1:]...)

	if leaving.role == RoleHost {
		// No host migration: tell everyone and tear the room down.
		r.broadcast(types.ServerEvent{Type: types.EvHostLeft}, "")
		r.log.Info("host left, closing room")
		r.shutdown()
		return true
	}

	r.broadcast(types.ServerEvent{
		Type:        types.EvMemberLeft,
		MemberCount: len(r.members),
		Members:     r.memberList(),
	}, "")
	r.log.Info("member left", zap.String("user", leaving.userID), zap.Int("members", len(r.members)))

	if len(r.members) == 0 {
		r.shutdown()
		return true
	}
	return false
}

func (r *Room) handleCommand(msg FromClient) {
	sender := r.memberByConn(msg.Conn)
	if sender == nil {
		return
	}
	if msg.Conn != r.hostConn {
		// Uniform policy: every host-only command from a guest gets an
		// explicit error back instead of vanishing silently.
		r.send(sender, types.ServerEvent{Type: types.EvError, Message: "only the host can control playback"})
		return
	}

	nowMS := r.now().UnixMilli()
	events, next, err := playback.Apply(r.state, msg.Cmd, nowMS, r.leadTimeMS)
	if err != nil {
		r.send(sender, types.ServerEvent{Type: types.EvError, Message: err.Error()})
		return
	}
	r.state = next
	for _, ev := range events {
		r.dispatch(ev)
	}
}

// dispatch maps a playback event onto the wire and picks its audience.
func (r *Room) dispatch(ev playback.Event) {
	switch ev.Type {
	case playback.EvtPlayScheduled:
		r.broadcast(types.ServerEvent{
			Type:      types.EvPlayCommand,
			TrackURI:  ev.TrackURI,
			Position:  ev.PositionMS,
			Timestamp: ev.TimestampMS,
			StartTime: ev.StartTimeMS,
		}, "")
		r.log.Info("play scheduled",
			zap.String("uri", ev.TrackURI),
			zap.Int64("startTime", ev.StartTimeMS))

	case playback.EvtPaused:
		r.broadcast(types.ServerEvent{Type: types.EvPauseCommand}, "")

	case playback.EvtResumed:
		r.broadcast(types.ServerEvent{
			Type:      types.EvResumeCommand,
			Position:  ev.PositionMS,
			Timestamp: ev.TimestampMS,
		}, "")

	case playback.EvtSeeked:
		r.broadcast(types.ServerEvent{
			Type:      types.EvSeekCommand,
			Position:  ev.PositionMS,
			Timestamp: ev.TimestampMS,
		}, "")

	case playback.EvtPositionSynced:
		// Advisory correction signal for guests; the host already knows
		// its own position.
		r.broadcast(types.ServerEvent{
			Type:     types.EvSyncPosition,
			Position: ev.PositionMS,
		}, r.hostConn)

	case playback.EvtQueueUpdated:
		r.broadcast(types.ServerEvent{Type: types.EvQueueUpdated, Queue: ev.Queue}, "")

	case playback.EvtPlayNext:
		track := ev.Track
		r.broadcast(types.ServerEvent{
			Type:  types.EvPlayNextTrack,
			Track: &track,
			Queue: ev.Queue,
		}, "")

	case playback.EvtPlayPrevious:
		r.broadcast(types.ServerEvent{Type: types.EvPlayPrevTrack}, "")

	case playback.EvtRestartCurrent:
		r.broadcast(types.ServerEvent{Type: types.EvRestartCurrent}, "")
	}
}

// broadcast fans an event out to every member except excludeConn. Sends are
// fire-and-forget; a member whose outbox is full is dropped on the spot, and
// a dropped host tears the room down like a departure would.
func (r *Room) broadcast(ev types.ServerEvent, excludeConn string) {
	var dropped []string
	for _, m := range r.members {
		if m.conn == excludeConn {
			continue
		}
		select {
		case m.outbox <- ev:
		default:
			dropped = append(dropped, m.conn)
		}
	}
	for _, conn := range dropped {
		r.log.Warn("dropping slow member", zap.String("conn", conn))
		r.handleLeave(conn)
	}
}

func (r *Room) send(m *member, ev types.ServerEvent) {
	select {
	case m.outbox <- ev:
	default:
		r.handleLeave(m.conn)
	}
}

func (r *Room) memberByConn(conn string) *member {
	for _, m := range r.members {
		if m.conn == conn {
			return m
		}
	}
	return nil
}

func (r *Room) memberList() []types.Member {
	out := make([]types.Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, types.Member{
			UserID:      m.userID,
			DisplayName: m.displayName,
			IsHost:      m.role == RoleHost,
		})
	}
	return out
}

// snapshotFor builds the full-state reply a member reconstructs the room
// from. Host and guest get the same state under different event names.
func (r *Room) snapshotFor(m *member) types.ServerEvent {
	ev := types.ServerEvent{
		RoomCode:     r.code,
		IsHost:       m.role == RoleHost,
		CurrentTrack: r.state.CurrentTrack,
		IsPlaying:    r.state.IsPlaying,
		Position:     r.state.PositionMS,
		Queue:        r.state.Queue,
		Members:      r.memberList(),
	}
	if m.role == RoleHost {
		ev.Type = types.EvRoomCreated
	} else {
		ev.Type = types.EvRoomJoined
	}
	return ev
}

// shutdown stops the actor. Member outboxes are owned by their connections
// (one connection may sit in several rooms on the same channel), so the room
// only stops sending; it never closes them.
func (r *Room) shutdown() {
	r.members = nil
	r.cancel()
	if r.onClose != nil {
		r.onClose()
		r.onClose = nil
	}
}
