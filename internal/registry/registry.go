package registry

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/syncsound/syncsound/internal/room"
	"github.com/syncsound/syncsound/internal/types"
)

var (
	ErrRoomExists   = errors.New("room already exists")
	ErrRoomNotFound = errors.New("room not found")
)

type Msg interface{ isRegistryMsg() }

type CreateRoom struct {
	Code        string
	Conn        string
	UserID      string
	DisplayName string
	Outbox      chan types.ServerEvent
	Reply       chan error
}

type JoinRoom struct {
	Code        string
	Conn        string
	UserID      string
	DisplayName string
	Outbox      chan types.ServerEvent
	Reply       chan error
}

type GetRoom struct {
	Code  string
	Reply chan *room.Room
}

type RemoveRoom struct{ Code string }

// Disconnect sweeps a dropped connection out of every live room; rooms
// ignore connections they never held, so no membership index is needed here.
type Disconnect struct{ Conn string }

type ShutdownRegistry struct{}

func (CreateRoom) isRegistryMsg()       {}
func (JoinRoom) isRegistryMsg()         {}
func (GetRoom) isRegistryMsg()          {}
func (RemoveRoom) isRegistryMsg()       {}
func (Disconnect) isRegistryMsg()       {}
func (ShutdownRegistry) isRegistryMsg() {}

// Registry is the actor that owns the code->room map. Room creation, lookup
// and deletion all serialize through its inbox, so a code can never map to
// two live rooms.
type Registry struct {
	inbox      chan Msg
	rooms      map[string]*room.Room
	leadTimeMS int64
	log        *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewRegistry(parent context.Context, leadTimeMS int64, log *zap.Logger) *Registry {
	ctx, cancel := context.WithCancel(parent)
	g := &Registry{
		inbox:      make(chan Msg, 64),
		rooms:      make(map[string]*room.Room),
		leadTimeMS: leadTimeMS,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}
	go g.loop()
	return g
}

func (g *Registry) Inbox() chan<- Msg { return g.inbox }

func (g *Registry) loop() {
	for {
		select {
		case <-g.ctx.Done():
			g.shutdown()
			return

		case m := <-g.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				if existing := g.rooms[msg.Code]; existing != nil {
					// A dead room can linger in the map until its
					// RemoveRoom is consumed; only a live one blocks
					// the code.
					if existing.Alive() {
						msg.Reply <- ErrRoomExists
						break
					}
					delete(g.rooms, msg.Code)
				}
				code := msg.Code
				r := room.NewRoom(g.ctx, code, g.leadTimeMS, g.log, func() {
					g.inbox <- RemoveRoom{Code: code}
				})
				g.rooms[code] = r
				r.Inbox() <- room.Join{
					Conn:        msg.Conn,
					UserID:      msg.UserID,
					DisplayName: msg.DisplayName,
					Outbox:      msg.Outbox,
				}
				g.log.Info("room created", zap.String("room", code))
				msg.Reply <- nil

			case JoinRoom:
				r := g.rooms[msg.Code]
				if r == nil || !r.Deliver(room.Join{
					Conn:        msg.Conn,
					UserID:      msg.UserID,
					DisplayName: msg.DisplayName,
					Outbox:      msg.Outbox,
				}) {
					if r != nil {
						delete(g.rooms, msg.Code)
					}
					msg.Reply <- ErrRoomNotFound
					break
				}
				msg.Reply <- nil

			case GetRoom:
				r := g.rooms[msg.Code]
				if r != nil && !r.Alive() {
					delete(g.rooms, msg.Code)
					r = nil
				}
				msg.Reply <- r // may be nil

			case RemoveRoom:
				// The code may have been reused by a newer room before this
				// removal was consumed; only reap the entry if it is dead.
				if r, ok := g.rooms[msg.Code]; ok && !r.Alive() {
					delete(g.rooms, msg.Code)
					g.log.Info("room removed", zap.String("room", msg.Code))
				}

			case Disconnect:
				for code, r := range g.rooms {
					if !r.Deliver(room.Leave{Conn: msg.Conn}) {
						delete(g.rooms, code)
					}
				}

			case ShutdownRegistry:
				g.shutdown()
				return
			}
		}
	}
}

func (g *Registry) shutdown() {
	for _, r := range g.rooms {
		r.Deliver(room.Shutdown{})
	}
	clear(g.rooms)
	g.cancel()
}
