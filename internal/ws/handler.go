package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/syncsound/syncsound/internal/playback"
	"github.com/syncsound/syncsound/internal/registry"
	"github.com/syncsound/syncsound/internal/room"
	"github.com/syncsound/syncsound/internal/types"
)

const (
	writeTimeout = 3 * time.Second
	// outboxSize bounds how far a member may fall behind before the room
	// drops it; periodic sync-position traffic makes missed events safe.
	outboxSize = 16
)

// Handler upgrades the connection and runs the event loop for one device.
// Each connection gets a uuid identity and one outbox channel. The connection
// owns both: rooms only ever send into the outbox, and the writer goroutine
// below drains it until the handler returns. Nothing closes the outbox.
func Handler(reg *registry.Registry, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		connID := uuid.NewString()
		clog := log.With(zap.String("conn", connID))
		outbox := make(chan types.ServerEvent, outboxSize)

		defer func() { reg.Inbox() <- registry.Disconnect{Conn: connID} }()

		stop := make(chan struct{})
		defer close(stop)
		go writeLoop(stop, outbox, conn)

		for {
			var ev types.ClientEvent
			if err := wsjson.Read(r.Context(), conn, &ev); err != nil {
				// Clean close or not, the deferred Disconnect sweep
				// removes us from any room we were in.
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					clog.Debug("read failed", zap.Error(err))
				}
				return
			}
			dispatch(r.Context(), reg, conn, connID, outbox, ev, clog)
		}
	}
}

// writeLoop drains the outbox to the socket until stop closes. It exits with
// the handler even if the connection never joined a room.
func writeLoop(stop <-chan struct{}, outbox <-chan types.ServerEvent, conn *websocket.Conn) {
	for {
		select {
		case <-stop:
			return
		case ev := <-outbox:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			_ = wsjson.Write(ctx, conn, ev)
			cancel()
		}
	}
}

func dispatch(ctx context.Context, reg *registry.Registry, conn *websocket.Conn, connID string, outbox chan types.ServerEvent, ev types.ClientEvent, log *zap.Logger) {
	switch ev.Type {
	case types.EvCreateRoom:
		reply := make(chan error, 1)
		reg.Inbox() <- registry.CreateRoom{
			Code:        ev.RoomCode,
			Conn:        connID,
			UserID:      ev.UserID,
			DisplayName: ev.DisplayName,
			Outbox:      outbox,
			Reply:       reply,
		}
		if err := <-reply; err != nil {
			writeError(ctx, conn, err.Error())
		}

	case types.EvJoinRoom:
		reply := make(chan error, 1)
		reg.Inbox() <- registry.JoinRoom{
			Code:        ev.RoomCode,
			Conn:        connID,
			UserID:      ev.UserID,
			DisplayName: ev.DisplayName,
			Outbox:      outbox,
			Reply:       reply,
		}
		if err := <-reply; err != nil {
			writeError(ctx, conn, err.Error())
		}

	default:
		cmd, ok := toCommand(ev)
		if !ok {
			log.Warn("unknown event type", zap.String("type", ev.Type))
			writeError(ctx, conn, "unknown event type")
			return
		}
		reply := make(chan *room.Room, 1)
		reg.Inbox() <- registry.GetRoom{Code: ev.RoomCode, Reply: reply}
		rm := <-reply
		if rm == nil {
			writeError(ctx, conn, registry.ErrRoomNotFound.Error())
			return
		}
		if !rm.Deliver(room.FromClient{Conn: connID, Cmd: cmd}) {
			writeError(ctx, conn, registry.ErrRoomNotFound.Error())
		}
	}
}

func toCommand(ev types.ClientEvent) (playback.Command, bool) {
	switch ev.Type {
	case types.EvPlayTrack:
		return playback.Command{
			Type:        playback.CmdPlayTrack,
			Track:       types.Track{ID: ev.TrackID, URI: ev.TrackURI},
			PositionMS:  ev.Position,
			StartTimeMS: ev.StartTime,
		}, true
	case types.EvPause:
		return playback.Command{Type: playback.CmdPause}, true
	case types.EvResume:
		return playback.Command{Type: playback.CmdResume, PositionMS: ev.Position}, true
	case types.EvSeek:
		return playback.Command{Type: playback.CmdSeek, PositionMS: ev.Position}, true
	case types.EvPositionUpdate:
		return playback.Command{Type: playback.CmdPositionUpdate, PositionMS: ev.Position}, true
	case types.EvAddToQueue:
		if ev.Track == nil {
			return playback.Command{}, false
		}
		return playback.Command{Type: playback.CmdEnqueue, Track: *ev.Track}, true
	case types.EvRemoveFromQueue:
		if ev.Index == nil {
			return playback.Command{}, false
		}
		return playback.Command{Type: playback.CmdRemoveAt, Index: *ev.Index}, true
	case types.EvSkipNext:
		return playback.Command{Type: playback.CmdSkipNext}, true
	case types.EvSkipPrevious:
		return playback.Command{Type: playback.CmdSkipPrevious, PositionMS: ev.CurrentPosition}, true
	default:
		return playback.Command{}, false
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, msg string) {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = wsjson.Write(wctx, conn, types.ServerEvent{Type: types.EvError, Message: msg})
}
