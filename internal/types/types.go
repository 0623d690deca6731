package types

// Wire protocol between a device and the sync server. Every message is a
// flat JSON envelope with a "type" discriminator; unused fields are omitted.
// Delivery is best-effort: nothing here is acknowledged or retried, so every
// event must be safe to miss (late joiners reconstruct from the room-joined
// snapshot, and periodic sync-position reports heal missed updates).

// Client -> Server event types.
const (
	EvCreateRoom      = "create-room"
	EvJoinRoom        = "join-room"
	EvPlayTrack       = "play-track"
	EvPause           = "pause"
	EvResume          = "resume"
	EvSeek            = "seek"
	EvPositionUpdate  = "position-update"
	EvAddToQueue      = "add-to-queue"
	EvRemoveFromQueue = "remove-from-queue"
	EvSkipNext        = "skip-next"
	EvSkipPrevious    = "skip-previous"
)

// Server -> Client event types.
const (
	EvRoomCreated    = "room-created"
	EvRoomJoined     = "room-joined"
	EvMemberJoined   = "member-joined"
	EvMemberLeft     = "member-left"
	EvHostLeft       = "host-left"
	EvError          = "error"
	EvPlayCommand    = "play-command"
	EvPauseCommand   = "pause-command"
	EvResumeCommand  = "resume-command"
	EvSeekCommand    = "seek-command"
	EvSyncPosition   = "sync-position"
	EvQueueUpdated   = "queue-updated"
	EvPlayNextTrack  = "play-next-track"
	EvPlayPrevTrack  = "play-previous-track"
	EvRestartCurrent = "restart-current-track"
)

// Track metadata is forwarded verbatim; the server never validates or
// enriches it.
type Track struct {
	ID       string `json:"trackId,omitempty"`
	URI      string `json:"trackUri,omitempty"`
	Name     string `json:"name,omitempty"`
	Artist   string `json:"artist,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type Member struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	IsHost      bool   `json:"isHost,omitempty"`
}

type ClientEvent struct {
	Type        string `json:"type"`
	RoomCode    string `json:"roomCode,omitempty"`
	UserID      string `json:"userId,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	TrackID     string `json:"trackId,omitempty"`
	TrackURI    string `json:"trackUri,omitempty"`
	Position    int64  `json:"position,omitempty"`
	// StartTime lets the host pin the scheduled start instant itself
	// (epoch ms); when absent the server computes now + lead time.
	StartTime int64  `json:"startTime,omitempty"`
	Track     *Track `json:"track,omitempty"`
	Index     *int   `json:"index,omitempty"`
	// CurrentPosition rides on skip-previous so the server can pick
	// between restarting the current track and going back one.
	CurrentPosition int64 `json:"currentPosition,omitempty"`
}

type ServerEvent struct {
	Type         string   `json:"type"`
	RoomCode     string   `json:"roomCode,omitempty"`
	IsHost       bool     `json:"isHost,omitempty"`
	Message      string   `json:"message,omitempty"`
	CurrentTrack *Track   `json:"currentTrack,omitempty"`
	IsPlaying    bool     `json:"isPlaying,omitempty"`
	Position     int64    `json:"position,omitempty"`
	Timestamp    int64    `json:"timestamp,omitempty"`
	StartTime    int64    `json:"startTime,omitempty"`
	TrackURI     string   `json:"trackUri,omitempty"`
	Track        *Track   `json:"track,omitempty"`
	Queue        []Track  `json:"queue,omitempty"`
	Members      []Member `json:"members,omitempty"`
	MemberCount  int      `json:"memberCount,omitempty"`
	UserID       string   `json:"userId,omitempty"`
}
