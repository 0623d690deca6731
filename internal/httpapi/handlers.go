package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"

	"go.uber.org/zap"

	"github.com/syncsound/syncsound/internal/registry"
	"github.com/syncsound/syncsound/internal/room"
)

// GenerateCode returns a 6-character room code. Codes are short enough to
// read out loud to someone in the same living room.
func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

// NewRoomCode hands the client a code that no live room currently uses. The
// room itself is created over the websocket once the host sends create-room;
// the registry rejects the race where two hosts claim the same code.
func NewRoomCode(reg *registry.Registry, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var code string
		for {
			c, err := GenerateCode()
			if err != nil {
				http.Error(w, "failed to generate code", http.StatusInternalServerError)
				return
			}
			reply := make(chan *room.Room, 1)
			reg.Inbox() <- registry.GetRoom{Code: c, Reply: reply}
			if <-reply == nil {
				code = c
				break
			}
			log.Warn("room code collision, regenerating", zap.String("code", c))
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(struct {
			Code string `json:"code"`
		}{Code: code})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
