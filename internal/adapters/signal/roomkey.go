package signal

import (
	"github.com/dkeye/Rendezvous/internal/domain"
	"github.com/gin-gonic/gin"
)

// KeyFunc derives the room key of a new session from its request. Clients
// never pick a room through a message.
type KeyFunc func(c *gin.Context) (domain.RoomKey, error)

// KeyFromOrigin groups sessions by client address as resolved by gin,
// honoring the engine's trusted proxies.
func KeyFromOrigin(c *gin.Context) (domain.RoomKey, error) {
	return domain.NewRoomKey(c.ClientIP())
}

// KeyFromQuery reads an explicit ?room= given at connect time.
func KeyFromQuery(c *gin.Context) (domain.RoomKey, error) {
	return domain.NewRoomKey(c.Query("room"))
}

func KeyFuncFor(mode string) KeyFunc {
	if mode == "query" {
		return KeyFromQuery
	}
	return KeyFromOrigin
}
