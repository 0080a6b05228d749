package auth

import "sync/atomic"

// Guard admits commands from a single authorized chat identity.
type Guard struct {
	allowedID atomic.Int64
}

func NewGuard(allowedID int64) *Guard {
	g := &Guard{}
	g.allowedID.Store(allowedID)
	return g
}

func (g *Guard) AllowedID() int64 {
	return g.allowedID.Load()
}

// SetAllowedID swaps the authorized identity, e.g. after a config reload.
func (g *Guard) SetAllowedID(id int64) {
	g.allowedID.Store(id)
}

// IsAuthorized reports whether userID may trigger commands. Zero never matches.
func (g *Guard) IsAuthorized(userID int64) bool {
	allowed := g.allowedID.Load()
	return allowed != 0 && userID == allowed
}
