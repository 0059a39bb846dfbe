package domain

// Membership is the per-connection presence state: Unjoined or Joined(room).
// The zero value is Unjoined.
type Membership struct {
	room   RoomKey
	joined bool
}

func Unjoined() Membership { return Membership{} }

func JoinedTo(room RoomKey) Membership {
	return Membership{room: room, joined: true}
}

// Room returns the joined room, ok is false while Unjoined.
func (m Membership) Room() (RoomKey, bool) {
	return m.room, m.joined
}

func (m Membership) String() string {
	if !m.joined {
		return "unjoined"
	}
	return "joined(" + string(m.room) + ")"
}
