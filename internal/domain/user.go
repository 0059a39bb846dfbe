package domain

import (
	"bytes"
	"strconv"
)

// UserDescriptor is opaque client metadata (display name, avatar, ...).
// It holds raw JSON and is relayed verbatim.
type UserDescriptor []byte

func (u UserDescriptor) MarshalJSON() ([]byte, error) {
	if len(u) == 0 {
		return []byte("null"), nil
	}
	return u, nil
}

func (u *UserDescriptor) UnmarshalJSON(b []byte) error {
	*u = append((*u)[:0], b...)
	return nil
}

// IsFalsy reports whether the descriptor is missing, null, false, 0 or "".
// Any object or array, including an empty one, is not falsy.
func (u UserDescriptor) IsFalsy() bool {
	v := bytes.TrimSpace(u)
	if len(v) == 0 {
		return true
	}
	switch string(v) {
	case "null", "false", `""`:
		return true
	}
	if v[0] == '-' || (v[0] >= '0' && v[0] <= '9') {
		f, err := strconv.ParseFloat(string(v), 64)
		return err == nil && f == 0
	}
	return false
}

func (u UserDescriptor) Clone() UserDescriptor {
	if u == nil {
		return nil
	}
	return append(UserDescriptor(nil), u...)
}
