package domain

import (
	"errors"
	"strings"
)

const MaxRoomIDLen = 64

var ErrRoomIDEmpty = errors.New("room id empty after normalization")

// RoomID is a normalized room identifier: upper-case, restricted to
// [A-Z0-9_-], at most MaxRoomIDLen runes. Every participant derives the
// same RoomID from the same user input, so differently-cased inputs land
// in the same room.
type RoomID string

// NormalizeRoomID folds the input to upper case, strips every character
// outside the allowed class and caps the length. It is idempotent.
func NormalizeRoomID(raw string) (RoomID, error) {
	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
		if b.Len() >= MaxRoomIDLen {
			break
		}
	}
	if b.Len() == 0 {
		return "", ErrRoomIDEmpty
	}
	return RoomID(b.String()), nil
}
