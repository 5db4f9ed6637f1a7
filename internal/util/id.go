package util

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID returns a prefixed, time-ordered identifier. IDs minted later in
// the same process sort after earlier ones.
func NewID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	encoded := hex.EncodeToString(id[:])
	if prefix == "" {
		return encoded
	}
	return prefix + "_" + encoded
}
