package xid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// New returns a prefixed, time-ordered identifier such as "shf_0192...".
func New(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, strings.ReplaceAll(NewUUID(), "-", ""))
}

// NewUUID returns a UUIDv7 string. Client transaction ids use this form so
// they sort by creation time on both sides of the wire.
func NewUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
