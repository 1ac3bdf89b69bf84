package utils

import (
	"strings"

	"github.com/google/uuid"
)

// NewConnID returns a short random identifier for a live connection.
// Connection ids only appear in logs, so 48 bits of randomness are plenty.
func NewConnID() string {
	return "c-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
