package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateID generates a unique ID for requests
func GenerateID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
