package bridge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// NewSessionID generates the identifier attached to one bridge session.
// Time-ordered so log lines from concurrent groups sort naturally.
func NewSessionID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

// NewEndpointDir creates a fresh private directory for a plugin group's
// socket endpoints. The random component keeps concurrent groups hosting
// the same plugin from colliding.
func NewEndpointDir(baseDir, group string) (string, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate endpoint id: %w", err)
	}

	dir := filepath.Join(baseDir, fmt.Sprintf("bridge-%s-%s", sanitizeGroup(group), id.String()))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create endpoint dir: %w", err)
	}
	return dir, nil
}

func sanitizeGroup(group string) string {
	if group == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, group)
}
