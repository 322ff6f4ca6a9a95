package keytoken

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// RunContext carries the salt shared by every token of one merge run.
// Tokens derived within a run agree; tokens from different runs do not.
type RunContext struct {
	Salt string
}

// SaltSource produces raw per-run entropy.
type SaltSource interface {
	Generate() string
}

// NewRunContext allocates a run salt from src.
func NewRunContext(src SaltSource) (RunContext, error) {
	raw := src.Generate()
	if raw == "" {
		return RunContext{}, fmt.Errorf("salt source returned empty value")
	}
	if strings.ContainsRune(raw, 0) {
		return RunContext{}, fmt.Errorf("salt source returned value containing a null byte")
	}
	return RunContext{Salt: Token(PurposeRunSalt, raw, "")}, nil
}

// UUIDv7Source generates time-sortable UUIDv7 salts.
//
// Thread-safety: UUIDv7Source is stateless and safe for concurrent use.
type UUIDv7Source struct{}

// Generate returns a new UUIDv7 string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Source) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedSource returns predetermined salts for testing.
//
// Thread-safety: FixedSource is safe for concurrent use via internal mutex.
type FixedSource struct {
	mu    sync.Mutex
	salts []string
	idx   int
}

// NewFixedSource creates a source that returns salts in order.
func NewFixedSource(salts ...string) *FixedSource {
	return &FixedSource{salts: salts}
}

// Generate returns the next predetermined salt.
// Panics if all salts have been consumed, which catches a test that runs
// more merges than it configured.
func (s *FixedSource) Generate() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idx >= len(s.salts) {
		panic("FixedSource: all salts exhausted")
	}
	salt := s.salts[s.idx]
	s.idx++
	return salt
}
