package testutil

// FixedSessionGenerator returns the same recording session id every time.
//
// Sub-log file names embed the session id, so a fixed id gives tests a
// predictable path to open.
//
// Thread-safety: FixedSessionGenerator is stateless and safe for concurrent use.
type FixedSessionGenerator struct {
	id string
}

// NewFixedSessionGenerator creates a generator returning id.
// If id is empty, Generate() returns "test-session".
func NewFixedSessionGenerator(id string) *FixedSessionGenerator {
	if id == "" {
		id = "test-session"
	}
	return &FixedSessionGenerator{id: id}
}

// Generate returns the fixed id.
func (g *FixedSessionGenerator) Generate() string {
	return g.id
}
