package testutil

// ConstantRunID returns the same run ID every time.
//
// Unlike trainer.FixedGenerator, which returns IDs in sequence and panics
// when exhausted, ConstantRunID suits tests that start an unknown number of
// runs.
//
// Thread-safety: stateless and safe for concurrent use.
type ConstantRunID struct {
	id string
}

// NewConstantRunID creates a generator for id. An empty id becomes
// "test-run-default".
func NewConstantRunID(id string) *ConstantRunID {
	if id == "" {
		id = "test-run-default"
	}
	return &ConstantRunID{id: id}
}

// Generate returns the fixed ID.
func (g *ConstantRunID) Generate() string {
	return g.id
}
