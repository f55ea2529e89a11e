package ridgekv

import "github.com/ridgekv/ridgekv/internal/engine"

// Snapshot is a consistent point-in-time view of the database, obtained
// from DB.NewSnapshot and released with DB.ReleaseSnapshot.
type Snapshot struct {
	s *engine.Snapshot
}
