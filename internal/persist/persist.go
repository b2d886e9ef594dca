// Package persist defines the abstract persistence collaborator the core
// depends on (spec §6.3): opaque blob load/store under a single key. The
// core never imports a concrete database driver directly — see
// persist/sqlitestore and persist/memstore for the two adapters.
package persist

import "context"

// Store loads and saves the single opaque APP_STATE blob (spec §6.3).
// Implementations must tolerate a missing key on Load by returning
// (nil, nil) rather than an error (spec §7 "malformed persisted blob").
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, blob []byte) error
}
