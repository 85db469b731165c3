package extract

import "sync"

// AssetDeduplicator tracks content hashes seen within one job.
type AssetDeduplicator struct {
	mu   sync.Mutex
	seen map[string]bool
}

// NewAssetDeduplicator creates an empty job-scoped deduplicator.
func NewAssetDeduplicator() *AssetDeduplicator {
	return &AssetDeduplicator{
		seen: make(map[string]bool),
	}
}

// Seen reports whether hash was registered before.
func (d *AssetDeduplicator) Seen(hash string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[hash]
}

// Register records hash and reports whether it was new. Registering the same
// hash again is a no-op returning false.
func (d *AssetDeduplicator) Register(hash string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.seen[hash] {
		return false
	}
	d.seen[hash] = true
	return true
}

// Forget releases hash so a later copy can claim it, for when the asset
// registered under it could not be persisted.
func (d *AssetDeduplicator) Forget(hash string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, hash)
}

// Len returns the number of distinct hashes registered.
func (d *AssetDeduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
