package replica

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// Snapshot maps tree-relative paths to their last-known fingerprints.
// It is rebuilt from a full directory scan on process start and guarded
// by the engine mutex, so no locking of its own.
type Snapshot map[string]string

func (s Snapshot) Paths() mapset.Set[string] {
	paths := mapset.NewThreadUnsafeSet[string]()
	for p := range s {
		paths.Add(p)
	}
	return paths
}

func (s Snapshot) Clone() Snapshot {
	clone := make(Snapshot, len(s))
	for p, fp := range s {
		clone[p] = fp
	}
	return clone
}
