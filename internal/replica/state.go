package replica

import (
	"encoding/json"
	"os"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/driftsync/driftsync/internal/utils"
)

// State is the per-node persisted sync state: the pull cursor and the
// last-known set of locally present paths. The path set is what lets a
// restarted node tell "the user deleted this while we were down" apart
// from "we never downloaded this".
type State struct {
	Cursor int64    `json:"cursor"`
	Paths  []string `json:"paths"`
}

func (s *State) PathSet() mapset.Set[string] {
	set := mapset.NewThreadUnsafeSet[string]()
	for _, p := range s.Paths {
		set.Add(p)
	}
	return set
}

// StateFile reads and rewrites the state file. It is read once at startup
// and rewritten after each reconciliation pass.
type StateFile struct {
	path string
}

func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

// Load returns the persisted state, or an empty state when the file does
// not exist yet.
func (f *StateFile) Load() (*State, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, err
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Save rewrites the state file atomically with sorted paths.
func (f *StateFile) Save(cursor int64, paths mapset.Set[string]) error {
	sorted := paths.ToSlice()
	sort.Strings(sorted)

	data, err := json.Marshal(&State{Cursor: cursor, Paths: sorted})
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(f.path, data, 0o644)
}
