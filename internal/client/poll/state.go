package poll

import (
	"encoding/json"
	"os"

	"github.com/driftsync/driftsync/internal/utils"
)

// syncState records, per path, the server fingerprint this client last
// synchronized. A path present locally but absent here is a new local
// file; a path present here but gone from disk is a local deletion that
// survived a restart.
type syncState map[string]string

func loadState(path string) (syncState, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(syncState), nil
	}
	if err != nil {
		return nil, err
	}

	var st syncState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	if st == nil {
		st = make(syncState)
	}
	return st, nil
}

func saveState(path string, st syncState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(path, data, 0o644)
}
