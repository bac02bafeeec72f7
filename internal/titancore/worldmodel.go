package titancore

import (
	"encoding/json"
	"sync"

	"titan/internal/config"
	"titan/internal/errs"
	"titan/internal/fsutil"
)

// WorldContext is a named bundle of tags the manager can activate, used for
// add's context-inheritance step (spec §4.2.4 step 3).
type WorldContext struct {
	ID   string   `json:"id"`
	Tags []string `json:"tags"`
}

type worldModelFile struct {
	Active []WorldContext `json:"active"`
}

// WorldModel tracks the set of currently active contexts. It is not a
// layer store: it has no memory entries of its own, only the tag bundles
// add consults when inheriting context.
type WorldModel struct {
	mu     sync.Mutex
	path   string
	active map[string]WorldContext
}

// NewWorldModel loads (or initializes) the world model for paths.
func NewWorldModel(paths config.Paths) (*WorldModel, error) {
	wm := &WorldModel{path: paths.WorldModelFile(), active: make(map[string]WorldContext)}
	data, err := fsutil.ReadFileIfExists(wm.path)
	if err != nil {
		return nil, errs.StorageFailure("read world model", err)
	}
	if len(data) > 0 {
		var f worldModelFile
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, errs.StorageFailure("decode world model", err)
		}
		for _, c := range f.Active {
			wm.active[c.ID] = c
		}
	}
	return wm, nil
}

// Activate marks a context active with the given tags, persisting the change.
func (wm *WorldModel) Activate(id string, tags []string) error {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	wm.active[id] = WorldContext{ID: id, Tags: append([]string(nil), tags...)}
	return wm.persistLocked()
}

// Deactivate removes a context from the active set, persisting the change.
func (wm *WorldModel) Deactivate(id string) error {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	delete(wm.active, id)
	return wm.persistLocked()
}

// ActiveTags returns the union of every active context's tags, used by add's
// context-inheritance step.
func (wm *WorldModel) ActiveTags() []string {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for _, c := range wm.active {
		for _, t := range c.Tags {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

func (wm *WorldModel) persistLocked() error {
	contexts := make([]WorldContext, 0, len(wm.active))
	for _, c := range wm.active {
		contexts = append(contexts, c)
	}
	data, err := json.MarshalIndent(worldModelFile{Active: contexts}, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.AtomicWriteFile(wm.path, data, 0o644)
}
