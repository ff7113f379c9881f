package monitor

import (
	"sync"

	"github.com/littlebro/lb3/internal/ids"
)

// DimensionStore resolves hashed identity tuples to stable, idempotent ids
// usable as an event's subject_id (SPEC_FULL.md §D.1, §9). The persistent
// implementation (internal/dimstore) keys apps on exe_path_hash, windows
// on (app_id, title_hash) and urls on url_hash, so a given exe_path_hash,
// (app_id, title_hash), or url_hash always resolves to the same id across
// restarts.
type DimensionStore interface {
	UpsertApp(exePathHash, exeName string) (appID string, err error)
	UpsertWindow(appID, titleHash string) (windowID string, err error)
	UpsertURL(urlHash, domainHash string) (urlID string, err error)
}

// memoryDimensionStore is a process-local stand-in used wherever no
// persistent DimensionStore is injected; ids stay stable for the life of
// the process but are not preserved across restarts.
type memoryDimensionStore struct {
	mu      sync.Mutex
	apps    map[string]string
	windows map[[2]string]string
	urls    map[[2]string]string
}

// NewMemoryDimensionStore returns an in-memory DimensionStore.
func NewMemoryDimensionStore() DimensionStore {
	return &memoryDimensionStore{
		apps:    make(map[string]string),
		windows: make(map[[2]string]string),
		urls:    make(map[[2]string]string),
	}
}

func (d *memoryDimensionStore) UpsertApp(exePathHash, exeName string) (string, error) {
	if exePathHash == "" {
		return ids.New(), nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.apps[exePathHash]; ok {
		return id, nil
	}
	id := ids.New()
	d.apps[exePathHash] = id
	return id, nil
}

func (d *memoryDimensionStore) UpsertWindow(appID, titleHash string) (string, error) {
	key := [2]string{appID, titleHash}
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.windows[key]; ok {
		return id, nil
	}
	id := ids.New()
	d.windows[key] = id
	return id, nil
}

func (d *memoryDimensionStore) UpsertURL(urlHash, domainHash string) (string, error) {
	key := [2]string{urlHash, domainHash}
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.urls[key]; ok {
		return id, nil
	}
	id := ids.New()
	d.urls[key] = id
	return id, nil
}
