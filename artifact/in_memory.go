package artifact

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/agentstream/core"
)

// InMemoryStore is an in-process ArtifactStore implementation useful for
// tests, examples and single-process prototypes. Artifacts are held in a
// nested map guarded by an RWMutex. Blob bytes are copied on save and on
// retrieval to avoid accidental external mutation of internal buffers.
//
// Layout: "{app}/{user}/{session}" -> filename -> ordered revision slice.
// Revisions start at 0 and grow by one per Save of the same filename.
//
// This implementation does not enforce retention limits, size quotas or
// eviction. For production, prefer a durable backend such as the s3
// sub-package.
type InMemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]map[string][]core.Blob
}

// NewInMemoryStore returns an empty in-memory artifact store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{artifacts: make(map[string]map[string][]core.Blob)}
}

func scopeKey(appName, userID, sessionID string) string {
	return appName + "/" + userID + "/" + sessionID
}

func copyBlob(b core.Blob) core.Blob {
	cp := make([]byte, len(b.Data))
	copy(cp, b.Data)

	return core.Blob{MimeType: b.MimeType, Data: cp}
}

// Save appends a new revision of the named artifact and returns its revision
// number.
func (a *InMemoryStore) Save(appName, userID, sessionID, filename string, data core.Blob) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	scope := scopeKey(appName, userID, sessionID)

	files, ok := a.artifacts[scope]
	if !ok {
		files = make(map[string][]core.Blob)
		a.artifacts[scope] = files
	}

	files[filename] = append(files[filename], copyBlob(data))

	return len(files[filename]) - 1, nil
}

// Get returns a copy of the latest revision or ErrNotFound.
func (a *InMemoryStore) Get(appName, userID, sessionID, filename string) (core.Blob, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	revisions, err := a.revisionsLocked(appName, userID, sessionID, filename)
	if err != nil {
		return core.Blob{}, err
	}

	return copyBlob(revisions[len(revisions)-1]), nil
}

// GetVersion returns a copy of one specific revision or ErrNotFound.
func (a *InMemoryStore) GetVersion(appName, userID, sessionID, filename string, version int) (core.Blob, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	revisions, err := a.revisionsLocked(appName, userID, sessionID, filename)
	if err != nil {
		return core.Blob{}, err
	}

	if version < 0 || version >= len(revisions) {
		return core.Blob{}, fmt.Errorf("%w: %s revision %d", ErrNotFound, filename, version)
	}

	return copyBlob(revisions[version]), nil
}

// List returns the filenames stored under the scope in lexical order.
func (a *InMemoryStore) List(appName, userID, sessionID string) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	files, ok := a.artifacts[scopeKey(appName, userID, sessionID)]
	if !ok {
		return []string{}, nil
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}

	sort.Strings(names)

	return names, nil
}

// ListVersions returns the revision numbers stored for one filename in
// ascending order.
func (a *InMemoryStore) ListVersions(appName, userID, sessionID, filename string) ([]int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	revisions, err := a.revisionsLocked(appName, userID, sessionID, filename)
	if err != nil {
		return nil, err
	}

	versions := make([]int, len(revisions))
	for i := range revisions {
		versions[i] = i
	}

	return versions, nil
}

// Delete removes all revisions of the named artifact or returns ErrNotFound.
func (a *InMemoryStore) Delete(appName, userID, sessionID, filename string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	scope := scopeKey(appName, userID, sessionID)

	files, ok := a.artifacts[scope]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, filename)
	}

	if _, ok := files[filename]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, filename)
	}

	delete(files, filename)

	return nil
}

// revisionsLocked resolves the revision slice for a filename. Caller must hold
// at least a read lock.
func (a *InMemoryStore) revisionsLocked(appName, userID, sessionID, filename string) ([]core.Blob, error) {
	files, ok := a.artifacts[scopeKey(appName, userID, sessionID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, filename)
	}

	revisions, ok := files[filename]
	if !ok || len(revisions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, filename)
	}

	return revisions, nil
}
