package core

import "fmt"

// ArtifactStore defines the interface for revisioned artifact persistence.
// Artifacts are scoped by application, user and session and addressed by
// filename. Saving the same filename again creates a new revision; revisions
// start at 0 and increment by one. Implementations must be thread-safe.
//
// An artifact reference URI has the form
//
//	artifact://{appName}/{userID}/{sessionID}/{filename}#{revision}
//
// and is what session events carry instead of raw payload bytes.
type ArtifactStore interface {
	// Save persists a new revision of the named artifact and returns the
	// revision number it was assigned.
	Save(appName, userID, sessionID, filename string, data Blob) (int, error)

	// Get returns the latest revision of the named artifact.
	Get(appName, userID, sessionID, filename string) (Blob, error)

	// GetVersion returns one specific revision of the named artifact.
	GetVersion(appName, userID, sessionID, filename string, version int) (Blob, error)

	// List returns the filenames stored under the scope.
	List(appName, userID, sessionID string) ([]string, error)

	// ListVersions returns the revision numbers stored for one filename in
	// ascending order.
	ListVersions(appName, userID, sessionID, filename string) ([]int, error)

	// Delete removes all revisions of the named artifact.
	Delete(appName, userID, sessionID, filename string) error
}

// ArtifactRef renders the canonical artifact reference URI for a stored
// revision.
func ArtifactRef(appName, userID, sessionID, filename string, revision int) string {
	return fmt.Sprintf("artifact://%s/%s/%s/%s#%d", appName, userID, sessionID, filename, revision)
}
