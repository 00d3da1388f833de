// Package source discovers documents in a tree-structured document source
// and consumes its change feed. The Connector interface is the low-level
// provider API (listing, metadata, change pages, content download); the
// Traverser layers subtree membership, display-path resolution, and
// per-run caching on top of it.
package source

import "context"

// MimeFolder marks a container entry in the source tree.
const MimeFolder = "application/vnd.folder"

// supportedMimeTypes are the content types the sync engine indexes. The
// connector is responsible for converting binary formats to one of these
// before handing content over.
var supportedMimeTypes = map[string]bool{
	"text/plain":       true,
	"text/markdown":    true,
	"text/html":        true,
	"text/csv":         true,
	"application/json": true,
}

// IsSupported reports whether documents of the given MIME type are indexed.
func IsSupported(mimeType string) bool {
	return supportedMimeTypes[mimeType]
}

// Document is a source file as seen by the sync orchestrator. Path is
// derived from the folder structure, not authoritative, and is cached per
// id for the duration of a run.
type Document struct {
	ID           string
	Name         string
	MimeType     string
	ModifiedTime string
	Path         string
	ParentIDs    []string
}

// ChangeKind classifies a change-feed entry.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
)

// Change is one entry of a consumed change feed. Deleted changes carry no
// document payload.
type Change struct {
	DocumentID string
	Kind       ChangeKind
	Document   *Document
}

// File is the provider-level metadata record for one entry (file or folder).
type File struct {
	ID           string
	Name         string
	MimeType     string
	ModifiedTime string
	ParentIDs    []string
}

// RawChange is one unfiltered entry from the provider change feed. Kind is
// set by the connector; deleted entries have a nil File.
type RawChange struct {
	FileID string
	Kind   ChangeKind
	File   *File
}

// Connector is the low-level document-source API. Implementations own their
// authentication and any binary-format text extraction.
type Connector interface {
	// GetFile returns metadata for a single entry.
	GetFile(ctx context.Context, id string) (*File, error)

	// ListChildren returns one page of a folder's direct children and the
	// token for the next page ("" when exhausted).
	ListChildren(ctx context.Context, folderID, pageToken string) ([]File, string, error)

	// ListChanges returns one page of the change feed since cursor, the
	// next page token ("" when exhausted), and the new cursor to persist.
	ListChanges(ctx context.Context, cursor, pageToken string) ([]RawChange, string, string, error)

	// StartCursor returns a cursor representing "now" in the change feed.
	StartCursor(ctx context.Context) (string, error)

	// Download returns the document's text content.
	Download(ctx context.Context, id string) (string, error)
}
