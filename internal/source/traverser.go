package source

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/vecsync/vecsync/internal/errs"
)

// maxAncestorDepth bounds every upward parent walk. Source trees deeper
// than this (or containing parent cycles) resolve as "not in tree".
const maxAncestorDepth = 20

// Traverser walks a connector's tree and change feed. It caches parent
// metadata and resolved paths by id, so construct a fresh Traverser per
// sync run.
type Traverser struct {
	conn      Connector
	metaCache map[string]*File
	pathCache map[string]string
}

// NewTraverser creates a Traverser with empty per-run caches.
func NewTraverser(conn Connector) *Traverser {
	return &Traverser{
		conn:      conn,
		metaCache: make(map[string]*File),
		pathCache: make(map[string]string),
	}
}

// Download returns the text content of a document.
func (t *Traverser) Download(ctx context.Context, id string) (string, error) {
	text, err := t.conn.Download(ctx, id)
	if err != nil {
		return "", errs.Source("download", err, map[string]any{"document_id": id})
	}
	return text, nil
}

// StartCursor returns the connector's "now" cursor.
func (t *Traverser) StartCursor(ctx context.Context) (string, error) {
	cursor, err := t.conn.StartCursor(ctx)
	if err != nil {
		return "", errs.Source("start_cursor", err, nil)
	}
	return cursor, nil
}

// ListAll recursively lists every supported document under rootID,
// following pagination in each folder. A failure listing the root is fatal;
// a failure inside any other folder is logged and skips that subtree only.
func (t *Traverser) ListAll(ctx context.Context, rootID string) ([]Document, error) {
	type folder struct {
		id   string
		path string
	}

	visited := map[string]bool{rootID: true}
	queue := []folder{{id: rootID}}
	var docs []Document

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		pageToken := ""
		for {
			files, next, err := t.conn.ListChildren(ctx, cur.id, pageToken)
			if err != nil {
				if cur.id == rootID {
					return nil, errs.Source("list_children", err, map[string]any{"folder_id": rootID})
				}
				log.Printf("source: listing folder %s failed, skipping subtree: %v", cur.id, err)
				break
			}

			for i := range files {
				f := files[i]
				t.metaCache[f.ID] = &f

				if f.MimeType == MimeFolder {
					if visited[f.ID] {
						continue
					}
					visited[f.ID] = true
					queue = append(queue, folder{id: f.ID, path: joinPath(cur.path, f.Name)})
					continue
				}
				if !IsSupported(f.MimeType) {
					continue
				}

				path := joinPath(cur.path, f.Name)
				t.pathCache[f.ID] = path
				docs = append(docs, Document{
					ID:           f.ID,
					Name:         f.Name,
					MimeType:     f.MimeType,
					ModifiedTime: f.ModifiedTime,
					Path:         path,
					ParentIDs:    f.ParentIDs,
				})
			}

			if next == "" {
				break
			}
			pageToken = next
		}
	}

	return docs, nil
}

// FetchChanges consumes the change feed since cursor, filters it to
// supported documents inside the root's subtree, and resolves each
// surviving document's display path. It returns the filtered changes and
// the new cursor to persist.
func (t *Traverser) FetchChanges(ctx context.Context, cursor, rootID string) ([]Change, string, error) {
	var changes []Change
	newCursor := cursor
	pageToken := ""

	for {
		raw, next, pageCursor, err := t.conn.ListChanges(ctx, cursor, pageToken)
		if err != nil {
			return nil, "", errs.Source("fetch_changes", err, map[string]any{"cursor": cursor})
		}

		for _, rc := range raw {
			if rc.Kind == ChangeDeleted {
				// Deleted entries carry no metadata, so subtree membership
				// cannot be tested; downstream deletion is a no-op for
				// documents that were never indexed.
				changes = append(changes, Change{DocumentID: rc.FileID, Kind: ChangeDeleted})
				continue
			}

			f := rc.File
			if f == nil {
				log.Printf("source: change for %s has no file metadata, skipping", rc.FileID)
				continue
			}
			if f.MimeType == MimeFolder || !IsSupported(f.MimeType) {
				continue
			}
			if !t.inTree(ctx, f, rootID) {
				continue
			}

			doc := Document{
				ID:           f.ID,
				Name:         f.Name,
				MimeType:     f.MimeType,
				ModifiedTime: f.ModifiedTime,
				Path:         t.resolvePath(ctx, f, rootID),
				ParentIDs:    f.ParentIDs,
			}
			changes = append(changes, Change{DocumentID: f.ID, Kind: rc.Kind, Document: &doc})
		}

		if pageCursor != "" {
			newCursor = pageCursor
		}
		if next == "" {
			break
		}
		pageToken = next
	}

	return changes, newCursor, nil
}

// inTree reports whether some parent chain of f reaches rootID within the
// depth bound. Traversal failures degrade to "not in tree".
func (t *Traverser) inTree(ctx context.Context, f *File, rootID string) bool {
	if f.ID == rootID {
		return true
	}
	for _, pid := range f.ParentIDs {
		if _, ok := t.chainToRoot(ctx, pid, rootID, maxAncestorDepth); ok {
			return true
		}
	}
	return false
}

// resolvePath builds the document's display path by walking upward from the
// parent chain that leads back to the root. The root's own name is excluded.
// Failures degrade to the bare filename. Results are cached by document id.
func (t *Traverser) resolvePath(ctx context.Context, f *File, rootID string) string {
	if p, ok := t.pathCache[f.ID]; ok {
		return p
	}

	path := f.Name
	resolved := false
	// A document can have multiple parents; pick the chain that reaches
	// the root, not necessarily the first one listed.
	for _, pid := range f.ParentIDs {
		if names, ok := t.chainToRoot(ctx, pid, rootID, maxAncestorDepth); ok {
			path = strings.Join(append(names, f.Name), "/")
			resolved = true
			break
		}
	}
	if !resolved && len(f.ParentIDs) > 0 {
		log.Printf("source: could not resolve path for %s, using filename only", f.ID)
	}

	t.pathCache[f.ID] = path
	return path
}

// chainToRoot walks upward from folder id and, when the walk reaches
// rootID, returns the folder names along the way ordered top-down (root
// excluded). The depth bound doubles as cycle protection.
func (t *Traverser) chainToRoot(ctx context.Context, id, rootID string, depth int) ([]string, bool) {
	if id == rootID {
		return nil, true
	}
	if depth <= 0 {
		return nil, false
	}

	meta, err := t.getMeta(ctx, id)
	if err != nil {
		return nil, false
	}
	for _, pid := range meta.ParentIDs {
		if names, ok := t.chainToRoot(ctx, pid, rootID, depth-1); ok {
			return append(names, meta.Name), true
		}
	}
	return nil, false
}

// getMeta fetches file metadata through the per-run cache.
func (t *Traverser) getMeta(ctx context.Context, id string) (*File, error) {
	if f, ok := t.metaCache[id]; ok {
		return f, nil
	}
	f, err := t.conn.GetFile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", id, err)
	}
	t.metaCache[id] = f
	return f, nil
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
