package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// LocalRootID is the id of a LocalConnector's root folder.
const LocalRootID = "."

// mimeByExtension maps file extensions to the MIME types the engine
// understands. Anything else is skipped during traversal.
var mimeByExtension = map[string]string{
	".txt":  "text/plain",
	".text": "text/plain",
	".md":   "text/markdown",
	".html": "text/html",
	".htm":  "text/html",
	".csv":  "text/csv",
	".json": "application/json",
}

// LocalConnector serves a directory tree as a document source. Entry ids
// are slash-separated paths relative to the root; the change feed is
// derived from a snapshot cursor (path -> mtime) so deletions are detected
// by diffing snapshots.
type LocalConnector struct {
	root    string
	include []string
	exclude []string
}

// NewLocalConnector creates a connector over the given directory. Include
// and exclude are doublestar glob patterns matched against relative paths;
// an empty include list matches everything.
func NewLocalConnector(root string, include, exclude []string) *LocalConnector {
	return &LocalConnector{root: root, include: include, exclude: exclude}
}

// localCursor is the serialized snapshot used as an opaque change cursor.
type localCursor struct {
	Time  string           `json:"time"`
	Files map[string]int64 `json:"files"` // relative path -> mtime (unix nanos)
}

func (c *LocalConnector) GetFile(_ context.Context, id string) (*File, error) {
	abs := filepath.Join(c.root, filepath.FromSlash(id))
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", id, err)
	}
	return c.toFile(id, info), nil
}

func (c *LocalConnector) ListChildren(_ context.Context, folderID, _ string) ([]File, string, error) {
	abs := filepath.Join(c.root, filepath.FromSlash(folderID))
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, "", fmt.Errorf("read dir %s: %w", folderID, err)
	}

	var files []File
	for _, entry := range entries {
		rel := childID(folderID, entry.Name())
		if entry.IsDir() {
			if c.excluded(rel) {
				continue
			}
			files = append(files, File{
				ID:        rel,
				Name:      entry.Name(),
				MimeType:  MimeFolder,
				ParentIDs: []string{folderID},
			})
			continue
		}
		if !c.matches(rel) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, *c.toFile(rel, info))
	}
	// Directory listings are a single page.
	return files, "", nil
}

func (c *LocalConnector) ListChanges(ctx context.Context, cursor, _ string) ([]RawChange, string, string, error) {
	var prev localCursor
	if cursor != "" {
		if err := json.Unmarshal([]byte(cursor), &prev); err != nil {
			return nil, "", "", fmt.Errorf("decoding cursor: %w", err)
		}
	}
	if prev.Files == nil {
		prev.Files = make(map[string]int64)
	}

	current, err := c.snapshot()
	if err != nil {
		return nil, "", "", err
	}

	var changes []RawChange
	paths := make([]string, 0, len(current.Files))
	for p := range current.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		mtime := current.Files[p]
		prevMtime, existed := prev.Files[p]
		if existed && prevMtime == mtime {
			continue
		}
		kind := ChangeAdded
		if existed {
			kind = ChangeModified
		}
		f, err := c.GetFile(ctx, p)
		if err != nil {
			continue
		}
		changes = append(changes, RawChange{FileID: p, Kind: kind, File: f})
	}

	// Paths present in the previous snapshot but gone now were deleted.
	var removed []string
	for p := range prev.Files {
		if _, ok := current.Files[p]; !ok {
			removed = append(removed, p)
		}
	}
	sort.Strings(removed)
	for _, p := range removed {
		changes = append(changes, RawChange{FileID: p, Kind: ChangeDeleted})
	}

	newCursor, err := json.Marshal(current)
	if err != nil {
		return nil, "", "", fmt.Errorf("encoding cursor: %w", err)
	}
	return changes, "", string(newCursor), nil
}

func (c *LocalConnector) StartCursor(context.Context) (string, error) {
	snap, err := c.snapshot()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encoding cursor: %w", err)
	}
	return string(data), nil
}

func (c *LocalConnector) Download(_ context.Context, id string) (string, error) {
	data, err := os.ReadFile(filepath.Join(c.root, filepath.FromSlash(id)))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", id, err)
	}
	return string(data), nil
}

// snapshot collects the mtime of every matching file under the root.
func (c *LocalConnector) snapshot() (localCursor, error) {
	snap := localCursor{
		Time:  time.Now().UTC().Format(time.RFC3339Nano),
		Files: make(map[string]int64),
	}

	err := filepath.WalkDir(c.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil // skip unreadable entries
		}
		rel, err := filepath.Rel(c.root, p)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if c.excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !c.matches(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		snap.Files[rel] = info.ModTime().UnixNano()
		return nil
	})
	if err != nil {
		return localCursor{}, fmt.Errorf("walking %s: %w", c.root, err)
	}
	return snap, nil
}

// matches reports whether a relative file path passes the extension,
// include, and exclude filters.
func (c *LocalConnector) matches(rel string) bool {
	if _, ok := mimeByExtension[strings.ToLower(path.Ext(rel))]; !ok {
		return false
	}
	if c.excluded(rel) {
		return false
	}
	if len(c.include) == 0 {
		return true
	}
	for _, pattern := range c.include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func (c *LocalConnector) excluded(rel string) bool {
	for _, pattern := range c.exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// toFile converts a stat result into the connector's File record.
func (c *LocalConnector) toFile(id string, info os.FileInfo) *File {
	mime := MimeFolder
	if !info.IsDir() {
		mime = mimeByExtension[strings.ToLower(path.Ext(id))]
	}
	return &File{
		ID:           id,
		Name:         path.Base(id),
		MimeType:     mime,
		ModifiedTime: info.ModTime().UTC().Format(time.RFC3339Nano),
		ParentIDs:    parentIDs(id),
	}
}

// childID joins a folder id and child name into the child's id.
func childID(folderID, name string) string {
	if folderID == LocalRootID {
		return name
	}
	return folderID + "/" + name
}

// parentIDs returns the single parent folder id for a local path.
func parentIDs(id string) []string {
	if id == LocalRootID {
		return nil
	}
	dir := path.Dir(id)
	return []string{dir}
}
