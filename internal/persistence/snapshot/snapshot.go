// Package snapshot stores railway graphs on disk as a pair of JSON documents
// per snapshot plus an existing.json index of snapshot ids.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"trainyard.dev/internal/sim/model"
	"trainyard.dev/internal/sim/railway"
)

// IndexFile lists the snapshot ids of a directory.
const IndexFile = "existing.json"

var (
	ErrInvalidName = errors.New("invalid snapshot name")
	ErrNotFound    = errors.New("snapshot not found")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func ValidName(id string) bool { return namePattern.MatchString(id) }

// Meta summarizes a stored snapshot.
type Meta struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Nodes        int       `json:"nodes"`
	Tracks       int       `json:"tracks"`
	Configurable int       `json:"configurable"`
}

func Summarize(id string, createdAt time.Time, docs railway.Documents) Meta {
	m := Meta{ID: id, CreatedAt: createdAt.UTC(), Nodes: len(docs.Nodes), Tracks: len(docs.Tracks)}
	for _, n := range docs.Nodes {
		if n.ConnType == model.PolicyConfigurable {
			m.Configurable++
		}
	}
	return m
}

// Catalog mirrors snapshot writes and removals into an index, e.g. SQLite.
type Catalog interface {
	RecordSnapshot(m Meta) error
	DeleteSnapshot(id string) error
}

// Catalogs fans catalog updates out to several catalogs; errors are joined.
type Catalogs []Catalog

func (cs Catalogs) RecordSnapshot(m Meta) error {
	var errs []error
	for _, c := range cs {
		if c != nil {
			errs = append(errs, c.RecordSnapshot(m))
		}
	}
	return errors.Join(errs...)
}

func (cs Catalogs) DeleteSnapshot(id string) error {
	var errs []error
	for _, c := range cs {
		if c != nil {
			errs = append(errs, c.DeleteSnapshot(id))
		}
	}
	return errors.Join(errs...)
}

type Store struct {
	Dir     string
	Now     func() time.Time
	Catalog Catalog
	Logger  *log.Logger

	mu sync.Mutex
}

func New(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Store) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

// NodesFile and TracksFile name the documents of snapshot id.
func NodesFile(id string) string  { return "nodes_" + id + ".json" }
func TracksFile(id string) string { return "track_" + id + ".json" }

func (s *Store) nodesPath(id string) string  { return filepath.Join(s.Dir, NodesFile(id)) }
func (s *Store) tracksPath(id string) string { return filepath.Join(s.Dir, TracksFile(id)) }

// Save writes docs under a new id derived from the current unix time and
// registers it in existing.json. An unreadable index is logged and replaced
// by one listing every complete snapshot found in Dir.
func (s *Store) Save(docs railway.Documents) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", err
	}
	ids, err := s.index()
	if err != nil {
		// The documents matter more than the index; rebuild it from disk.
		ids = s.scanIDs()
		s.logf("snapshot: unreadable index, rebuilt from %d documents err=%v", len(ids), err)
	}
	now := s.now()
	id := s.freshID(now, ids)

	nodes := docs.Nodes
	if nodes == nil {
		nodes = map[model.NodeID]railway.NodeRecord{}
	}
	tracks := docs.Tracks
	if tracks == nil {
		tracks = map[model.TrackID]railway.TrackRecord{}
	}
	if err := writeJSON(s.tracksPath(id), tracks); err != nil {
		return "", fmt.Errorf("write tracks: %w", err)
	}
	if err := writeJSON(s.nodesPath(id), nodes); err != nil {
		return "", fmt.Errorf("write nodes: %w", err)
	}
	ids = append(ids, id)
	sort.Strings(ids)
	if err := writeJSON(filepath.Join(s.Dir, IndexFile), ids); err != nil {
		return "", fmt.Errorf("write index: %w", err)
	}

	if s.Catalog != nil {
		if err := s.Catalog.RecordSnapshot(Summarize(id, now, docs)); err != nil {
			s.logf("snapshot: catalog record id=%s err=%v", id, err)
		}
	}
	return id, nil
}

func (s *Store) freshID(now time.Time, ids []string) string {
	taken := make(map[string]bool, len(ids))
	for _, id := range ids {
		taken[id] = true
	}
	base := fmt.Sprintf("%011d", now.Unix())
	id := base
	for n := 1; taken[id] || fileExists(s.nodesPath(id)); n++ {
		id = fmt.Sprintf("%s_%d", base, n)
	}
	return id
}

// Load reads both documents of snapshot id.
func (s *Store) Load(id string) (railway.Documents, error) {
	var docs railway.Documents
	if !ValidName(id) {
		return docs, fmt.Errorf("%w: %q", ErrInvalidName, id)
	}
	if err := readJSON(s.nodesPath(id), &docs.Nodes); err != nil {
		return docs, fmt.Errorf("snapshot %s nodes: %w", id, err)
	}
	if err := readJSON(s.tracksPath(id), &docs.Tracks); err != nil {
		return docs, fmt.Errorf("snapshot %s tracks: %w", id, err)
	}
	return docs, nil
}

// Index lists snapshot ids from existing.json in ascending order. A missing
// index means no snapshots.
func (s *Store) Index() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index()
}

func (s *Store) index() ([]string, error) {
	var ids []string
	err := readJSON(filepath.Join(s.Dir, IndexFile), &ids)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Latest returns the newest snapshot id, if any.
func (s *Store) Latest() (string, bool, error) {
	ids, err := s.Index()
	if err != nil || len(ids) == 0 {
		return "", false, err
	}
	return ids[len(ids)-1], true, nil
}

// Remove deletes both documents and the index entry of id.
func (s *Store) Remove(id string) error {
	if !ValidName(id) {
		return fmt.Errorf("%w: %q", ErrInvalidName, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.index()
	if err != nil {
		return err
	}
	kept := ids[:0]
	found := false
	for _, v := range ids {
		if v == id {
			found = true
			continue
		}
		kept = append(kept, v)
	}
	for _, p := range []string{s.nodesPath(id), s.tracksPath(id)} {
		if err := os.Remove(p); err == nil {
			found = true
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := writeJSON(filepath.Join(s.Dir, IndexFile), kept); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if s.Catalog != nil {
		if err := s.Catalog.DeleteSnapshot(id); err != nil {
			s.logf("snapshot: catalog delete id=%s err=%v", id, err)
		}
	}
	return nil
}

// scanIDs lists the ids that have both documents in Dir.
func (s *Store) scanIDs() []string {
	matches, _ := filepath.Glob(filepath.Join(s.Dir, "nodes_*.json"))
	var ids []string
	for _, m := range matches {
		id := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), "nodes_"), ".json")
		if ValidName(id) && fileExists(s.tracksPath(id)) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// writeJSON replaces path atomically.
func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
	}
	if err != nil {
		return err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
