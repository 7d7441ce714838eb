package rss

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"
)

// ErrEntryNotFound is returned when a delete targets a missing entry.
var ErrEntryNotFound = errors.New("entry not found")

// Store persists entries as one JSON array per rule under
// data/<rule>/entries.json, with media files under media/<rule>/. Writes
// are whole-file rewrites; each rule has its own read-write lock.
type Store struct {
	dataDir  string
	mediaDir string
	log      *slog.Logger

	mu    sync.Mutex
	locks map[int64]*sync.RWMutex
}

// NewStore creates a Store rooted at the given data and media directories.
func NewStore(dataDir, mediaDir string, log *slog.Logger) *Store {
	return &Store{
		dataDir:  dataDir,
		mediaDir: mediaDir,
		log:      log,
		locks:    make(map[int64]*sync.RWMutex),
	}
}

func (s *Store) lock(ruleID int64) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[ruleID]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[ruleID] = l
	}
	return l
}

func (s *Store) entriesPath(ruleID int64) string {
	return filepath.Join(s.dataDir, strconv.FormatInt(ruleID, 10), "entries.json")
}

// MediaDir returns the media directory for a rule.
func (s *Store) MediaDir(ruleID int64) string {
	return filepath.Join(s.mediaDir, strconv.FormatInt(ruleID, 10))
}

// MediaPath returns the on-disk path of a media file.
func (s *Store) MediaPath(ruleID int64, filename string) string {
	return filepath.Join(s.MediaDir(ruleID), filepath.Base(filename))
}

// Add appends an entry, filling defaults, and evicts the oldest entries by
// published time until the count is within maxItems. Evicted entries lose
// their media files unless a surviving entry still references them.
func (s *Store) Add(ruleID int64, e *Entry, maxItems int) error {
	l := s.lock(ruleID)
	l.Lock()
	defer l.Unlock()

	e.RuleID = ruleID
	e.normalize(time.Now().UTC())

	entries, err := s.load(ruleID)
	if err != nil {
		return err
	}
	entries = append(entries, *e)

	if maxItems > 0 && len(entries) > maxItems {
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Published.Before(entries[j].Published)
		})
		evicted := entries[:len(entries)-maxItems]
		entries = entries[len(entries)-maxItems:]
		for _, old := range evicted {
			s.removeMedia(ruleID, old, entries)
		}
	}

	return s.save(ruleID, entries)
}

// List returns all entries of a rule sorted by published descending.
func (s *Store) List(ruleID int64) ([]Entry, error) {
	l := s.lock(ruleID)
	l.RLock()
	defer l.RUnlock()

	entries, err := s.load(ruleID)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Published.After(entries[j].Published)
	})
	return entries, nil
}

// Delete removes one entry and its media files.
func (s *Store) Delete(ruleID int64, entryID string) error {
	l := s.lock(ruleID)
	l.Lock()
	defer l.Unlock()

	entries, err := s.load(ruleID)
	if err != nil {
		return err
	}
	idx := -1
	for i, e := range entries {
		if e.ID == entryID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrEntryNotFound
	}
	removed := entries[idx]
	entries = append(entries[:idx], entries[idx+1:]...)
	s.removeMedia(ruleID, removed, entries)
	return s.save(ruleID, entries)
}

// DeleteRule removes the whole data and media trees of a rule.
func (s *Store) DeleteRule(ruleID int64) error {
	l := s.lock(ruleID)
	l.Lock()
	defer l.Unlock()

	dir := filepath.Join(s.dataDir, strconv.FormatInt(ruleID, 10))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove data dir: %w", err)
	}
	if err := os.RemoveAll(s.MediaDir(ruleID)); err != nil {
		return fmt.Errorf("remove media dir: %w", err)
	}
	return nil
}

// SaveMedia copies a local file into the rule's media directory and
// returns the stored Media record.
func (s *Store) SaveMedia(ruleID int64, srcPath, filename string) (Media, error) {
	var m Media
	dir := s.MediaDir(ruleID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return m, fmt.Errorf("create media dir: %w", err)
	}
	filename = filepath.Base(filename)
	dst := filepath.Join(dir, filename)

	src, err := os.Open(srcPath)
	if err != nil {
		return m, fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = src.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return m, fmt.Errorf("create destination: %w", err)
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return m, fmt.Errorf("copy media: %w", err)
	}

	return Media{
		URL:      fmt.Sprintf("/media/%d/%s", ruleID, filename),
		MimeType: mimeByName(filename),
		Size:     n,
		Filename: filename,
	}, nil
}

func (s *Store) load(ruleID int64) ([]Entry, error) {
	data, err := os.ReadFile(s.entriesPath(ruleID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read entries: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse entries: %w", err)
	}
	return entries, nil
}

func (s *Store) save(ruleID int64, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	dir := filepath.Dir(s.entriesPath(ruleID))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal entries: %w", err)
	}
	if err := os.WriteFile(s.entriesPath(ruleID), data, 0o640); err != nil {
		return fmt.Errorf("write entries: %w", err)
	}
	return nil
}

// removeMedia deletes the entry's files unless still referenced by a
// surviving entry.
func (s *Store) removeMedia(ruleID int64, removed Entry, surviving []Entry) {
	inUse := make(map[string]bool)
	for _, e := range surviving {
		for _, m := range e.Media {
			inUse[m.Filename] = true
		}
	}
	for _, m := range removed.Media {
		if m.Filename == "" || inUse[m.Filename] {
			continue
		}
		path := s.MediaPath(ruleID, m.Filename)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("remove media file", "rule_id", ruleID, "file", m.Filename, "error", err)
		}
	}
}
