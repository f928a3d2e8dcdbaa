// Package freshness implements the Freshness Engine: state-file
// persistence and the per-node staleness classification that decides
// which GraphNodes the Execution Driver must run.
package freshness

import (
	"encoding/json"
	"path/filepath"
	"sort"

	"github.com/tasktreehq/tt/internal/ttio"
	"github.com/tasktreehq/tt/internal/ttserr"
)

// StateEntry is one row of the state file.
type StateEntry struct {
	DefHash     string           `json:"def_hash"`
	ArgHash     string           `json:"arg_hash"`
	LastRunUnix int64            `json:"last_run_unix"`
	Inputs      map[string]int64 `json:"inputs"`
}

func key(defHash, argHash string) string { return defHash + "#" + argHash }

// Store holds the state file's entries in memory, keyed by
// (def_hash, arg_hash), and persists them atomically.
type Store struct {
	FS       ttio.FileSystem
	Path     string // <project-root>/.tasktree-state
	entries  map[string]*StateEntry
	original []StateEntry // never set; fields of the state file outside StateEntry are dropped on Save
}

// NewStore constructs a Store rooted at projectRoot.
func NewStore(fs ttio.FileSystem, projectRoot string) *Store {
	return &Store{FS: fs, Path: filepath.Join(projectRoot, ".tasktree-state"), entries: map[string]*StateEntry{}}
}

// Load reads the state file, if present. A missing file is not an error
// (first invocation in a project); malformed JSON is KindStateFileCorrupt.
func (s *Store) Load() error {
	return s.Reload()
}

// Reload re-reads the state file from disk and replaces the in-memory
// entries wholesale. A nested tt invocation sharing this file via
// TT_STATE_FILE_PATH may have rewritten entries for other nodes since this
// process last read it, so the driver reloads before recording each node's
// own result rather than trusting a snapshot taken at process start.
func (s *Store) Reload() error {
	data, err := s.FS.ReadFile(s.Path)
	if err != nil {
		s.entries = map[string]*StateEntry{}
		return nil // absent state file == empty state
	}
	if len(data) == 0 {
		s.entries = map[string]*StateEntry{}
		return nil
	}
	var raw []StateEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return ttserr.Wrap(ttserr.KindStateFileCorrupt, "state file is not valid JSON", err).WithPath(s.Path)
	}
	entries := make(map[string]*StateEntry, len(raw))
	for i := range raw {
		e := raw[i]
		entries[key(e.DefHash, e.ArgHash)] = &e
	}
	s.entries = entries
	return nil
}

// Lookup returns the stored entry for (defHash, argHash), if any.
func (s *Store) Lookup(defHash, argHash string) (*StateEntry, bool) {
	e, ok := s.entries[key(defHash, argHash)]
	return e, ok
}

// Upsert records a successful run's input snapshot.
func (s *Store) Upsert(defHash, argHash string, lastRunUnix int64, inputs map[string]int64) {
	s.entries[key(defHash, argHash)] = &StateEntry{
		DefHash: defHash, ArgHash: argHash, LastRunUnix: lastRunUnix, Inputs: inputs,
	}
}

// Prune drops every entry whose definition hash is not among
// liveDefHashes. Run once at the start of the invocation.
func (s *Store) Prune(liveDefHashes map[string]bool) {
	for k, e := range s.entries {
		if !liveDefHashes[e.DefHash] {
			delete(s.entries, k)
		}
	}
}

// Save rewrites the state file atomically: write a temp file in the same
// directory, then rename over the destination.
func (s *Store) Save() error {
	list := make([]StateEntry, 0, len(s.entries))
	for _, e := range s.entries {
		list = append(list, *e)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].DefHash != list[j].DefHash {
			return list[i].DefHash < list[j].DefHash
		}
		return list[i].ArgHash < list[j].ArgHash
	})

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return ttserr.Wrap(ttserr.KindStateFileWriteFailed, "failed to marshal state", err).WithPath(s.Path)
	}

	dir := filepath.Dir(s.Path)
	tmp, err := s.FS.TempFile(dir, ".tasktree-state-*")
	if err != nil {
		return ttserr.Wrap(ttserr.KindStateFileWriteFailed, "failed to create temp state file", err).WithPath(s.Path)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()

	if err := s.FS.WriteFile(tmpPath, data, 0o644); err != nil {
		_ = s.FS.Remove(tmpPath)
		return ttserr.Wrap(ttserr.KindStateFileWriteFailed, "failed to write temp state file", err).WithPath(s.Path)
	}
	if err := s.FS.Rename(tmpPath, s.Path); err != nil {
		_ = s.FS.Remove(tmpPath)
		return ttserr.Wrap(ttserr.KindStateFileWriteFailed, "failed to rename temp state file into place", err).WithPath(s.Path)
	}
	return nil
}
