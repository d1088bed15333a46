package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chr1sbest/smithers/internal/runstate"
)

const currentFile = "checkpoint.json"

// FileStore keeps the current checkpoint in a single JSON file and publishes
// each save by writing a temp file, fsyncing it and renaming it into place.
// A bounded history of checkpoint_<seq>.json copies is kept alongside for
// post-mortem inspection.
type FileStore struct {
	mu   sync.Mutex
	dir  string
	path string
	keep int
	seq  uint64

	now func() time.Time
}

// NewFileStore opens (or creates) a file-backed store in dir. keep bounds
// the number of history copies retained after each save; zero disables
// history entirely.
func NewFileStore(dir string, keep int) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	s := &FileStore{
		dir:  dir,
		path: filepath.Join(dir, currentFile),
		keep: keep,
		now:  time.Now,
	}
	s.seq = s.lastSeq()
	return s, nil
}

func (s *FileStore) Save(state *runstate.RunState) (Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env := envelope{
		Version: FormatVersion,
		Seq:     s.seq + 1,
		SavedAt: s.now().UTC(),
		State:   state,
	}
	data, err := encodeEnvelope(env)
	if err != nil {
		return Meta{}, fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return Meta{}, fmt.Errorf("write checkpoint: %w", err)
	}
	s.seq = env.Seq

	// History copies are for humans digging through a dead run; a failure
	// here must not fail a save that already published.
	if s.keep > 0 {
		_ = os.WriteFile(s.historyPath(env.Seq), data, 0o644)
		s.pruneHistory()
	}
	return Meta{Seq: env.Seq, SavedAt: env.SavedAt}, nil
}

func (s *FileStore) Load() (*runstate.RunState, Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Meta{}, ErrNotFound
		}
		return nil, Meta{}, fmt.Errorf("read checkpoint: %w", err)
	}
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, Meta{}, err
	}
	return env.State, Meta{Seq: env.Seq, SavedAt: env.SavedAt}, nil
}

func (s *FileStore) Close() error { return nil }

// lastSeq recovers the highest sequence number already on disk so the
// sequence stays strictly increasing across restarts.
func (s *FileStore) lastSeq() uint64 {
	var last uint64
	if data, err := os.ReadFile(s.path); err == nil {
		var head struct {
			Seq uint64 `json:"seq"`
		}
		if json.Unmarshal(data, &head) == nil {
			last = head.Seq
		}
	}
	for _, seq := range s.historySeqs() {
		if seq > last {
			last = seq
		}
	}
	return last
}

func (s *FileStore) historyPath(seq uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("checkpoint_%08d.json", seq))
}

// historySeqs lists retained history copies in ascending sequence order.
func (s *FileStore) historySeqs() []uint64 {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var seqs []uint64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "checkpoint_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(name, "checkpoint_"), ".json")
		seq, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}

func (s *FileStore) pruneHistory() {
	seqs := s.historySeqs()
	for len(seqs) > s.keep {
		_ = os.Remove(s.historyPath(seqs[0]))
		seqs = seqs[1:]
	}
}

// writeFileAtomic stages data in a temp file, fsyncs it, then renames it over
// path. The rename is the publish step: a crash before it leaves the old file
// untouched, a crash after it leaves the new one complete.
func writeFileAtomic(path string, data []byte) error {
	tmp := fmt.Sprintf("%s.tmp.%d", path, time.Now().UnixNano())
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return syncDir(filepath.Dir(path))
}

// syncDir flushes the directory entry so the rename survives a crash too.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
