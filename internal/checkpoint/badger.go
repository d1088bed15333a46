package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/chr1sbest/smithers/internal/runstate"
)

var checkpointKey = []byte("checkpoint/current")

// BadgerStore keeps the checkpoint in an embedded Badger database. Each save
// is a single transaction with synchronous writes, so atomicity and
// durability come from the database rather than a file rename.
type BadgerStore struct {
	mu  sync.Mutex
	db  *badger.DB
	seq uint64

	now func() time.Time
}

// NewBadgerStore opens (or creates) a Badger-backed store at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithSyncWrites(true).WithLogger(nil)
	return openBadger(opts)
}

// NewBadgerStoreInMemory opens a store that never touches disk. Intended
// for tests.
func NewBadgerStoreInMemory() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	return openBadger(opts)
}

func openBadger(opts badger.Options) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	s := &BadgerStore{db: db, now: time.Now}
	if err := s.loadSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BadgerStore) Save(state *runstate.RunState) (Meta, error) {
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
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(checkpointKey, data)
	})
	if err != nil {
		return Meta{}, fmt.Errorf("write checkpoint: %w", err)
	}
	s.seq = env.Seq
	return Meta{Seq: env.Seq, SavedAt: env.SavedAt}, nil
}

func (s *BadgerStore) Load() (*runstate.RunState, Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return nil, Meta{}, err
	}
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, Meta{}, err
	}
	return env.State, Meta{Seq: env.Seq, SavedAt: env.SavedAt}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func (s *BadgerStore) read() ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(checkpointKey)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	return data, nil
}

// loadSeq seeds the sequence counter from whatever is already stored so the
// sequence stays strictly increasing across restarts.
func (s *BadgerStore) loadSeq() error {
	data, err := s.read()
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var head struct {
		Seq uint64 `json:"seq"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("decode checkpoint: %w", err)
	}
	s.seq = head.Seq
	return nil
}
