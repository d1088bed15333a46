// Package checkpoint persists run state durably so a crashed or killed run
// can be resumed from its last completed step. Every save publishes a full
// versioned snapshot atomically: a reader observes either the previous
// checkpoint or the new one, never a partial write.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/chr1sbest/smithers/internal/config"
	"github.com/chr1sbest/smithers/internal/runstate"
)

// FormatVersion identifies the envelope layout. Readers refuse envelopes
// written with a version they do not recognize rather than guessing.
const FormatVersion = 1

var (
	// ErrNotFound means no checkpoint has been saved yet.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrUnknownVersion means the stored envelope was written with an
	// incompatible format version.
	ErrUnknownVersion = errors.New("unknown checkpoint version")
)

// Meta describes a saved checkpoint.
type Meta struct {
	Seq     uint64    `json:"seq"`
	SavedAt time.Time `json:"saved_at"`
}

// Store is the durable backend for run state. Save is all-or-nothing, and
// the sequence number strictly increases across saves, including across
// process restarts against the same backing storage.
type Store interface {
	Save(state *runstate.RunState) (Meta, error)
	Load() (*runstate.RunState, Meta, error)
	Close() error
}

// Open builds the store selected by the checkpoint policy, rooted at dir.
func Open(dir string, pol config.CheckpointPolicy) (Store, error) {
	switch pol.Backend {
	case "", "file":
		return NewFileStore(dir, pol.Keep)
	case "badger":
		return NewBadgerStore(filepath.Join(dir, "badger"))
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", pol.Backend)
	}
}

// envelope is the persisted layout: state rides inside a self-describing
// wrapper carrying the format version, sequence number and save time.
type envelope struct {
	Version int                `json:"version"`
	Seq     uint64             `json:"seq"`
	SavedAt time.Time          `json:"saved_at"`
	State   *runstate.RunState `json:"state"`
}

func encodeEnvelope(env envelope) ([]byte, error) {
	return json.MarshalIndent(env, "", "    ")
}

// decodeEnvelope checks the version before decoding the state payload, so an
// envelope from a future format is rejected instead of misread.
func decodeEnvelope(data []byte) (envelope, error) {
	var head struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return envelope{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	if head.Version != FormatVersion {
		return envelope{}, fmt.Errorf("%w: got %d, want %d", ErrUnknownVersion, head.Version, FormatVersion)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	if env.State == nil {
		return envelope{}, errors.New("checkpoint has no state")
	}
	return env, nil
}
