// Package audit keeps a transcript of every command the daemon executed.
package audit

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/BegaDeveloper/kindops/internal/executor"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
	stderrTailSize   = 2000
)

var commandsBucket = []byte("commands")

type Entry struct {
	Sequence   uint64    `json:"sequence"`
	Command    string    `json:"command"`
	ExitCode   int       `json:"exit_code"`
	DurationMS int64     `json:"duration_ms"`
	Stderr     string    `json:"stderr,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory failed: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open audit db %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, createErr := tx.CreateBucketIfNotExists(commandsBucket)
		return createErr
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (store *Store) Close() error {
	if store == nil || store.db == nil {
		return nil
	}
	return store.db.Close()
}

// Append assigns the entry the next sequence number and stores it.
func (store *Store) Append(entry Entry) (Entry, error) {
	err := store.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(commandsBucket)
		sequence, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		entry.Sequence = sequence
		payload, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return bucket.Put(sequenceKey(sequence), payload)
	})
	return entry, err
}

// List returns up to limit entries, newest first.
func (store *Store) List(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	result := make([]Entry, 0, limit)
	err := store.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(commandsBucket)
		cursor := bucket.Cursor()
		for key, value := cursor.Last(); key != nil && len(result) < limit; key, value = cursor.Prev() {
			entry := Entry{}
			if decodeErr := json.Unmarshal(value, &entry); decodeErr != nil {
				continue
			}
			result = append(result, entry)
		}
		return nil
	})
	return result, err
}

func sequenceKey(sequence uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, sequence)
	return key
}

// RecordingRunner appends every command it runs to a Store. A failed write
// is logged and never fails the command.
type RecordingRunner struct {
	next   executor.Runner
	store  *Store
	logger zerolog.Logger
}

func NewRecordingRunner(next executor.Runner, store *Store, logger zerolog.Logger) *RecordingRunner {
	return &RecordingRunner{next: next, store: store, logger: logger.With().Str("component", "audit").Logger()}
}

func (runner *RecordingRunner) Run(ctx context.Context, command executor.Command) (executor.Result, error) {
	startedAt := time.Now().UTC()
	result, runError := runner.next.Run(ctx, command)

	entry := Entry{
		Command:    command.String(),
		ExitCode:   result.ExitCode,
		DurationMS: result.DurationMS,
		StartedAt:  startedAt,
	}
	if result.ExitCode != 0 {
		entry.Stderr = tail(result.Stderr, stderrTailSize)
	}
	if runError != nil {
		entry.Error = runError.Error()
	}
	if _, appendError := runner.store.Append(entry); appendError != nil {
		runner.logger.Warn().Err(appendError).Str("command", entry.Command).Msg("append command transcript failed")
	}
	return result, runError
}

func tail(text string, maxLength int) string {
	if len(text) <= maxLength {
		return text
	}
	return text[len(text)-maxLength:]
}
