// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// DefaultRecentNotes is how many notes the memory source returns per fetch.
const DefaultRecentNotes = 10

// notePrefix namespaces note keys; seqPrefix holds per-session counters.
const (
	notePrefix = "note/"
	seqPrefix  = "seq/"
)

// MemoryConfig configures the local conversation memory store.
type MemoryConfig struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is
	// true.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Useful for
	// testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger is the logger for BadgerDB internals. Nil disables them.
	Logger *slog.Logger
}

// DefaultMemoryConfig returns production defaults for a path.
func DefaultMemoryConfig(path string) MemoryConfig {
	return MemoryConfig{Path: path, SyncWrites: true}
}

// InMemoryConfig returns configuration for tests: no disk I/O, no sync.
func InMemoryConfig() MemoryConfig {
	return MemoryConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// note is the stored record for one conversation memory entry.
type note struct {
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationMemory is a local embedded store of per-session conversation
// notes, used as a low-latency context source.
//
// Keys are ordered by an append sequence so iteration is chronological.
//
// Thread Safety: Safe for concurrent use; BadgerDB transactions provide the
// isolation.
type ConversationMemory struct {
	db *badger.DB
}

// OpenConversationMemory opens the store with the given configuration.
//
// Description:
//
//	Opens a BadgerDB database at the configured path, or in memory when
//	InMemory is set. Creates the directory if it doesn't exist.
//
// Outputs:
//
//	*ConversationMemory - The opened store. Caller must Close when done.
//	error - Non-nil if the path is invalid or the database cannot open.
func OpenConversationMemory(cfg MemoryConfig) (*ConversationMemory, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent memory")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create memory directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open memory database: %w", err)
	}
	return &ConversationMemory{db: db}, nil
}

// Close closes the underlying database.
func (m *ConversationMemory) Close() error {
	return m.db.Close()
}

// Append stores one note for a session.
//
// Inputs:
//
//	sessionID - Session isolation key. Must not be empty.
//	content - The note text. Must not be empty.
func (m *ConversationMemory) Append(sessionID, content string) error {
	if sessionID == "" {
		return errors.New("sessionID must not be empty")
	}
	if content == "" {
		return errors.New("content must not be empty")
	}

	record, err := json.Marshal(note{Content: content, CreatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encoding note: %w", err)
	}

	return m.db.Update(func(txn *badger.Txn) error {
		seq, err := nextSeq(txn, sessionID)
		if err != nil {
			return err
		}
		key := noteKey(sessionID, seq)
		return txn.Set(key, record)
	})
}

// Recent returns up to n notes for a session, oldest first.
func (m *ConversationMemory) Recent(sessionID string, n int) ([]string, error) {
	if n <= 0 {
		n = DefaultRecentNotes
	}

	prefix := []byte(notePrefix + sessionID + "/")
	var contents []string

	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts past the prefix range; seek to the
		// highest possible key under it.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(contents) < n; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec note
				if err := json.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("decoding note %s: %w", it.Item().Key(), err)
				}
				contents = append(contents, rec.Content)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Collected newest first; flip to chronological order.
	for i, j := 0, len(contents)-1; i < j; i, j = i+1, j-1 {
		contents[i], contents[j] = contents[j], contents[i]
	}
	return contents, nil
}

// Source returns an aggregate-compatible fetch over the n most recent notes
// of a session. The query is unused; recency is the relevance signal here.
func (m *ConversationMemory) Source(sessionID string, n int) func(ctx context.Context, query string) ([]string, error) {
	return func(ctx context.Context, query string) ([]string, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return m.Recent(sessionID, n)
	}
}

// noteKey builds a lexically sortable key for a session note.
func noteKey(sessionID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%012d", notePrefix, sessionID, seq))
}

// nextSeq increments and returns the per-session append counter.
func nextSeq(txn *badger.Txn, sessionID string) (uint64, error) {
	key := []byte(seqPrefix + sessionID)

	var seq uint64
	item, err := txn.Get(key)
	switch {
	case err == nil:
		err = item.Value(func(val []byte) error {
			if _, scanErr := fmt.Sscanf(string(val), "%d", &seq); scanErr != nil {
				return fmt.Errorf("corrupt sequence for %s: %w", sessionID, scanErr)
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	case errors.Is(err, badger.ErrKeyNotFound):
		seq = 0
	default:
		return 0, fmt.Errorf("reading sequence: %w", err)
	}

	seq++
	if err := txn.Set(key, []byte(fmt.Sprintf("%d", seq))); err != nil {
		return 0, fmt.Errorf("writing sequence: %w", err)
	}
	return seq, nil
}
