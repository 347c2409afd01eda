// Package store keeps whiteboards as automerge documents in memory and backs
// them up to sqlite.
package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/cespare/xxhash/v2"
	_ "github.com/mattn/go-sqlite3"
)

const DefaultBoard = "default"

var boardIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func ValidBoardID(id string) bool {
	return boardIDPattern.MatchString(id)
}

type Store struct {
	db     *sql.DB
	logger *slog.Logger

	mu      sync.Mutex
	boards  map[string]*Board
	digests map[string]uint64
}

// Open opens (or creates) the sqlite database at path and loads every board
// in it. The default board always exists afterwards.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &Store{
		db:      db,
		logger:  logger,
		boards:  make(map[string]*Board),
		digests: make(map[string]uint64),
	}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS boards (
    	id text not null primary key,
        content text not null,
        updated_at integer not null
		)`,
	); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, content FROM boards`)
	if err != nil {
		return fmt.Errorf("failed to query: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Error("failed to close rows", "err", err)
		}
	}()
	for rows.Next() {
		var id, rawSave string
		if err := rows.Scan(&id, &rawSave); err != nil {
			return fmt.Errorf("failed to scan: %w", err)
		}
		raw, err := base64.StdEncoding.DecodeString(rawSave)
		if err != nil {
			return fmt.Errorf("failed to decode board %s: %w", id, err)
		}
		doc, err := automerge.Load(raw)
		if err != nil {
			return fmt.Errorf("failed to load board %s: %w", id, err)
		}
		s.boards[id] = newBoard(id, doc)
		s.digests[id] = xxhash.Sum64(raw)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read rows: %w", err)
	}

	if _, err := s.Board(ctx, DefaultBoard); err != nil {
		return err
	}
	s.logger.Info("loaded boards", "count", len(s.boards))
	return nil
}

// Board returns the board with the given id, creating and persisting an empty
// one if it does not exist yet.
func (s *Store) Board(ctx context.Context, id string) (*Board, error) {
	if !ValidBoardID(id) {
		return nil, fmt.Errorf("invalid board id %q", id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.boards[id]; ok {
		return b, nil
	}

	doc := automerge.New()
	raw := doc.Save()
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO boards (id, content, updated_at) VALUES (?, ?, ?)`,
		id, base64.StdEncoding.EncodeToString(raw), time.Now().Unix(),
	); err != nil {
		return nil, fmt.Errorf("failed to insert board %s: %w", id, err)
	}
	b := newBoard(id, doc)
	s.boards[id] = b
	s.digests[id] = xxhash.Sum64(raw)
	s.logger.Info("created board", "board", id)
	return b, nil
}

// Lookup returns a board only if it already exists.
func (s *Store) Lookup(id string) (*Board, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.boards[id]
	return b, ok
}

func (s *Store) BoardIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.boards))
	for id := range s.boards {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Store) snapshotBoards() []*Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Board, 0, len(s.boards))
	for _, b := range s.boards {
		out = append(out, b)
	}
	return out
}

// Backup writes every board whose saved bytes changed since the last backup
// and returns how many were written.
func (s *Store) Backup(ctx context.Context) (int, error) {
	written := 0
	for _, b := range s.snapshotBoards() {
		raw := b.Save()
		digest := xxhash.Sum64(raw)

		s.mu.Lock()
		unchanged := s.digests[b.ID()] == digest
		s.mu.Unlock()
		if unchanged {
			continue
		}

		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO boards (id, content, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
			b.ID(), base64.StdEncoding.EncodeToString(raw), time.Now().Unix(),
		); err != nil {
			return written, fmt.Errorf("failed to backup board %s: %w", b.ID(), err)
		}
		s.mu.Lock()
		s.digests[b.ID()] = digest
		s.mu.Unlock()
		written++
		s.logger.Info("backed up", "board", b.ID(), "version", b.Version())
	}
	return written, nil
}

// RunBackups calls Backup every interval until ctx is done.
func (s *Store) RunBackups(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if _, err := s.Backup(ctx); err != nil {
				s.logger.Error("failed to backup boards", "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close runs a final backup and closes the database.
func (s *Store) Close(ctx context.Context) error {
	_, backupErr := s.Backup(ctx)
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return backupErr
}
