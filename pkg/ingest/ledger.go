// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingest

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Ledger entry status.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS ingest_files (
    hash VARCHAR(64) PRIMARY KEY,
    path TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL,
    ingested INTEGER NOT NULL DEFAULT 0,
    duplicates INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    status VARCHAR(32) NOT NULL,
    error_message TEXT
)`

// Entry is one processed file in the ingest ledger.
type Entry struct {
	Hash       string    `json:"hash"`
	Path       string    `json:"path"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Ingested   int       `json:"ingested"`
	Duplicates int       `json:"duplicates"`
	Failed     int       `json:"failed"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

// Ledger records which sheet files have been ingested, keyed by content
// hash. The drop-folder watcher consults it so a restart or a duplicate
// file event never re-processes a file that already went through.
type Ledger struct {
	db      *sql.DB
	dialect string
}

// NewLedger creates the ledger on an existing database handle and ensures
// its schema. The handle is shared, so closing it is the caller's job.
func NewLedger(db *sql.DB, dialect string) (*Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}

	switch dialect {
	case "postgres", "mysql", "sqlite":
	case "sqlite3":
		dialect = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	l := &Ledger{db: db, dialect: dialect}
	if err := l.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize ingest ledger schema: %w", err)
	}
	return l, nil
}

func (l *Ledger) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := l.db.ExecContext(ctx, ledgerSchema); err != nil {
		return fmt.Errorf("failed to create ingest_files table: %w", err)
	}
	return nil
}

// Seen reports whether a file with this content hash already completed.
// Failed files are not seen, so they get retried on the next event.
func (l *Ledger) Seen(ctx context.Context, hash string) (bool, error) {
	query := l.rebind(`SELECT status FROM ingest_files WHERE hash = ? AND status = ?`)

	var status string
	err := l.db.QueryRowContext(ctx, query, hash, StatusCompleted).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check ingest ledger: %w", err)
	}
	return true, nil
}

// Record writes or overwrites the entry for a content hash.
func (l *Ledger) Record(ctx context.Context, entry Entry) error {
	_, err := l.db.ExecContext(ctx, l.upsertEntryQuery(),
		entry.Hash, entry.Path, entry.StartedAt, entry.FinishedAt,
		entry.Ingested, entry.Duplicates, entry.Failed,
		entry.Status, entry.Error)
	if err != nil {
		return fmt.Errorf("failed to record ingest ledger entry: %w", err)
	}
	return nil
}

// Entries returns the most recent ledger entries, newest first.
func (l *Ledger) Entries(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := l.rebind(`SELECT hash, path, started_at, finished_at, ingested, duplicates, failed, status, error_message
        FROM ingest_files ORDER BY finished_at DESC LIMIT ?`)

	rows, err := l.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingest ledger entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var errMsg sql.NullString
		if err := rows.Scan(&e.Hash, &e.Path, &e.StartedAt, &e.FinishedAt,
			&e.Ingested, &e.Duplicates, &e.Failed, &e.Status, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan ingest ledger entry: %w", err)
		}
		e.Error = errMsg.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (l *Ledger) upsertEntryQuery() string {
	switch l.dialect {
	case "postgres":
		return `INSERT INTO ingest_files (hash, path, started_at, finished_at, ingested, duplicates, failed, status, error_message)
                VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
                ON CONFLICT (hash) DO UPDATE SET path = $2, started_at = $3, finished_at = $4,
                    ingested = $5, duplicates = $6, failed = $7, status = $8, error_message = $9`
	case "mysql":
		return `INSERT INTO ingest_files (hash, path, started_at, finished_at, ingested, duplicates, failed, status, error_message)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
                ON DUPLICATE KEY UPDATE path = VALUES(path), started_at = VALUES(started_at), finished_at = VALUES(finished_at),
                    ingested = VALUES(ingested), duplicates = VALUES(duplicates), failed = VALUES(failed),
                    status = VALUES(status), error_message = VALUES(error_message)`
	default: // sqlite
		return `INSERT INTO ingest_files (hash, path, started_at, finished_at, ingested, duplicates, failed, status, error_message)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
                ON CONFLICT (hash) DO UPDATE SET path = excluded.path, started_at = excluded.started_at, finished_at = excluded.finished_at,
                    ingested = excluded.ingested, duplicates = excluded.duplicates, failed = excluded.failed,
                    status = excluded.status, error_message = excluded.error_message`
	}
}

// rebind converts ? placeholders to $N for postgres.
func (l *Ledger) rebind(query string) string {
	if l.dialect != "postgres" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ContentHash returns the hex SHA-256 of a file's bytes, the ledger key.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
