/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blnkfinance/floorsync/model"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	pkgerrors "github.com/pkg/errors"
)

// pgDiskFull is the Postgres SQLSTATE for disk_full.
const pgDiskFull = "53100"

// QueueChannel is the Postgres NOTIFY channel announcing queue writes.
const QueueChannel = "floorsync_queue"

// QueueChange is the NOTIFY payload sent when a queue row is rewritten.
// Newest is the highest pending submission id; ids are time ordered, so a
// larger Newest means a submission was added.
type QueueChange struct {
	Key     string `json:"key"`
	Newest  string `json:"newest"`
	Pending int    `json:"pending"`
}

func queueChange(key string, items []model.QueuedSubmission) QueueChange {
	change := QueueChange{Key: key}
	for _, item := range items {
		if item.Status != model.StatusPending {
			continue
		}
		change.Pending++
		if item.ID > change.Newest {
			change.Newest = item.ID
		}
	}
	return change
}

// SQLStore keeps the queue as one JSON row in the floorsync_kv table.
type SQLStore struct {
	Conn     *sql.DB
	dialect  string
	key      string
	maxBytes int
}

func NewSQLStore(db *sql.DB, dialect, key string, maxBytes int) *SQLStore {
	return &SQLStore{Conn: db, dialect: dialect, key: key, maxBytes: maxBytes}
}

// rebind rewrites ? placeholders into $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
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

func (s *SQLStore) Load(ctx context.Context) ([]model.QueuedSubmission, error) {
	var value string
	err := s.Conn.QueryRowContext(ctx, s.rebind(`SELECT value FROM floorsync_kv WHERE key = ?`), s.key).Scan(&value)
	if err == sql.ErrNoRows {
		return []model.QueuedSubmission{}, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "load queue")
	}
	items, err := decodeList([]byte(value))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "decode queue")
	}
	return items, nil
}

// Update holds a write lock on the queue row for the whole cycle. SQLite
// takes it at BEGIN through _txlock=immediate; Postgres uses FOR UPDATE.
func (s *SQLStore) Update(ctx context.Context, fn Mutator) error {
	tx, err := s.Conn.BeginTx(ctx, nil)
	if err != nil {
		return s.mapErr(err, "begin queue transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO floorsync_kv (key, value, updated_at) VALUES (?, '[]', ?) ON CONFLICT (key) DO NOTHING`), s.key, now)
	if err != nil {
		return s.mapErr(err, "seed queue row")
	}

	query := `SELECT value FROM floorsync_kv WHERE key = ?`
	if s.dialect == DialectPostgres {
		query += ` FOR UPDATE`
	}
	var value string
	if err := tx.QueryRowContext(ctx, s.rebind(query), s.key).Scan(&value); err != nil {
		return s.mapErr(err, "read queue")
	}

	items, err := decodeList([]byte(value))
	if err != nil {
		return pkgerrors.Wrap(err, "decode queue")
	}

	next, err := fn(items)
	if err != nil {
		return err
	}

	data, err := encodeList(next, s.maxBytes)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, s.rebind(`UPDATE floorsync_kv SET value = ?, updated_at = ? WHERE key = ?`), string(data), now, s.key)
	if err != nil {
		return s.mapErr(err, "write queue")
	}
	// Delivered on commit, so listeners never see a rolled back write.
	if s.dialect == DialectPostgres {
		payload, err := json.Marshal(queueChange(s.key, next))
		if err != nil {
			return pkgerrors.Wrap(err, "encode queue change")
		}
		if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, QueueChannel, string(payload)); err != nil {
			return s.mapErr(err, "notify queue change")
		}
	}
	if err := tx.Commit(); err != nil {
		return s.mapErr(err, "commit queue")
	}
	return nil
}

func (s *SQLStore) Clear(ctx context.Context) error {
	_, err := s.Conn.ExecContext(ctx, s.rebind(`DELETE FROM floorsync_kv WHERE key = ?`), s.key)
	if err != nil {
		return pkgerrors.Wrap(err, "clear queue")
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.Conn.Close()
}

// mapErr turns engine "storage full" failures into ErrQuotaExceeded.
func (s *SQLStore) mapErr(err error, msg string) error {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && liteErr.Code == sqlite3.ErrFull {
		return ErrQuotaExceeded
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgDiskFull {
		return ErrQuotaExceeded
	}
	return pkgerrors.Wrap(err, msg)
}
