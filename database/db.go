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
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/blnkfinance/floorsync/config"
	redis_db "github.com/blnkfinance/floorsync/internal/redis-db"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "postgres"
)

// NewDataSource opens the queue store selected by the data source DNS scheme.
// The store is an explicit object owned by the caller: it is opened on
// application start and cleared on sign-out, never held as package state.
func NewDataSource(configuration *config.Configuration) (QueueStore, error) {
	dns := configuration.DataSource.Dns
	key := configuration.Queue.StorageKey
	maxBytes := configuration.Queue.MaxBytes

	switch {
	case strings.HasPrefix(dns, "memory://"):
		return NewMemoryStore(maxBytes), nil
	case strings.HasPrefix(dns, "redis://"), strings.HasPrefix(dns, "rediss://"):
		client, err := redis_db.NewRedisClient([]string{dns}, configuration.Redis.SkipTLSVerify)
		if err != nil {
			return nil, errors.Wrap(err, "connect redis queue store")
		}
		return NewRedisStore(client.Client(), key, maxBytes), nil
	default:
		db, dialect, err := ConnectDB(dns)
		if err != nil {
			return nil, err
		}
		if _, err := Migrate(db, dialect); err != nil {
			_ = db.Close()
			return nil, err
		}
		return NewSQLStore(db, dialect, key, maxBytes), nil
	}
}

// ConnectDB opens the SQL database behind a sqlite:// or postgres:// DNS.
func ConnectDB(dns string) (*sql.DB, string, error) {
	dialect, source, err := parseDNS(dns)
	if err != nil {
		return nil, "", err
	}

	db, err := sql.Open(dialect, source)
	if err != nil {
		return nil, "", err
	}
	if dialect == DialectSQLite {
		// SQLite allows one writer; a single connection also serializes
		// read-modify-write cycles issued from this process.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		_ = db.Close()
		return nil, "", err
	}
	return db, dialect, nil
}

func parseDNS(dns string) (string, string, error) {
	switch {
	case strings.HasPrefix(dns, "sqlite://"):
		path := strings.TrimPrefix(dns, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("sqlite data source needs a file path")
		}
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return DialectSQLite, path + sep + "_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL", nil
	case strings.HasPrefix(dns, "postgres://"), strings.HasPrefix(dns, "postgresql://"):
		return DialectPostgres, dns, nil
	}
	return "", "", fmt.Errorf("unsupported data source %q", dns)
}
