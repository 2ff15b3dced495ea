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

	"github.com/pkg/errors"
	migrate "github.com/rubenv/sql-migrate"
)

// Migrations holds the schema for the queue table. The queue is a single
// key/value row so the same schema serves SQLite and Postgres.
var Migrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "0001_create_floorsync_kv",
			Up: []string{`CREATE TABLE IF NOT EXISTS floorsync_kv (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`},
			Down: []string{`DROP TABLE IF EXISTS floorsync_kv`},
		},
	},
}

// Migrate applies pending migrations and returns how many ran.
func Migrate(db *sql.DB, dialect string) (int, error) {
	n, err := migrate.Exec(db, dialect, Migrations, migrate.Up)
	if err != nil {
		return 0, errors.Wrap(err, "apply migrations")
	}
	return n, nil
}

// Rollback reverts up to max migrations. Zero reverts all of them.
func Rollback(db *sql.DB, dialect string, max int) (int, error) {
	n, err := migrate.ExecMax(db, dialect, Migrations, migrate.Down, max)
	if err != nil {
		return 0, errors.Wrap(err, "rollback migrations")
	}
	return n, nil
}
