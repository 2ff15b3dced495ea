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

/*
Package main provides the CLI commands for managing the queue table migrations.
Only the SQL stores (sqlite:// and postgres://) have a schema; the memory and
Redis stores need none.
*/

package main

import (
	"fmt"
	"log"

	"github.com/blnkfinance/floorsync/database"
	"github.com/spf13/cobra"
)

func migrateCommands(b *floorsyncInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "migrate",
		Short:       "manage the queue store schema",
		Annotations: map[string]string{"service": "none"},
	}

	cmd.AddCommand(migrateUpCommands(b))
	cmd.AddCommand(migrateDownCommands(b))

	return cmd
}

func migrateUpCommands(b *floorsyncInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use: "up",
		Run: func(cmd *cobra.Command, args []string) {
			db, dialect, err := database.ConnectDB(b.cnf.DataSource.Dns)
			if err != nil {
				log.Printf("Error connecting to database: %v", err)
				return
			}
			defer db.Close()

			n, err := database.Migrate(db, dialect)
			if err != nil {
				log.Printf("Error migrating up: %v", err)
			} else {
				fmt.Printf("Applied %d migrations!\n", n)
			}
		},
	}

	return cmd
}

func migrateDownCommands(b *floorsyncInstance) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use: "down",
		Run: func(cmd *cobra.Command, args []string) {
			db, dialect, err := database.ConnectDB(b.cnf.DataSource.Dns)
			if err != nil {
				log.Printf("Error connecting to database: %v", err)
				return
			}
			defer db.Close()

			n, err := database.Rollback(db, dialect, steps)
			if err != nil {
				log.Printf("Error migrating down: %v", err)
			} else {
				fmt.Printf("Rolled back %d migrations!\n", n)
			}
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "number of migrations to roll back, 0 for all")

	return cmd
}
