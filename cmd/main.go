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

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/blnkfinance/floorsync"
	"github.com/blnkfinance/floorsync/config"
	"github.com/blnkfinance/floorsync/database"
	"github.com/blnkfinance/floorsync/internal/notification"
	"github.com/blnkfinance/floorsync/remote"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// FloorSyncCLI wraps the root Cobra command.
type FloorSyncCLI struct {
	cmd *cobra.Command
}

// floorsyncInstance holds the service and its configuration for the running command.
type floorsyncInstance struct {
	fs  *floorsync.FloorSync
	cnf *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and opens the service before any command runs.
func preRun(app *floorsyncInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		app.cnf = cnf

		// Migrations and config printing must work without a reachable store.
		if !needsService(cmd) {
			return nil
		}

		fs, err := setupFloorSync(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}
		app.fs = fs
		return nil
	}
}

func needsService(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations["service"] == "none" {
			return false
		}
	}
	return true
}

// setupFloorSync opens the queue store and remote writer named by the configuration.
func setupFloorSync(cfg *config.Configuration) (*floorsync.FloorSync, error) {
	store, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	fs, err := floorsync.NewFloorSync(store, remote.New(cfg.Remote))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("error creating floorsync: %v", err)
	}
	return fs, nil
}

// postRun releases the service opened by preRun.
func postRun(app *floorsyncInstance) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		if app.fs == nil {
			return
		}
		if err := app.fs.Close(); err != nil {
			logrus.Errorf("error closing floorsync: %v", err)
		}
	}
}

func NewCLI() *FloorSyncCLI {
	var configFile string
	b := &floorsyncInstance{}

	var rootCmd = &cobra.Command{
		Use:   "floorsync",
		Short: "Offline-first submission sync for factory floor clients",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./floorsync.json", "Configuration file for floorsync")
	rootCmd.PersistentPreRunE = preRun(b, &configFile)
	rootCmd.PersistentPostRun = postRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(agentCommands(b))
	rootCmd.AddCommand(syncCommands(b))
	rootCmd.AddCommand(queueCommands(b))
	rootCmd.AddCommand(migrateCommands(b))
	rootCmd.AddCommand(configCommands())

	return &FloorSyncCLI{cmd: rootCmd}
}

func (w FloorSyncCLI) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
