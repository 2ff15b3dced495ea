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
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

// queueCommands groups the operator commands for inspecting and repairing the queue.
func queueCommands(b *floorsyncInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "inspect and manage queued submissions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "list queued submissions, oldest first",
		Run: func(cmd *cobra.Command, args []string) {
			items, err := b.fs.Queue().List(context.Background())
			if err != nil {
				log.Fatalf("Error listing queue: %v", err)
			}
			printJSON(items)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "count queued submissions by status",
		Run: func(cmd *cobra.Command, args []string) {
			stats, err := b.fs.Queue().Stats(context.Background())
			if err != nil {
				log.Fatalf("Error reading queue: %v", err)
			}
			printJSON(stats)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "retry [id]",
		Short: "reset a failed submission so the next drain sends it again",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := b.fs.Queue().Retry(context.Background(), args[0]); err != nil {
				log.Fatalf("Error retrying %s: %v", args[0], err)
			}
			fmt.Printf("Submission %s queued for retry\n", args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "retry-failed",
		Short: "reset every failed submission",
		Run: func(cmd *cobra.Command, args []string) {
			n, err := b.fs.Queue().RetryFailed(context.Background())
			if err != nil {
				log.Fatalf("Error retrying failed submissions: %v", err)
			}
			fmt.Printf("Reset %d failed submissions\n", n)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove [id]",
		Short: "drop a submission without sending it",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := b.fs.Queue().Remove(context.Background(), args[0]); err != nil {
				log.Fatalf("Error removing %s: %v", args[0], err)
			}
			fmt.Printf("Submission %s removed\n", args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "delete every queued submission, as on sign-out",
		Run: func(cmd *cobra.Command, args []string) {
			if err := b.fs.Teardown(context.Background()); err != nil {
				log.Fatalf("Error clearing queue: %v", err)
			}
			fmt.Println("Queue cleared")
		},
	})

	return cmd
}
