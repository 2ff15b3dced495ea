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
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		log.Fatalf("Error printing result: %v\n", err)
	}
	fmt.Println(string(data))
}

// syncCommands drains the queue once and prints the outcome.
func syncCommands(b *floorsyncInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "drain queued submissions to the remote store once",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			if err := b.fs.Start(ctx); err != nil {
				log.Fatalf("Error recovering queue: %v", err)
			}

			result := b.fs.ProcessQueue(ctx)
			printJSON(result)
			if result.Err != nil {
				log.Fatalf("Sync failed: %v", result.Err)
			}
			if result.Skipped {
				log.Println("Another drain is in progress; nothing was sent.")
			}
		},
	}
	return cmd
}
