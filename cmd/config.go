package main

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/blnkfinance/floorsync/config"
	"github.com/spf13/cobra"
)

func configCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "config",
		Short:       "config outputs your instance's computed configuration",
		Annotations: map[string]string{"service": "none"},
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Fetch()
			if err != nil {
				log.Fatalf("Error getting config: %v\n", err)
			}

			redacted := *cfg
			if redacted.Server.SecretKey != "" {
				redacted.Server.SecretKey = "********"
			}

			data, err := json.MarshalIndent(redacted, "", "    ")
			if err != nil {
				log.Fatalf("Error printing config: %v\n", err)
			}

			fmt.Println(string(data))
		},
	}
	return cmd
}
