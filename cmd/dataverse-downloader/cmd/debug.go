package cmd

import (
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(debugCmd)
	debugCmd.AddCommand(debugShowConfigCmd)
}

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debugging utilities (not for general use)",
	Long:  `Contains helper commands for debugging application behavior, like inspecting configuration.`,
}

// --- debug show-config ---

var debugShowConfigCmd = &cobra.Command{
	Use:   "show-config",
	Short: "Print the fully loaded configuration object as JSON",
	Long: `Loads configuration via flags and config file (respecting precedence)
and prints the final resulting configuration struct to stdout as JSON.
Useful for verifying how settings are merged.`,
	Run: func(cmd *cobra.Command, args []string) {
		// globalConfig is populated by PersistentPreRunE
		jsonBytes, err := json.MarshalIndent(globalConfig, "", "  ")
		if err != nil {
			log.Fatalf("Failed to marshal global config to JSON: %v", err)
		}
		fmt.Println(string(jsonBytes))
	},
}
