package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-dataverse-download/internal/config"
)

var summaryUrlFlag string
var summaryOriginalFlag bool

// summaryCmd represents the summary command
var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show a dataset's metadata and file listing without downloading",
	RunE:  runSummary,
}

func init() {
	rootCmd.AddCommand(summaryCmd)

	summaryCmd.Flags().StringVarP(&summaryUrlFlag, "url", "u", "", "Dataset URL (overrides config)")
	summaryCmd.Flags().BoolVar(&summaryOriginalFlag, "original", false, "Prefer the original file format over the ingested one (overrides config)")

	commandFlagCollectors = append(commandFlagCollectors, collectSummaryFlags)
}

func collectSummaryFlags(cmd *cobra.Command, flags *config.CliFlags) {
	if cmd.Flags().Changed("url") {
		flags.URL = &summaryUrlFlag
	}
	if cmd.Flags().Changed("original") {
		if flags.Download == nil {
			flags.Download = &config.CliDownloadFlags{}
		}
		flags.Download.Original = &summaryOriginalFlag
	}
}

func runSummary(cmd *cobra.Command, args []string) error {
	cfg := &globalConfig
	if cfg.URL == "" {
		return fmt.Errorf("no dataset URL given (use --url or set Url in config)")
	}

	ds, err := resolveDataset(cmd, cfg)
	if err != nil {
		return err
	}
	if len(ds.Files) == 0 {
		log.Info("Dataset could not be resolved or contains no files.")
		return nil
	}

	ds.Summary(os.Stdout)
	return nil
}
