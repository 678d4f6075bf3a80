package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"go-dataverse-download/internal/database"
	"go-dataverse-download/internal/helpers"
)

var historyDatasetFlag string
var historyLimitFlag int

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded download outcomes, newest first",
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historyDatasetFlag, "dataset", "", "Restrict the listing to one dataset persistent ID")
	historyCmd.Flags().IntVar(&historyLimitFlag, "limit", 50, "Maximum number of entries to show (0 shows all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	db, err := database.Open(globalConfig.HistoryPath)
	if err != nil {
		return fmt.Errorf("failed to open history database at %s: %w", globalConfig.HistoryPath, err)
	}
	defer db.Close()

	entries, err := db.ListHistory(historyDatasetFlag, historyLimitFlag)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			fmt.Println("No download history recorded yet.")
			return nil
		}
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tDATASET\tFILE\tSIZE\tOUTCOME")
	for _, e := range entries {
		ts := time.Unix(e.Timestamp, 0).Format("2006-01-02 15:04:05")
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			ts, e.PersistentID, e.FileName, helpers.BytesToSize(uint64(e.Bytes)), e.Outcome)
	}
	return tw.Flush()
}
