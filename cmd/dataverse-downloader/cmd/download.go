package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-dataverse-download/internal/config"
	"go-dataverse-download/internal/database"
	"go-dataverse-download/internal/dataset"
	"go-dataverse-download/internal/downloader"
	"go-dataverse-download/internal/helpers"
	"go-dataverse-download/internal/models"
)

// --- Package Level Variables for Download Flags ---
var (
	downloadUrlFlag            string
	downloadFilesFlag          []string
	downloadOriginalFlag       bool
	downloadChunkSizeFlag      int
	downloadPostProcessFlag    bool
	downloadRemoveArchivesFlag bool
	downloadNoHistoryFlag      bool
)

// downloadCmd represents the download command
var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download a dataset's files with checksum verification",
	Long: `Resolves the dataset behind the given URL, downloads its files into the
save path and verifies each file against its MD5 checksum. ZIP archives are
extracted and removed afterwards unless configured otherwise.`,
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().StringVarP(&downloadUrlFlag, "url", "u", "", "Dataset URL, e.g. https://darus.uni-stuttgart.de/dataset.xhtml?persistentId=doi:... (overrides config)")
	downloadCmd.Flags().StringSliceVarP(&downloadFilesFlag, "files", "f", []string{}, "Restrict the download to these file names (comma-separated or multiple flags, overrides config)")
	downloadCmd.Flags().BoolVar(&downloadOriginalFlag, "original", false, "Prefer the original file format over the ingested one (overrides config)")
	downloadCmd.Flags().IntVar(&downloadChunkSizeFlag, "chunk-size", 0, "Transfer chunk size in KB (0 uses config default)")
	downloadCmd.Flags().BoolVar(&downloadPostProcessFlag, "post-process", true, "Extract ZIP archives after download (overrides config)")
	downloadCmd.Flags().BoolVar(&downloadRemoveArchivesFlag, "remove-archives", true, "Remove ZIP archives after successful extraction (overrides config)")
	downloadCmd.Flags().BoolVar(&downloadNoHistoryFlag, "no-history", false, "Skip recording outcomes in the history database")

	commandFlagCollectors = append(commandFlagCollectors, collectDownloadFlags)
}

func collectDownloadFlags(cmd *cobra.Command, flags *config.CliFlags) {
	if cmd.Flags().Changed("url") {
		flags.URL = &downloadUrlFlag
	}
	if cmd.Flags().Changed("files") {
		flags.Files = &downloadFilesFlag
	}

	dl := &config.CliDownloadFlags{}
	changed := false
	if cmd.Flags().Changed("original") {
		dl.Original = &downloadOriginalFlag
		changed = true
	}
	if cmd.Flags().Changed("chunk-size") {
		dl.ChunkSizeKB = &downloadChunkSizeFlag
		changed = true
	}
	if cmd.Flags().Changed("post-process") {
		dl.PostProcess = &downloadPostProcessFlag
		changed = true
	}
	if cmd.Flags().Changed("remove-archives") {
		dl.RemoveArchives = &downloadRemoveArchivesFlag
		changed = true
	}
	if changed {
		flags.Download = dl
	}
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg := &globalConfig
	if cfg.URL == "" {
		return fmt.Errorf("no dataset URL given (use --url or set Url in config)")
	}

	ds, err := resolveDataset(cmd, cfg)
	if err != nil {
		return err
	}
	if len(ds.Files) == 0 {
		log.Info("Dataset could not be resolved or contains no files, nothing to do.")
		return nil
	}

	ds.Summary(os.Stdout)
	fmt.Println()

	if !helpers.CheckAndMakeDir(cfg.SavePath) {
		return fmt.Errorf("failed to create save path %s", cfg.SavePath)
	}

	timeout := time.Duration(cfg.APIClientTimeoutSec) * time.Second
	dl := downloader.NewDownloader(&http.Client{Transport: globalHttpTransport, Timeout: timeout}, cfg.APIToken)
	if cfg.Download.ChunkSizeKB > 0 {
		dl.SetChunkSize(cfg.Download.ChunkSizeKB * 1024)
	}

	writer := uilive.New()
	writer.Start()

	orch := dataset.NewOrchestrator(dl)
	orch.SetProgressFunc(func(f *downloader.File, current uint64) {
		fmt.Fprintf(writer, "Downloading %s... %s / %s\n",
			f.TargetName(), helpers.BytesToSize(current), f.Size(true))
	})

	results, err := orch.Run(cmd.Context(), ds, cfg.SavePath, dataset.Options{
		Files:          cfg.Files,
		PostProcess:    cfg.Download.PostProcess,
		RemoveArchives: cfg.Download.RemoveArchives,
	})
	writer.Stop()
	if err != nil {
		return err
	}

	recordHistory(cfg, ds, results)
	printResults(os.Stdout, results)

	failed := 0
	for _, r := range results {
		if r.Outcome.Failed() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d file(s) failed", failed, len(results))
	}
	return nil
}

// resolveDataset builds the resolver from the global configuration and
// fetches the dataset's metadata.
func resolveDataset(cmd *cobra.Command, cfg *models.Config) (*dataset.Dataset, error) {
	timeout := time.Duration(cfg.APIClientTimeoutSec) * time.Second
	client := &http.Client{Transport: globalHttpTransport, Timeout: timeout}

	resolver, err := dataset.NewResolver(cfg.URL, cfg.APIToken, client)
	if err != nil {
		return nil, fmt.Errorf("invalid dataset URL %q: %w", cfg.URL, err)
	}
	return resolver.Resolve(cmd.Context(), cfg.Download.Original), nil
}

// recordHistory stores per-file outcomes in the history database. Failures
// here only log, a broken history store never fails the download.
func recordHistory(cfg *models.Config, ds *dataset.Dataset, results []dataset.FileResult) {
	if downloadNoHistoryFlag || len(results) == 0 {
		return
	}

	db, err := database.Open(cfg.HistoryPath)
	if err != nil {
		log.WithError(err).Warnf("Could not open history database at %s, skipping history.", cfg.HistoryPath)
		return
	}
	defer db.Close()

	for _, r := range results {
		entry := models.HistoryEntry{
			PersistentID: ds.PersistentID,
			FileName:     r.Name,
			Outcome:      string(r.Outcome),
			Bytes:        r.File.SizeBytes(),
		}
		if r.Err != nil {
			entry.ErrorDetails = r.Err.Error()
		}
		if err := db.RecordOutcome(entry); err != nil {
			log.WithError(err).Warnf("Could not record history for %s", r.Name)
		}
	}
}

// printResults writes the per-file outcome table.
func printResults(w io.Writer, results []dataset.FileResult) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tOUTCOME")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\n", r.Name, r.Outcome)
	}
	_ = tw.Flush()
}
