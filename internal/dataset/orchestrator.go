package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"go-dataverse-download/internal/downloader"

	log "github.com/sirupsen/logrus"
)

// ErrTargetRoot is returned when the download target directory is missing,
// before any file transfer is attempted.
var ErrTargetRoot = errors.New("target directory does not exist, download aborted")

// Outcome is the terminal status of one file's pipeline pass.
type Outcome string

const (
	OutcomeSuccess                Outcome = "success"
	OutcomeProcessedRemoved       Outcome = "processed & removed"
	OutcomeProcessedRemovalFailed Outcome = "processed, removal failed"
	// OutcomeProcessingFailedRemoved marks the branch where removal ran
	// despite failed processing. Removal is only ever attempted after
	// successful processing, so this is unreachable; it exists so outcome
	// classification stays exhaustive.
	OutcomeProcessingFailedRemoved Outcome = "processing failed, removed"
	OutcomeProcessRemoveFailed     Outcome = "processing & removal failed"
	OutcomeHashMismatch            Outcome = "wrong hash value"
	OutcomeTransferError           Outcome = "transfer failed"
)

// Failed reports whether the outcome is a failure state.
func (o Outcome) Failed() bool {
	switch o {
	case OutcomeHashMismatch, OutcomeTransferError, OutcomeProcessRemoveFailed:
		return true
	}
	return false
}

// FileResult is the reported per-file outcome of a run.
type FileResult struct {
	File    *downloader.File
	Name    string
	Outcome Outcome
	Err     error
}

// Options configures one orchestrated run.
type Options struct {
	// Files restricts the run to descriptors whose effective target name
	// matches. Empty means the whole dataset.
	Files []string
	// PostProcess extracts archive files after a verified download.
	PostProcess bool
	// RemoveArchives deletes archive files after successful extraction.
	// Meaningless, and forced off, when PostProcess is off.
	RemoveArchives bool
}

// ProgressFunc observes one file's cumulative downloaded byte count.
type ProgressFunc func(f *downloader.File, current uint64)

// Orchestrator drives the download → validate → process → remove pipeline
// across a dataset's files, one file at a time, in collection order.
type Orchestrator struct {
	dl       *downloader.Downloader
	progress ProgressFunc
}

// NewOrchestrator creates an Orchestrator around the given transfer engine.
func NewOrchestrator(dl *downloader.Downloader) *Orchestrator {
	return &Orchestrator{dl: dl}
}

// SetProgressFunc installs a per-chunk progress observer.
func (o *Orchestrator) SetProgressFunc(fn ProgressFunc) {
	o.progress = fn
}

// Run attempts every selected file exactly once and reports a per-file
// outcome. Individual file failures never abort the batch; the returned
// error is non-nil only for the missing-target-root precondition.
func (o *Orchestrator) Run(ctx context.Context, ds *Dataset, targetRoot string, opts Options) ([]FileResult, error) {
	info, err := os.Stat(targetRoot)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrTargetRoot, targetRoot)
	}

	if !opts.PostProcess && opts.RemoveArchives {
		log.Warn("Disabled removing files after post processing, as no post processing is desired.")
		opts.RemoveArchives = false
	}

	files := ds.Files
	if len(opts.Files) > 0 {
		files = selectFiles(ds.Files, opts.Files)
	}

	if len(files) == 0 {
		log.Info("No files to download.")
		return nil, nil
	}

	results := make([]FileResult, 0, len(files))
	for _, f := range files {
		results = append(results, o.runOne(ctx, f, targetRoot, opts))
	}
	return results, nil
}

// runOne pushes a single file through the pipeline.
func (o *Orchestrator) runOne(ctx context.Context, f *downloader.File, targetRoot string, opts Options) FileResult {
	result := FileResult{File: f, Name: f.TargetName()}

	for current := range o.dl.Download(ctx, f, targetRoot) {
		if o.progress != nil {
			o.progress(f, current)
		}
	}
	if err := f.Err(); err != nil {
		log.WithError(err).Errorf("Transfer of %s failed", result.Name)
		result.Outcome = OutcomeTransferError
		result.Err = err
		return result
	}

	if !f.Validate() {
		log.Errorf("Checksum mismatch for %s", result.Name)
		result.Outcome = OutcomeHashMismatch
		return result
	}

	if f.IsArchive() && opts.PostProcess {
		processed := f.Process(ctx)

		removed := false
		if processed && opts.RemoveArchives {
			removed = f.Remove()
		}

		switch {
		case processed && removed:
			result.Outcome = OutcomeProcessedRemoved
		case processed:
			result.Outcome = OutcomeProcessedRemovalFailed
		case removed:
			result.Outcome = OutcomeProcessingFailedRemoved
		default:
			result.Outcome = OutcomeProcessRemoveFailed
		}
		return result
	}

	result.Outcome = OutcomeSuccess
	return result
}

// selectFiles filters the collection to the requested target names,
// preserving collection order. Names match exactly, case included, since
// datasets may carry case-differing filenames. Requested names with no
// match are reported and omitted.
func selectFiles(files []*downloader.File, requested []string) []*downloader.File {
	var selected []*downloader.File
	matched := make([]string, 0, len(requested))
	for _, f := range files {
		if slices.Contains(requested, f.TargetName()) {
			selected = append(selected, f)
			matched = append(matched, f.TargetName())
		}
	}
	for _, name := range requested {
		if !slices.Contains(matched, name) {
			log.Warnf("Requested file %q not found in dataset", name)
		}
	}
	return selected
}
