package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go-dataverse-download/internal/helpers"
	"go-dataverse-download/internal/models"

	"github.com/mholt/archives"
	log "github.com/sirupsen/logrus"
)

// Custom Downloader Errors
var (
	ErrSchema      = errors.New("required field missing from file metadata")
	ErrValidation  = errors.New("constructed file URL is not valid")
	ErrHttpStatus  = errors.New("unexpected HTTP status code")
	ErrFileSystem  = errors.New("filesystem error") // Covers create, remove, write
	ErrHttpRequest = errors.New("HTTP request creation/execution error")
)

// DefaultChunkSize is the transfer chunk granularity for streaming
// downloads and progress reporting.
const DefaultChunkSize = 8 * 1024

// File describes one downloadable dataset member: where it lives on the
// server, what to call it locally, and how to verify it. Everything except
// the local path is fixed at construction.
type File struct {
	remoteID         int64
	name             string
	originalName     string
	description      string
	friendlyType     string
	subDir           string
	checksum         string
	accessURL        string
	localPath        string
	size             int64
	isArchive        bool
	downloadOriginal bool
	err              error
}

// NewFile builds a File from one entry of the dataset's file array.
// The entry must carry id, filename, filesize and the checksum container
// (the checksum value itself may be null); a missing key yields ErrSchema.
// preferOriginal selects the original-format variant for files the server
// stores in a converted form.
func NewFile(entry models.FileEntry, serverURL string, preferOriginal bool) (*File, error) {
	df := entry.DataFile
	if df == nil {
		return nil, fmt.Errorf("%w: dataFile", ErrSchema)
	}
	if df.ID == nil {
		return nil, fmt.Errorf("%w: id", ErrSchema)
	}
	if df.Filename == nil {
		return nil, fmt.Errorf("%w: filename", ErrSchema)
	}
	if df.Filesize == nil {
		return nil, fmt.Errorf("%w: filesize", ErrSchema)
	}
	if df.Checksum == nil {
		return nil, fmt.Errorf("%w: checksum", ErrSchema)
	}

	accessURL := fmt.Sprintf("%s/api/access/datafile/%d/", strings.TrimSuffix(serverURL, "/"), *df.ID)
	parsed, err := url.ParseRequestURI(accessURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %s", ErrValidation, accessURL)
	}

	checksum := ""
	if df.Checksum.Value != nil {
		checksum = *df.Checksum.Value
	}

	// Directory labels come straight from server metadata; clamp them so
	// they cannot escape the download root.
	subDir := helpers.SanitizePath(entry.DirectoryLabel)
	if subDir != entry.DirectoryLabel && entry.DirectoryLabel != "" {
		log.Warnf("Sanitized directory label %q to %q", entry.DirectoryLabel, subDir)
	}

	return &File{
		remoteID:         *df.ID,
		name:             *df.Filename,
		originalName:     df.OriginalFileName,
		description:      entry.Description,
		friendlyType:     df.FriendlyType,
		subDir:           subDir,
		checksum:         checksum,
		accessURL:        accessURL,
		size:             *df.Filesize,
		isArchive:        df.FriendlyType == models.FriendlyTypeZipArchive,
		downloadOriginal: preferOriginal && df.OriginalFileName != "",
	}, nil
}

// Name returns the server-side filename of the converted representation.
func (f *File) Name() string { return f.name }

// OriginalName returns the filename of the originally uploaded
// representation, or "" when the server stores no converted variant.
func (f *File) OriginalName() string { return f.originalName }

// TargetName returns the filename the download is stored under: the
// original name when the original-format variant is requested and
// available, the display name otherwise.
func (f *File) TargetName() string {
	if f.downloadOriginal && f.originalName != "" {
		return f.originalName
	}
	return f.name
}

// SubDir returns the sanitized directory label under the download root.
func (f *File) SubDir() string { return f.subDir }

// Description returns the free-text file description.
func (f *File) Description() string { return f.description }

// IsArchive reports whether the server labeled this file as a ZIP archive.
func (f *File) IsArchive() bool { return f.isArchive }

// SizeBytes returns the size declared by the metadata. It is an expected
// total for progress display, not authoritative for truncation detection.
func (f *File) SizeBytes() int64 { return f.size }

// Size returns the declared size, human-readable when pretty is set.
func (f *File) Size(pretty bool) string {
	if pretty {
		return helpers.BytesToSize(uint64(f.size))
	}
	return strconv.FormatInt(f.size, 10)
}

// LocalPath returns the on-disk location of the last successful download,
// or "" when the file was never downloaded or has been removed.
func (f *File) LocalPath() string { return f.localPath }

// Err returns the error that ended the most recent download early, if any.
func (f *File) Err() error { return f.err }

// Downloader moves file bytes from the remote repository to disk.
type Downloader struct {
	client    *http.Client
	token     string
	chunkSize int
}

// NewDownloader creates a new Downloader instance. The token, when
// non-empty, is attached to every request as the X-Dataverse-key header.
func NewDownloader(client *http.Client, token string) *Downloader {
	if client == nil {
		client = &http.Client{
			Timeout: 15 * time.Minute,
		}
	}
	return &Downloader{
		client:    client,
		token:     token,
		chunkSize: DefaultChunkSize,
	}
}

// SetChunkSize overrides the transfer chunk size. Values below one byte
// are ignored.
func (d *Downloader) SetChunkSize(size int) {
	if size > 0 {
		d.chunkSize = size
	}
}

// Download streams the file into root/subDir/TargetName and returns a
// single-pass sequence of cumulative byte counts, one value per chunk.
// Each count is reported before the chunk is persisted. The sequence ends
// early on any transfer or filesystem failure; the failure is logged and
// retrievable via f.Err(), it is never raised to the consumer. On success
// the file's local path is recorded.
func (d *Downloader) Download(ctx context.Context, f *File, root string) iter.Seq[uint64] {
	return func(yield func(uint64) bool) {
		f.err = nil

		dir := filepath.Join(root, f.subDir)
		if info, statErr := os.Stat(dir); statErr == nil && !info.IsDir() {
			f.err = fmt.Errorf("%w: %s exists and is not a directory", ErrFileSystem, dir)
			log.WithError(f.err).Errorf("Cannot prepare target directory for %s", f.name)
			return
		}
		if mkErr := os.MkdirAll(dir, 0750); mkErr != nil {
			f.err = fmt.Errorf("%w: creating directory %s: %v", ErrFileSystem, dir, mkErr)
			log.WithError(f.err).Errorf("Cannot prepare target directory for %s", f.name)
			return
		}

		reqURL := f.accessURL
		if f.downloadOriginal {
			reqURL += "?format=original"
		}

		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if reqErr != nil {
			f.err = fmt.Errorf("%w: creating request for %s: %v", ErrHttpRequest, reqURL, reqErr)
			log.WithError(f.err).Errorf("Download of %s failed", f.name)
			return
		}
		if d.token != "" {
			req.Header.Set("X-Dataverse-key", d.token)
		}

		log.Infof("Downloading %s from %s", f.TargetName(), reqURL)
		resp, doErr := d.client.Do(req)
		if doErr != nil {
			f.err = fmt.Errorf("%w: performing request for %s: %v", ErrHttpRequest, reqURL, doErr)
			log.WithError(f.err).Errorf("Download of %s failed", f.name)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			f.err = fmt.Errorf("%w: received status %d from %s", ErrHttpStatus, resp.StatusCode, reqURL)
			log.WithError(f.err).Errorf("Download of %s failed", f.name)
			return
		}

		target := filepath.Join(dir, f.TargetName())
		out, createErr := os.Create(target) // #nosec G304 -- target built from sanitized components
		if createErr != nil {
			f.err = fmt.Errorf("%w: creating %s: %v", ErrFileSystem, target, createErr)
			log.WithError(f.err).Errorf("Download of %s failed", f.name)
			return
		}

		counter := &helpers.CounterWriter{Writer: out}
		buf := make([]byte, d.chunkSize)
		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				// Progress is reported before the chunk is persisted, so the
				// last observed value covers bytes about to be written.
				if !yield(counter.Total + uint64(n)) {
					_ = out.Close()
					return
				}
				if _, writeErr := counter.Write(buf[:n]); writeErr != nil {
					f.err = fmt.Errorf("%w: writing %s: %v", ErrFileSystem, target, writeErr)
					log.WithError(f.err).Errorf("Download of %s failed", f.name)
					_ = out.Close()
					return
				}
			}
			if readErr == io.EOF {
				break
			}
			if readErr != nil {
				f.err = fmt.Errorf("%w: reading response for %s: %v", ErrHttpRequest, reqURL, readErr)
				log.WithError(f.err).Errorf("Download of %s ended early after %d bytes", f.name, counter.Total)
				_ = out.Close()
				return
			}
		}

		if closeErr := out.Close(); closeErr != nil {
			f.err = fmt.Errorf("%w: closing %s: %v", ErrFileSystem, target, closeErr)
			log.WithError(f.err).Errorf("Download of %s failed", f.name)
			return
		}

		f.localPath = target
		log.Infof("Finished writing %s (%s)", target, helpers.BytesToSize(counter.Total))
	}
}

// Validate recomputes the content digest of the downloaded file and
// compares it against the expected checksum. Returns false when no local
// copy or no checksum is known. Read-only; safe to call repeatedly.
func (f *File) Validate() bool {
	if f.localPath == "" {
		log.Debugf("Validate %s: no local copy", f.name)
		return false
	}
	if f.checksum == "" {
		log.Warnf("Validate %s: metadata declares no checksum", f.name)
		return false
	}
	return helpers.CheckMD5(f.localPath, f.checksum)
}

// Remove deletes the local copy. Returns true only on confirmed deletion;
// a missing path or OS-level failure is logged and yields false.
func (f *File) Remove() bool {
	if f.localPath == "" {
		log.Debugf("Remove %s: no local copy", f.name)
		return false
	}
	if err := os.Remove(f.localPath); err != nil {
		log.WithError(err).Warnf("Failed to remove %s", f.localPath)
		return false
	}
	log.Infof("Removed %s", f.localPath)
	f.localPath = ""
	return true
}

// Process extracts archive contents next to the downloaded file. Files
// without the archive label or without a .zip name are left alone and
// report success. An unreadable archive reports false; partial extraction
// may remain on disk in that case.
func (f *File) Process(ctx context.Context) bool {
	if f.localPath == "" {
		return true
	}
	if !f.isArchive || !strings.EqualFold(filepath.Ext(f.localPath), ".zip") {
		return true
	}

	destDir := filepath.Dir(f.localPath)
	log.Infof("Extracting %s into %s", f.localPath, destDir)

	fsys, err := archives.FileSystem(ctx, f.localPath, nil)
	if err != nil {
		log.WithError(err).Errorf("Failed to open archive %s", f.localPath)
		return false
	}
	if closer, ok := fsys.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}

	walkErr := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return extractEntry(fsys, path, destDir, d)
	})
	if walkErr != nil {
		log.WithError(walkErr).Errorf("Failed to extract archive %s", f.localPath)
		return false
	}
	return true
}

// extractEntry writes a single archive entry under destDir. Entry paths
// are sanitized so archive contents stay inside the destination.
func extractEntry(fsys fs.FS, path, destDir string, d fs.DirEntry) error {
	if path == "." {
		return nil
	}

	targetPath := filepath.Join(destDir, helpers.SanitizePath(path))
	if d.IsDir() {
		return os.MkdirAll(targetPath, 0750)
	}

	src, err := fsys.Open(path)
	if err != nil {
		return fmt.Errorf("opening archive entry %s: %w", path, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(targetPath), 0750); err != nil {
		return fmt.Errorf("creating parent directory for %s: %w", path, err)
	}

	dst, err := os.Create(targetPath) // #nosec G304 -- entry path sanitized above
	if err != nil {
		return fmt.Errorf("creating %s: %w", targetPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil { // #nosec G110 -- extraction is the feature
		return fmt.Errorf("extracting %s: %w", path, err)
	}
	return nil
}
