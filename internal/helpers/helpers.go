package helpers

import (
	"crypto/md5" // #nosec G501 -- digest fixed by the Dataverse wire contract
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// BytesToSize converts a byte count into a human-readable string.
func BytesToSize(bytes uint64) string {
	if bytes == 0 {
		return "0B"
	}
	sizes := []string{"B", "KB", "MB", "GB", "TB", "PB"}
	i := 0
	value := float64(bytes)
	for value >= 1024 && i < len(sizes)-1 {
		value /= 1024
		i++
	}
	return fmt.Sprintf("%.2f%s", value, sizes[i])
}

// SanitizePath cleans a relative path for use under a local root. Leading
// separators and any remaining parent-directory components are stripped, so
// the result can never escape the directory it is joined onto.
func SanitizePath(path string) string {
	cleaned := filepath.Clean(path)
	cleaned = strings.TrimPrefix(cleaned, string(filepath.Separator))
	for strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		cleaned = strings.TrimPrefix(cleaned, ".."+string(filepath.Separator))
	}
	if cleaned == ".." || cleaned == "." {
		cleaned = ""
	}
	return cleaned
}

// CheckAndMakeDir ensures the directory exists, creating it (and parents)
// if needed. Returns false if creation fails or a non-directory occupies
// the path.
func CheckAndMakeDir(dir string) bool {
	if dir == "" {
		dir = "."
	}
	info, err := os.Stat(dir)
	if err == nil {
		if info.IsDir() {
			return true
		}
		log.Errorf("Path %s exists but is not a directory", dir)
		return false
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		log.WithError(err).Errorf("Failed to create directory %s", dir)
		return false
	}
	return true
}

// CounterWriter wraps an io.Writer and counts the bytes written through it.
type CounterWriter struct {
	Writer io.Writer
	Total  uint64
}

func (cw *CounterWriter) Write(p []byte) (int, error) {
	n, err := cw.Writer.Write(p)
	cw.Total += uint64(n)
	return n, err
}

// CheckMD5 verifies the file at path against the expected hex MD5 digest.
// The file is hashed in a streaming fashion. Returns false when the expected
// digest is empty, the file cannot be read, or the digests differ.
func CheckMD5(path string, expected string) bool {
	if expected == "" {
		log.Debugf("Skipping hash check for %s (no expected digest)", path)
		return false
	}

	f, err := os.Open(path) // #nosec G304 -- path is a local file written by this process
	if err != nil {
		log.WithError(err).Errorf("Failed to open %s for hash check", path)
		return false
	}
	defer f.Close()

	hasher := md5.New() // #nosec G401
	if _, err := io.Copy(hasher, f); err != nil {
		log.WithError(err).Errorf("Failed to read %s for hash check", path)
		return false
	}

	actual := hex.EncodeToString(hasher.Sum(nil))
	if actual != expected {
		log.Debugf("Hash mismatch for %s: expected %s, got %s", path, expected, actual)
		return false
	}
	return true
}

// FormatTimestamp renders a server timestamp (RFC 3339, UTC) for display.
// Unparseable or empty input renders as the empty string.
func FormatTimestamp(timestamp string) string {
	if timestamp == "" {
		return ""
	}
	t, err := time.Parse("2006-01-02T15:04:05Z", timestamp)
	if err != nil {
		log.Debugf("Could not parse timestamp %q: %v", timestamp, err)
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}
