package downloader

import (
	"archive/zip"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go-dataverse-download/internal/models"
)

func strPtr(s string) *string { return &s }
func i64Ptr(i int64) *int64   { return &i }

// fileEntry builds a minimal valid metadata entry for tests.
func fileEntry(id int64, name string, size int64, checksum string) models.FileEntry {
	return models.FileEntry{
		DataFile: &models.DataFile{
			ID:       i64Ptr(id),
			Filename: strPtr(name),
			Filesize: i64Ptr(size),
			Checksum: &models.Checksum{Type: "MD5", Value: strPtr(checksum)},
		},
	}
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func TestNewFile(t *testing.T) {
	entry := models.FileEntry{
		Description:    "Test file description",
		DirectoryLabel: "test_dir",
		DataFile: &models.DataFile{
			ID:           i64Ptr(98765),
			PersistentID: "doi:10.70122/FK2/test-file",
			Filename:     strPtr("test_file.txt"),
			Filesize:     i64Ptr(1024),
			Checksum:     &models.Checksum{Value: strPtr("d41d8cd98f00b204e9800998ecf8427e")},
			FriendlyType: "Plain Text",
		},
	}

	f, err := NewFile(entry, "https://demo.dataverse.org", false)
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}

	if f.Name() != "test_file.txt" {
		t.Errorf("Name() = %q, want %q", f.Name(), "test_file.txt")
	}
	if f.TargetName() != "test_file.txt" {
		t.Errorf("TargetName() = %q, want %q", f.TargetName(), "test_file.txt")
	}
	if f.SubDir() != "test_dir" {
		t.Errorf("SubDir() = %q, want %q", f.SubDir(), "test_dir")
	}
	if f.Description() != "Test file description" {
		t.Errorf("Description() = %q, want %q", f.Description(), "Test file description")
	}
	if f.IsArchive() {
		t.Error("IsArchive() = true for a plain text file")
	}
	if f.SizeBytes() != 1024 {
		t.Errorf("SizeBytes() = %d, want 1024", f.SizeBytes())
	}
	if f.Size(true) != "1.00KB" {
		t.Errorf("Size(true) = %q, want %q", f.Size(true), "1.00KB")
	}
	if f.Size(false) != "1024" {
		t.Errorf("Size(false) = %q, want %q", f.Size(false), "1024")
	}
	if f.LocalPath() != "" {
		t.Errorf("LocalPath() = %q before download, want empty", f.LocalPath())
	}
}

func TestNewFile_ZipArchiveFlag(t *testing.T) {
	entry := fileEntry(1, "archive.zip", 100, "abc")
	entry.DataFile.FriendlyType = models.FriendlyTypeZipArchive

	f, err := NewFile(entry, "https://demo.dataverse.org", false)
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}
	if !f.IsArchive() {
		t.Error("IsArchive() = false for friendlyType \"ZIP Archive\"")
	}
}

func TestNewFile_OriginalNamePreference(t *testing.T) {
	entry := fileEntry(2, "data.tab", 100, "abc")
	entry.DataFile.OriginalFileName = "data.csv"

	converted, err := NewFile(entry, "https://demo.dataverse.org", false)
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}
	if converted.TargetName() != "data.tab" {
		t.Errorf("TargetName() without preference = %q, want %q", converted.TargetName(), "data.tab")
	}

	original, err := NewFile(entry, "https://demo.dataverse.org", true)
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}
	if original.TargetName() != "data.csv" {
		t.Errorf("TargetName() with preference = %q, want %q", original.TargetName(), "data.csv")
	}
}

func TestNewFile_MissingRequiredFields(t *testing.T) {
	base := func() models.FileEntry { return fileEntry(1, "f.txt", 10, "abc") }

	tests := []struct {
		name   string
		mutate func(*models.FileEntry)
	}{
		{"missing dataFile", func(e *models.FileEntry) { e.DataFile = nil }},
		{"missing id", func(e *models.FileEntry) { e.DataFile.ID = nil }},
		{"missing filename", func(e *models.FileEntry) { e.DataFile.Filename = nil }},
		{"missing filesize", func(e *models.FileEntry) { e.DataFile.Filesize = nil }},
		{"missing checksum container", func(e *models.FileEntry) { e.DataFile.Checksum = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := base()
			tt.mutate(&entry)
			_, err := NewFile(entry, "https://demo.dataverse.org", false)
			if !errors.Is(err, ErrSchema) {
				t.Errorf("NewFile error = %v, want ErrSchema", err)
			}
		})
	}
}

func TestNewFile_NullChecksumValueIsAllowed(t *testing.T) {
	entry := fileEntry(1, "f.txt", 10, "abc")
	entry.DataFile.Checksum = &models.Checksum{Value: nil}

	f, err := NewFile(entry, "https://demo.dataverse.org", false)
	if err != nil {
		t.Fatalf("NewFile with null checksum value failed: %v", err)
	}
	if f == nil {
		t.Fatal("Expected file to be created")
	}
}

func TestNewFile_InvalidServerURL(t *testing.T) {
	_, err := NewFile(fileEntry(1, "f.txt", 10, "abc"), "not-a-valid-url", false)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("NewFile error = %v, want ErrValidation", err)
	}
}

func TestNewFile_SanitizesDirectoryLabel(t *testing.T) {
	entry := fileEntry(1, "f.txt", 10, "abc")
	entry.DirectoryLabel = "../../etc"

	f, err := NewFile(entry, "https://demo.dataverse.org", false)
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}
	if f.SubDir() != "etc" {
		t.Errorf("SubDir() = %q, want %q", f.SubDir(), "etc")
	}
}

func TestDownload_Success(t *testing.T) {
	testData := []byte("test file content for download")

	var gotPath, gotToken, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-Dataverse-key")
		gotQuery = r.URL.RawQuery
		w.Write(testData)
	}))
	defer server.Close()

	entry := fileEntry(98765, "test-file.bin", int64(len(testData)), md5Hex(testData))
	f, err := NewFile(entry, server.URL, false)
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}

	d := NewDownloader(&http.Client{Timeout: 30 * time.Second}, "test-key")

	var progress []uint64
	for current := range d.Download(context.Background(), f, t.TempDir()) {
		progress = append(progress, current)
	}

	if f.Err() != nil {
		t.Fatalf("Download failed: %v", f.Err())
	}
	if gotPath != "/api/access/datafile/98765/" {
		t.Errorf("Request path = %q, want %q", gotPath, "/api/access/datafile/98765/")
	}
	if gotToken != "test-key" {
		t.Errorf("X-Dataverse-key header = %q, want %q", gotToken, "test-key")
	}
	if gotQuery != "" {
		t.Errorf("Query = %q, want empty", gotQuery)
	}

	if len(progress) == 0 {
		t.Fatal("Expected at least one progress value")
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] <= progress[i-1] {
			t.Errorf("Progress not strictly increasing: %v", progress)
		}
	}
	if progress[len(progress)-1] != uint64(len(testData)) {
		t.Errorf("Final progress = %d, want %d", progress[len(progress)-1], len(testData))
	}

	if f.LocalPath() == "" {
		t.Fatal("LocalPath not recorded after successful download")
	}
	content, err := os.ReadFile(f.LocalPath())
	if err != nil {
		t.Fatalf("Failed to read downloaded file: %v", err)
	}
	if string(content) != string(testData) {
		t.Errorf("Downloaded content mismatch: got %q", string(content))
	}
}

func TestDownload_OriginalFormat(t *testing.T) {
	testData := []byte("col1,col2\nval1,val2")

	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write(testData)
	}))
	defer server.Close()

	entry := fileEntry(98766, "data.tab", int64(len(testData)), md5Hex(testData))
	entry.DataFile.OriginalFileName = "data.csv"

	f, err := NewFile(entry, server.URL, true)
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}

	root := t.TempDir()
	d := NewDownloader(nil, "")
	for range d.Download(context.Background(), f, root) {
	}

	if f.Err() != nil {
		t.Fatalf("Download failed: %v", f.Err())
	}
	if gotQuery != "format=original" {
		t.Errorf("Query = %q, want %q", gotQuery, "format=original")
	}
	if filepath.Base(f.LocalPath()) != "data.csv" {
		t.Errorf("Downloaded as %q, want %q", filepath.Base(f.LocalPath()), "data.csv")
	}
}

func TestDownload_Subdirectory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("content"))
	}))
	defer server.Close()

	entry := fileEntry(1, "nested.txt", 7, "abc")
	entry.DirectoryLabel = "data/deep"

	f, err := NewFile(entry, server.URL, false)
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}

	root := t.TempDir()
	d := NewDownloader(nil, "")
	for range d.Download(context.Background(), f, root) {
	}

	if f.Err() != nil {
		t.Fatalf("Download failed: %v", f.Err())
	}
	want := filepath.Join(root, "data", "deep", "nested.txt")
	if f.LocalPath() != want {
		t.Errorf("LocalPath = %q, want %q", f.LocalPath(), want)
	}
}

func TestDownload_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	f, err := NewFile(fileEntry(1, "missing.txt", 10, "abc"), server.URL, false)
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}

	d := NewDownloader(nil, "")
	var progress []uint64
	for current := range d.Download(context.Background(), f, t.TempDir()) {
		progress = append(progress, current)
	}

	if len(progress) != 0 {
		t.Errorf("Expected no progress values on HTTP error, got %v", progress)
	}
	if !errors.Is(f.Err(), ErrHttpStatus) {
		t.Errorf("Err() = %v, want ErrHttpStatus", f.Err())
	}
	if f.LocalPath() != "" {
		t.Errorf("LocalPath = %q after failed download, want empty", f.LocalPath())
	}
}

func TestDownload_NonDirectoryAtTargetPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("content"))
	}))
	defer server.Close()

	entry := fileEntry(1, "f.txt", 7, "abc")
	entry.DirectoryLabel = "blocked"

	f, err := NewFile(entry, server.URL, false)
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}

	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "blocked"), []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create blocking file: %v", err)
	}

	d := NewDownloader(nil, "")
	for range d.Download(context.Background(), f, root) {
	}

	if !errors.Is(f.Err(), ErrFileSystem) {
		t.Errorf("Err() = %v, want ErrFileSystem", f.Err())
	}
}

func TestValidate(t *testing.T) {
	testData := []byte("validation test content")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(testData)
	}))
	defer server.Close()

	t.Run("matching checksum", func(t *testing.T) {
		f, err := NewFile(fileEntry(1, "v.txt", int64(len(testData)), md5Hex(testData)), server.URL, false)
		if err != nil {
			t.Fatalf("NewFile failed: %v", err)
		}

		d := NewDownloader(nil, "")
		for range d.Download(context.Background(), f, t.TempDir()) {
		}
		if f.Err() != nil {
			t.Fatalf("Download failed: %v", f.Err())
		}

		if !f.Validate() {
			t.Error("Validate() = false for untampered download")
		}

		// Validate is read-only; repeat calls agree.
		if !f.Validate() {
			t.Error("Second Validate() = false")
		}

		// Flip one byte on disk.
		corrupted := append([]byte{}, testData...)
		corrupted[0] ^= 0xFF
		if err := os.WriteFile(f.LocalPath(), corrupted, 0644); err != nil {
			t.Fatalf("Failed to corrupt file: %v", err)
		}
		if f.Validate() {
			t.Error("Validate() = true after single-byte mutation")
		}
	})

	t.Run("no checksum always invalid", func(t *testing.T) {
		entry := fileEntry(2, "nohash.txt", int64(len(testData)), "")
		entry.DataFile.Checksum = &models.Checksum{Value: nil}

		f, err := NewFile(entry, server.URL, false)
		if err != nil {
			t.Fatalf("NewFile failed: %v", err)
		}

		d := NewDownloader(nil, "")
		for range d.Download(context.Background(), f, t.TempDir()) {
		}
		if f.Err() != nil {
			t.Fatalf("Download failed: %v", f.Err())
		}

		if f.Validate() {
			t.Error("Validate() = true with no declared checksum")
		}
	})

	t.Run("no local path", func(t *testing.T) {
		f, err := NewFile(fileEntry(3, "never.txt", 10, "abc"), server.URL, false)
		if err != nil {
			t.Fatalf("NewFile failed: %v", err)
		}
		if f.Validate() {
			t.Error("Validate() = true before any download")
		}
	})
}

func TestRemove(t *testing.T) {
	testData := []byte("to be removed")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(testData)
	}))
	defer server.Close()

	t.Run("successful removal", func(t *testing.T) {
		f, err := NewFile(fileEntry(1, "r.txt", int64(len(testData)), md5Hex(testData)), server.URL, false)
		if err != nil {
			t.Fatalf("NewFile failed: %v", err)
		}

		d := NewDownloader(nil, "")
		for range d.Download(context.Background(), f, t.TempDir()) {
		}

		path := f.LocalPath()
		if !f.Remove() {
			t.Error("Remove() = false for existing download")
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("File %s still exists after Remove", path)
		}
		if f.LocalPath() != "" {
			t.Errorf("LocalPath = %q after removal, want empty", f.LocalPath())
		}
	})

	t.Run("no local path", func(t *testing.T) {
		f, err := NewFile(fileEntry(2, "never.txt", 10, "abc"), server.URL, false)
		if err != nil {
			t.Fatalf("NewFile failed: %v", err)
		}
		if f.Remove() {
			t.Error("Remove() = true with no local copy")
		}
	})
}

// buildTestZip writes a zip with the given name→content entries.
func buildTestZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create zip file: %v", err)
	}
	zw := zip.NewWriter(out)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("Failed to add zip entry: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("Failed to write zip entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Failed to finish zip: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("Failed to close zip file: %v", err)
	}
}

func TestProcess(t *testing.T) {
	t.Run("zip extraction", func(t *testing.T) {
		tempDir := t.TempDir()
		zipPath := filepath.Join(tempDir, "test.zip")
		buildTestZip(t, zipPath, map[string]string{
			"x.txt": "Content of file 1",
			"y.txt": "Content of file 2",
		})

		zipData, err := os.ReadFile(zipPath)
		if err != nil {
			t.Fatalf("Failed to read zip: %v", err)
		}

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(zipData)
		}))
		defer server.Close()

		entry := fileEntry(1, "test.zip", int64(len(zipData)), md5Hex(zipData))
		entry.DataFile.FriendlyType = models.FriendlyTypeZipArchive

		f, err := NewFile(entry, server.URL, false)
		if err != nil {
			t.Fatalf("NewFile failed: %v", err)
		}

		root := t.TempDir()
		d := NewDownloader(nil, "")
		for range d.Download(context.Background(), f, root) {
		}
		if f.Err() != nil {
			t.Fatalf("Download failed: %v", f.Err())
		}

		if !f.Process(context.Background()) {
			t.Fatal("Process() = false for a valid archive")
		}

		for name, want := range map[string]string{"x.txt": "Content of file 1", "y.txt": "Content of file 2"} {
			got, err := os.ReadFile(filepath.Join(root, name))
			if err != nil {
				t.Fatalf("Extracted entry %s missing: %v", name, err)
			}
			if string(got) != want {
				t.Errorf("Extracted %s = %q, want %q", name, string(got), want)
			}
		}
	})

	t.Run("corrupted archive", func(t *testing.T) {
		data := []byte("This is not a valid ZIP file")
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(data)
		}))
		defer server.Close()

		entry := fileEntry(2, "corrupted.zip", int64(len(data)), md5Hex(data))
		entry.DataFile.FriendlyType = models.FriendlyTypeZipArchive

		f, err := NewFile(entry, server.URL, false)
		if err != nil {
			t.Fatalf("NewFile failed: %v", err)
		}

		d := NewDownloader(nil, "")
		for range d.Download(context.Background(), f, t.TempDir()) {
		}

		if f.Process(context.Background()) {
			t.Error("Process() = true for a corrupted archive")
		}
	})

	t.Run("non-archive is a no-op", func(t *testing.T) {
		data := []byte("Regular text content")
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(data)
		}))
		defer server.Close()

		f, err := NewFile(fileEntry(3, "regular.txt", int64(len(data)), md5Hex(data)), server.URL, false)
		if err != nil {
			t.Fatalf("NewFile failed: %v", err)
		}

		d := NewDownloader(nil, "")
		for range d.Download(context.Background(), f, t.TempDir()) {
		}

		if !f.Process(context.Background()) {
			t.Error("Process() = false for a non-archive file")
		}
	})

	t.Run("no local path", func(t *testing.T) {
		f, err := NewFile(fileEntry(4, "never.zip", 10, "abc"), "https://demo.dataverse.org", false)
		if err != nil {
			t.Fatalf("NewFile failed: %v", err)
		}
		if !f.Process(context.Background()) {
			t.Error("Process() = false with no local copy")
		}
	})
}
