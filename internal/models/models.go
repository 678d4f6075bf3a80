package models

import (
	"encoding/json"
)

// FriendlyTypeZipArchive is the content-type label the server reports for
// ZIP members. Files carrying it are extracted during post-processing.
const FriendlyTypeZipArchive = "ZIP Archive"

type (
	// Config holds the application's configuration settings.
	Config struct {
		URL                 string         `toml:"Url" json:"Url"`
		SavePath            string         `toml:"SavePath" json:"SavePath"`
		APIToken            string         `toml:"ApiToken" json:"ApiToken"`
		HistoryPath         string         `toml:"HistoryPath" json:"HistoryPath"`
		LogLevel            string         `toml:"LogLevel" json:"LogLevel"`
		LogFormat           string         `toml:"LogFormat" json:"LogFormat"`
		Files               []string       `toml:"Files" json:"Files"`
		APIClientTimeoutSec int            `toml:"ApiClientTimeoutSec" json:"ApiClientTimeoutSec"`
		LogApiRequests      bool           `toml:"LogApiRequests" json:"LogApiRequests"`
		Download            DownloadConfig `toml:"Download" json:"Download"`
	}

	// DownloadConfig holds settings specific to the 'download' command.
	DownloadConfig struct {
		ChunkSizeKB    int  `toml:"ChunkSizeKB"`
		PostProcess    bool `toml:"PostProcess"`
		RemoveArchives bool `toml:"RemoveArchives"`
		Original       bool `toml:"Original"`
	}

	// Api Responses

	// DatasetResponse is the top-level payload of the dataset metadata
	// endpoint (GET {server}/api/datasets/:persistentId/).
	DatasetResponse struct {
		Status string       `json:"status"`
		Data   *DatasetData `json:"data"`
	}

	DatasetData struct {
		LatestVersion *DatasetVersion `json:"latestVersion"`
	}

	// DatasetVersion carries the dataset-level metadata this tool consumes.
	// Structurally required keys are pointers so their absence is
	// distinguishable from a zero value after unmarshalling.
	DatasetVersion struct {
		DatasetPersistentID *string         `json:"datasetPersistentId"`
		VersionState        *string         `json:"versionState"`
		LastUpdateTime      *string         `json:"lastUpdateTime"`
		CreateTime          *string         `json:"createTime"`
		License             *License        `json:"license"`
		MetadataBlocks      *MetadataBlocks `json:"metadataBlocks"`
		Files               *[]FileEntry    `json:"files"`
	}

	License struct {
		Name string `json:"name"`
		URI  string `json:"uri"`
	}

	MetadataBlocks struct {
		Citation *CitationBlock `json:"citation"`
	}

	CitationBlock struct {
		Fields []CitationField `json:"fields"`
	}

	// CitationField is one entry of metadataBlocks.citation.fields. The
	// shape of Value depends on TypeName ("title" carries a plain string,
	// "author" a list of compound values), so it stays raw until consumed.
	CitationField struct {
		TypeName string          `json:"typeName"`
		Value    json.RawMessage `json:"value"`
	}

	// AuthorValue is one element of an "author" field's value array.
	AuthorValue struct {
		AuthorName *TypedValue `json:"authorName"`
	}

	TypedValue struct {
		Value string `json:"value"`
	}

	// FileEntry is one member of the dataset's files array.
	FileEntry struct {
		Description    string    `json:"description"`
		DirectoryLabel string    `json:"directoryLabel"`
		DataFile       *DataFile `json:"dataFile"`
	}

	// DataFile is the nested per-file record. ID, Filename, Filesize and
	// the Checksum container are required; the checksum *value* may still
	// be null.
	DataFile struct {
		ID               *int64    `json:"id"`
		PersistentID     string    `json:"persistentId"`
		Filename         *string   `json:"filename"`
		OriginalFileName string    `json:"originalFileName"`
		Filesize         *int64    `json:"filesize"`
		Checksum         *Checksum `json:"checksum"`
		FriendlyType     string    `json:"friendlyType"`
	}

	Checksum struct {
		Type  string  `json:"type"`
		Value *string `json:"value"`
	}

	// HistoryEntry is one recorded per-file download outcome.
	HistoryEntry struct {
		PersistentID string `json:"persistentId"`
		FileName     string `json:"fileName"`
		Outcome      string `json:"outcome"`
		ErrorDetails string `json:"errorDetails,omitempty"`
		ID           int64  `json:"id"`
		Bytes        int64  `json:"bytes"`
		Timestamp    int64  `json:"timestamp"`
	}
)

// TitleString decodes the field's value as the plain title string. Returns
// "" when the field is not shaped that way.
func (f CitationField) TitleString() string {
	var title string
	if err := json.Unmarshal(f.Value, &title); err != nil {
		return ""
	}
	return title
}

// AuthorNames flattens an "author" field's compound values into an ordered
// list of display names. Malformed or incomplete entries are skipped.
func (f CitationField) AuthorNames() []string {
	var raw []AuthorValue
	if err := json.Unmarshal(f.Value, &raw); err != nil {
		return nil
	}
	var names []string
	for _, a := range raw {
		if a.AuthorName != nil && a.AuthorName.Value != "" {
			names = append(names, a.AuthorName.Value)
		}
	}
	return names
}
