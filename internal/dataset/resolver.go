package dataset

import (
	"context"
	"net/http"

	"go-dataverse-download/internal/api"
	"go-dataverse-download/internal/downloader"
	"go-dataverse-download/internal/models"

	log "github.com/sirupsen/logrus"
)

// Resolver fetches and converts a dataset's remote metadata. Construction
// validates the dataset URL; everything after that is failure-tolerant.
type Resolver struct {
	client      *api.Client
	rawURL      string
	serverURL   string
	metadataURL string
}

// NewResolver normalizes rawURL into the server root and metadata endpoint.
// Returns api.ErrInvalidURL when rawURL is not a well-formed URL.
func NewResolver(rawURL, token string, httpClient *http.Client) (*Resolver, error) {
	serverURL, metadataURL, err := api.NormalizeDatasetURL(rawURL)
	if err != nil {
		return nil, err
	}
	return &Resolver{
		client:      api.NewClient(token, httpClient),
		rawURL:      rawURL,
		serverURL:   serverURL,
		metadataURL: metadataURL,
	}, nil
}

// ServerURL returns the server root derived from the dataset URL.
func (r *Resolver) ServerURL() string { return r.serverURL }

// Resolve queries the metadata endpoint and builds the Dataset. It never
// fails past the caller: any fetch, parse, or structural-key problem is
// logged and yields a Dataset with an empty file collection. preferOriginal
// marks every descriptor to fetch the original-format variant where one
// exists.
func (r *Resolver) Resolve(ctx context.Context, preferOriginal bool) *Dataset {
	ds := &Dataset{URL: r.rawURL}

	version, err := r.client.GetDatasetVersion(ctx, r.metadataURL)
	if err != nil {
		log.WithError(err).Error("An error occurred while trying to access the dataset")
		return ds
	}

	if missing := structuralGap(version); missing != "" {
		log.Errorf("Couldn't find following key in web response: %s", missing)
		return ds
	}

	ds.PersistentID = *version.DatasetPersistentID
	ds.VersionState = *version.VersionState
	ds.LastUpdateTime = *version.LastUpdateTime
	ds.CreateTime = *version.CreateTime
	ds.LicenseName = version.License.Name

	// Title and author are scanned out of the citation fields; their
	// absence leaves the defaults and is not a failure.
	for _, field := range version.MetadataBlocks.Citation.Fields {
		switch field.TypeName {
		case "title":
			ds.Title = field.TitleString()
		case "author":
			ds.Authors = field.AuthorNames()
		}
	}

	for _, entry := range *version.Files {
		f, err := downloader.NewFile(entry, r.serverURL, preferOriginal)
		if err != nil {
			// A malformed entry is skipped, not fatal to the dataset.
			log.WithError(err).Warnf("Skipping malformed file entry in dataset %s", ds.PersistentID)
			continue
		}
		ds.Files = append(ds.Files, f)
	}

	return ds
}

// structuralGap names the first structurally required key absent from the
// version payload, or "" when all are present.
func structuralGap(v *models.DatasetVersion) string {
	switch {
	case v.DatasetPersistentID == nil:
		return "datasetPersistentId"
	case v.VersionState == nil:
		return "versionState"
	case v.LastUpdateTime == nil:
		return "lastUpdateTime"
	case v.CreateTime == nil:
		return "createTime"
	case v.License == nil:
		return "license"
	case v.MetadataBlocks == nil || v.MetadataBlocks.Citation == nil:
		return "metadataBlocks.citation"
	case v.Files == nil:
		return "files"
	}
	return ""
}
