// Package dataset turns a dataset URL into a resolved file collection and
// drives the per-file download pipeline over it.
package dataset

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"go-dataverse-download/internal/downloader"
	"go-dataverse-download/internal/helpers"
)

// Dataset is the resolved view of one remote dataset: descriptive metadata
// plus the ordered file collection, in server order. All descriptive fields
// may be empty when the server response lacked them.
type Dataset struct {
	URL            string
	PersistentID   string
	VersionState   string
	LastUpdateTime string
	CreateTime     string
	LicenseName    string
	Title          string
	Authors        []string
	Files          []*downloader.File
}

// Summary writes a human-readable overview of the dataset and its files.
func (ds *Dataset) Summary(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)

	fmt.Fprintln(tw, "Dataset Summary")
	fmt.Fprintf(tw, "URL:\t%s\n", ds.URL)
	fmt.Fprintf(tw, "Title:\t%s\n", ds.Title)
	if len(ds.Authors) > 0 {
		fmt.Fprintf(tw, "Authors:\t%s\n", strings.Join(ds.Authors, "; "))
	}
	fmt.Fprintf(tw, "Persistent ID:\t%s\n", ds.PersistentID)
	fmt.Fprintf(tw, "Version State:\t%s\n", ds.VersionState)
	fmt.Fprintf(tw, "Last Update:\t%s\n", helpers.FormatTimestamp(ds.LastUpdateTime))
	fmt.Fprintf(tw, "Created:\t%s\n", helpers.FormatTimestamp(ds.CreateTime))
	fmt.Fprintf(tw, "License:\t%s\n", ds.LicenseName)
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "Files in Dataset")
	fmt.Fprintln(tw, "NAME\tSIZE\tORIGINAL\tDIRECTORY\tDESCRIPTION")
	for _, f := range ds.Files {
		original := ""
		if f.OriginalName() != "" {
			original = f.OriginalName()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			f.Name(), f.Size(true), original, f.SubDir(), f.Description())
	}
	_ = tw.Flush()
}
