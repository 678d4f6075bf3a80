package main

import "go-dataverse-download/cmd/dataverse-downloader/cmd"

func main() {
	cmd.Execute()
}
