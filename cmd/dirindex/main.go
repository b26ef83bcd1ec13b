package main

import (
	"os"

	"dirindex/internal/dirindexcli"
)

func main() {
	if err := dirindexcli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
