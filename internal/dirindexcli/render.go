package dirindexcli

import (
	"encoding/json"
	"fmt"
	"strings"

	"dirindex/internal/model"
)

func RenderJSONL(hits []model.SearchHit) string {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	for _, h := range hits {
		_ = enc.Encode(h)
	}
	return b.String()
}

// RenderHits prints one hit per line: path, then title or the first readme
// line when present.
func RenderHits(hits []model.SearchHit) string {
	var b strings.Builder
	for _, h := range hits {
		path := h.Doc.Path
		if h.Doc.Link {
			path += " -> " + h.Doc.ArchivePath
		}
		if s := summary(h.Doc); s != "" {
			_, _ = fmt.Fprintf(&b, "%s\t%s\n", path, s)
		} else {
			_, _ = fmt.Fprintln(&b, path)
		}
	}
	return b.String()
}

func summary(d model.DirectoryDocument) string {
	if t := strings.TrimSpace(d.Title); t != "" {
		return t
	}
	first, _, _ := strings.Cut(strings.TrimSpace(d.Readme), "\n")
	first = strings.TrimSpace(first)
	if r := []rune(first); len(r) > 80 {
		first = string(r[:77]) + "..."
	}
	return first
}
