package model

import (
	"strings"
	"time"
)

type Action string

const (
	ActionMkdir   Action = "MKDIR"
	ActionRmdir   Action = "RMDIR"
	ActionSymlink Action = "SYMLINK"
	ActionDeposit Action = "DEPOSIT"
	ActionRemove  Action = "REMOVE"
)

// ReadmeName is the marker file mirrored into its parent directory's document.
const ReadmeName = "00README"

const DocTypeDir = "dir"

func ParseAction(s string) Action {
	return Action(strings.ToUpper(strings.TrimSpace(s)))
}

func (a Action) Known() bool {
	switch a {
	case ActionMkdir, ActionRmdir, ActionSymlink, ActionDeposit, ActionRemove:
		return true
	default:
		return false
	}
}

func (a Action) IsReadme() bool {
	return a == ActionDeposit || a == ActionRemove
}

func (a Action) IsDirectory() bool {
	return a == ActionMkdir || a == ActionRmdir || a == ActionSymlink
}

// IngestMessage is one decoded filesystem notification.
type IngestMessage struct {
	Time     time.Time `json:"time"`
	Filepath string    `json:"filepath"`
	Action   Action    `json:"action"`
	Filesize string    `json:"filesize,omitempty"`
	Message  string    `json:"message,omitempty"`
}

type DirectoryDocument struct {
	ID          string `json:"-"`
	Path        string `json:"path"`
	Dir         string `json:"dir"`
	Depth       int    `json:"depth"`
	Type        string `json:"type"`
	Readme      string `json:"readme,omitempty"`
	Link        bool   `json:"link"`
	ArchivePath string `json:"archive_path,omitempty"`
	Title       string `json:"title,omitempty"`
	URL         string `json:"url,omitempty"`
	RecordType  string `json:"record_type,omitempty"`
}

// MappingEntry classifies a path prefix.
type MappingEntry struct {
	Title      string `json:"title"`
	URL        string `json:"url"`
	RecordType string `json:"record_type"`
}

type SearchHit struct {
	ID    string            `json:"id"`
	Score float64           `json:"score"`
	Doc   DirectoryDocument `json:"doc"`
}
