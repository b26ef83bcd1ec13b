package dirindexd

import (
	"encoding/json"
	"time"

	"dirindex/internal/model"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeServerError    = -32000
	CodeNotFound       = -32004
)

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// DirGetParams selects a document by path or, when Path is empty, by id.
type DirGetParams struct {
	Path string `json:"path,omitempty"`
	ID   string `json:"id,omitempty"`
}

type DirSearchParams struct {
	Q     string `json:"q"`
	Limit int    `json:"limit,omitempty"`
}

type DirGetResult struct {
	ID  string                  `json:"id"`
	Doc model.DirectoryDocument `json:"doc"`
}

type StatsResult struct {
	Version          string    `json:"version"`
	Backend          string    `json:"backend"`
	Strategy         string    `json:"strategy"`
	Mode             string    `json:"mode"`
	Documents        int       `json:"documents"`
	MappingEntries   int       `json:"mapping_entries"`
	MappingRefreshed time.Time `json:"mapping_refreshed"`
	Processed        int64     `json:"processed"`
	Failed           int64     `json:"failed"`
	StartedAt        time.Time `json:"started_at"`
	// Pragmas is set only for backends that expose storage pragmas.
	Pragmas map[string]string `json:"pragmas,omitempty"`
}

type MappingRefreshResult struct {
	Entries   int       `json:"entries"`
	Refreshed time.Time `json:"refreshed"`
}
