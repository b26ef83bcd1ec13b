package consumer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"dirindex/internal/model"
)

// TimeLayout is the timestamp prefix of a deposit-log line.
const TimeLayout = "2006-01-02 15:04:05"

// parseLayout also accepts fractional seconds.
const parseLayout = "2006-01-02 15:04:05.999999999"

var ErrDecode = errors.New("malformed message")

// Decode parses "<YYYY-MM-DD HH:MM:SS>:<filepath>:<ACTION>:<filesize>[:<text>]".
// The line may also arrive wrapped as {"message": "<line>"}.
func Decode(body []byte) (model.IngestMessage, error) {
	line := bytes.TrimSpace(body)
	if len(line) > 0 && line[0] == '{' {
		var wrapped struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(line, &wrapped); err != nil {
			return model.IngestMessage{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		line = []byte(strings.TrimSpace(wrapped.Message))
	}

	// The free-text field may be absent; six fields is the minimum.
	parts := strings.Split(string(line), ":")
	if len(parts) < 6 {
		return model.IngestMessage{}, fmt.Errorf("%w: expected at least 6 fields, got %d", ErrDecode, len(parts))
	}

	// The timestamp is informational only; an unparsable one decodes as zero.
	ts, err := time.ParseInLocation(parseLayout, strings.TrimSpace(strings.Join(parts[:3], ":")), time.Local)
	if err != nil {
		ts = time.Time{}
	}
	fp := strings.TrimSpace(parts[3])
	if fp == "" {
		return model.IngestMessage{}, fmt.Errorf("%w: empty filepath", ErrDecode)
	}

	return model.IngestMessage{
		Time:     ts,
		Filepath: fp,
		Action:   model.ParseAction(parts[4]),
		Filesize: strings.TrimSpace(parts[5]),
		Message:  joinTail(parts, 6),
	}, nil
}

// Encode renders m in the form Decode accepts.
func Encode(m model.IngestMessage) []byte {
	ts := m.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return []byte(fmt.Sprintf("%s:%s:%s:%s:%s", ts.Format(TimeLayout), m.Filepath, m.Action, m.Filesize, m.Message))
}

func joinTail(parts []string, from int) string {
	if len(parts) <= from {
		return ""
	}
	return strings.Join(parts[from:], ":")
}
