package sqlite

import (
	"fmt"
	"strings"
)

var bulkPragmas = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA temp_store=MEMORY;",
	"PRAGMA cache_size=-65536;",
}

// PrepareBulk relaxes durability for large crawls.
func (s *Store) PrepareBulk() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store is not open")
	}
	for _, stmt := range bulkPragmas {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("%s: %w", strings.TrimSuffix(stmt, ";"), err)
		}
	}
	return nil
}

func (s *Store) QueryPragma(name string) (string, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("store is not open")
	}
	name = strings.TrimSpace(name)
	if !validPragmaName(name) {
		return "", fmt.Errorf("invalid pragma name: %q", name)
	}

	var v any
	if err := s.db.QueryRow("PRAGMA " + name + ";").Scan(&v); err != nil {
		return "", err
	}

	switch vv := v.(type) {
	case nil:
		return "", nil
	case string:
		return vv, nil
	case []byte:
		return string(vv), nil
	default:
		return fmt.Sprint(vv), nil
	}
}

func validPragmaName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			continue
		}
		return false
	}
	return true
}
