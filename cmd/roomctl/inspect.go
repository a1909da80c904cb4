package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// inspect prints every key under prefix with a short summary of its JSON value.
func inspect(db *badger.DB, prefix string, out io.Writer) error {
	table := newTable(out, []string{"Key", "Kind", "Size", "Detail"})

	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			key := string(item.Key())

			err := item.Value(func(v []byte) error {
				table.Append([]string{key, kindOf(key), fmt.Sprintf("%d", len(v)), summarize(v)})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	table.Render()
	return nil
}

func kindOf(key string) string {
	switch {
	case strings.HasPrefix(key, "room:"):
		return "ROOM"
	case strings.HasPrefix(key, "msg:"):
		return "MESSAGE"
	default:
		return "UNKNOWN"
	}
}

// summarize keeps the scalar fields of a JSON object, values that do not decode are shown raw.
func summarize(v []byte) string {
	var fields map[string]any
	if err := json.Unmarshal(v, &fields); err != nil {
		return truncate(string(v), 60)
	}
	parts := make([]string, 0, len(fields))
	for _, k := range []string{"id", "name", "sender", "text"} {
		if s, ok := fields[k].(string); ok && s != "" {
			parts = append(parts, fmt.Sprintf("%s=%s", k, truncate(s, 40)))
		}
	}
	if ps, ok := fields["participants"].([]any); ok {
		parts = append(parts, fmt.Sprintf("participants=%d", len(ps)))
	}
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func openReadOnly(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)

	db, err := badger.Open(opts)
	if err != nil {
		// A crashed gateway leaves a log that needs a write-mode open to truncate
		if strings.Contains(err.Error(), "Log truncate required") {
			repairOpts := badger.DefaultOptions(path).
				WithLogger(nil).WithBypassLockGuard(true)

			db, err = badger.Open(repairOpts)
			if err != nil {
				return nil, fmt.Errorf("repair failed: %w", err)
			}
			_ = db.Close()
			return badger.Open(opts)
		}
		return nil, err
	}
	return db, nil
}
