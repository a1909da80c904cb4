package moderation

import (
	"bufio"
	"bytes"
	"chat-gateway/errors"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// WordList carries the result of the loading process including metadata for logging.
type WordList struct {
	Words   []string
	Sources []string
}

// WordLoader reads censored words from a filesystem, one word per line.
type WordLoader struct {
	fs fs.FS
}

func NewWordLoader(f fs.FS) *WordLoader {
	return &WordLoader{fs: f}
}

// Load reads name, either a single word file or a directory whose .txt files
// are all read (e.g. one file per language). Duplicates and blank lines are dropped.
func (l *WordLoader) Load(name string) (*WordList, error) {
	info, err := fs.Stat(l.fs, name)
	if err != nil {
		return nil, err
	}

	files := []string{name}
	if info.IsDir() {
		entries, err := fs.ReadDir(l.fs, name)
		if err != nil {
			return nil, err
		}
		files = files[:0]
		for _, entry := range entries {
			if entry.IsDir() || path.Ext(entry.Name()) != ".txt" {
				continue
			}
			files = append(files, path.Join(name, entry.Name()))
		}
	}

	unique := make(map[string]struct{})
	sources := make([]string, 0, len(files))
	for _, file := range files {
		data, err := fs.ReadFile(l.fs, file)
		if err != nil {
			return nil, err
		}
		sources = append(sources, strings.TrimSuffix(path.Base(file), path.Ext(file)))

		// Scanner handles both \n and \r\n
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				unique[line] = struct{}{}
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}

	if len(unique) == 0 {
		return nil, errors.ErrEmptyWords
	}

	words := make([]string, 0, len(unique))
	for w := range unique {
		words = append(words, w)
	}
	sort.Strings(words)
	return &WordList{Words: words, Sources: sources}, nil
}
