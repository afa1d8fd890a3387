package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"lendscope/internal/model"
)

// Feed reads protocol events from a JSONL file, one record per line, in the
// order the ingest runner wrote them.
type Feed struct {
	file    *os.File
	scanner *bufio.Scanner
	line    int
}

// feedBufferSize bounds a single JSONL line.
const feedBufferSize = 1 << 20

func OpenFeed(path string) (*Feed, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feed: %w", err)
	}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), feedBufferSize)
	return &Feed{file: file, scanner: scanner}, nil
}

// Next returns the next event, or ok=false at end of feed. Blank lines are
// skipped.
func (f *Feed) Next() (*model.EventRecord, bool, error) {
	for f.scanner.Scan() {
		f.line++
		line := f.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev model.EventRecord
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, false, fmt.Errorf("feed line %d: %w", f.line, err)
		}
		return &ev, true, nil
	}
	if err := f.scanner.Err(); err != nil && err != io.EOF {
		return nil, false, fmt.Errorf("feed line %d: %w", f.line, err)
	}
	return nil, false, nil
}

func (f *Feed) Close() error {
	return f.file.Close()
}
