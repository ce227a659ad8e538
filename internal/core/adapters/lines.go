package adapters

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

const (
	initialLineBuffer = 64 * 1024
	maxLineBuffer     = 10 * 1024 * 1024
)

// lineFunc handles one complete line; lineNo is 1-based across the whole file
type lineFunc func(line []byte, lineNo int)

// readLines calls fn for every newline-terminated line after cursor and returns
// the cursor past the last complete line. A trailing line without a newline is
// read only when cursor.Flush is set or complete accepts it; otherwise it is left
// for the next cycle and reported as partial. A cursor beyond the end of the file
// means the file was truncated or replaced, so reading restarts at the top.
func readLines(path string, cursor Cursor, complete func([]byte) bool, fn lineFunc) (next Cursor, partial bool, err error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cursor, false, fmt.Errorf("%s: %w", path, ErrArtifactGone)
		}
		return cursor, false, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return cursor, false, fmt.Errorf("failed to stat file: %w", err)
	}
	if cursor.Offset > info.Size() || cursor.Offset < 0 {
		cursor = Cursor{}
	}
	if _, err := file.Seek(cursor.Offset, io.SeekStart); err != nil {
		return cursor, false, fmt.Errorf("failed to seek: %w", err)
	}

	flush := cursor.Flush
	cursor.Flush = false
	next = cursor
	consumed := int64(0)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, initialLineBuffer), maxLineBuffer)
	scanner.Split(func(data []byte, atEOF bool) (int, []byte, error) {
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			consumed = int64(i + 1)
			return i + 1, data[:i], nil
		}
		if atEOF && len(data) > 0 {
			tail := bytes.TrimRight(data, "\r")
			if flush || (complete != nil && complete(tail)) {
				consumed = int64(len(data))
				return len(data), data, nil
			}
		}
		// Incomplete trailing line: leave it for the next cycle
		return 0, nil, nil
	})

	for scanner.Scan() {
		next.Offset += consumed
		next.Line++
		line := bytes.TrimRight(scanner.Bytes(), "\r")
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		fn(line, next.Line)
	}
	if err := scanner.Err(); err != nil {
		return next, false, fmt.Errorf("error reading file: %w", err)
	}

	return next, next.Offset < info.Size(), nil
}

// readFirstLine returns the first non-blank line of path
func readFirstLine(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrArtifactGone)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, initialLineBuffer), maxLineBuffer)
	for scanner.Scan() {
		if line := bytes.TrimSpace(scanner.Bytes()); len(line) > 0 {
			return append([]byte(nil), line...), nil
		}
	}
	return nil, scanner.Err()
}
