package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/neilberkman/agentrider/internal/core/models"
)

// discoverStorage lists session info files under storage/session/<projectID>/,
// skipping sessions the command sub-source already covers
func (o *OpenCode) discoverStorage(ctx context.Context, covered map[string]bool) ([]Artifact, error) {
	matches, err := filepath.Glob(filepath.Join(o.opts.StorageDir, "session", "*", "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	var artifacts []Artifact
	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sessionID := strings.TrimSuffix(filepath.Base(path), ".json")
		if covered[sessionID] {
			continue
		}
		modTime, err := storageModTime(o.opts.StorageDir, path, sessionID)
		if err != nil {
			continue
		}
		artifacts = append(artifacts, Artifact{
			Source:  models.SourceOpenCode,
			ID:      path,
			Path:    path,
			Marker:  fmt.Sprintf("%d", modTime.UnixNano()),
			Kind:    KindStorage,
			ModTime: modTime,
		})
	}
	return artifacts, nil
}

// storageModTime is the newest mtime across the session file, its message
// directory and the message files in it
func storageModTime(root, sessionPath, sessionID string) (time.Time, error) {
	info, err := os.Stat(sessionPath)
	if err != nil {
		return time.Time{}, err
	}
	newest := info.ModTime()

	msgDir := filepath.Join(root, "message", sessionID)
	dirInfo, err := os.Stat(msgDir)
	if err != nil {
		return newest, nil
	}
	if dirInfo.ModTime().After(newest) {
		newest = dirInfo.ModTime()
	}
	entries, err := os.ReadDir(msgDir)
	if err != nil {
		return newest, nil
	}
	for _, e := range entries {
		if fi, err := e.Info(); err == nil && fi.ModTime().After(newest) {
			newest = fi.ModTime()
		}
	}
	return newest, nil
}

// readStorageSession assembles an export document from the storage tree.
// Corrupt message and part files are skipped and counted in failed.
func readStorageSession(root, sessionPath string) (doc *ocDocument, failed int, err error) {
	doc = &ocDocument{}
	if err := readJSONFile(sessionPath, &doc.Info); err != nil {
		return nil, 0, err
	}
	if doc.Info.ID == "" {
		doc.Info.ID = strings.TrimSuffix(filepath.Base(sessionPath), ".json")
	}

	msgPaths, err := filepath.Glob(filepath.Join(root, "message", doc.Info.ID, "*.json"))
	if err != nil {
		return nil, 0, err
	}
	for _, mp := range msgPaths {
		var msg ocMessage
		if err := readJSONFile(mp, &msg.Info); err != nil {
			// A message removed mid-read is dropped; a corrupt one is counted
			if errors.Is(err, ErrArtifactGone) {
				continue
			}
			if isParseError(err) {
				failed++
				continue
			}
			return nil, 0, err
		}
		if msg.Info.ID == "" {
			msg.Info.ID = strings.TrimSuffix(filepath.Base(mp), ".json")
		}
		parts, bad, err := readParts(root, msg.Info.ID)
		if err != nil {
			return nil, 0, err
		}
		failed += bad
		msg.Parts = parts
		doc.Messages = append(doc.Messages, msg)
	}

	sort.SliceStable(doc.Messages, func(i, j int) bool {
		a, b := doc.Messages[i].Info, doc.Messages[j].Info
		if a.Time.Created != b.Time.Created {
			return a.Time.Created < b.Time.Created
		}
		return a.ID < b.ID
	})
	return doc, failed, nil
}

func readParts(root, messageID string) (parts []ocPart, failed int, err error) {
	paths, err := filepath.Glob(filepath.Join(root, "part", messageID, "*.json"))
	if err != nil {
		return nil, 0, err
	}
	sort.Strings(paths)
	parts = make([]ocPart, 0, len(paths))
	for _, pp := range paths {
		var part ocPart
		if err := readJSONFile(pp, &part); err != nil {
			if errors.Is(err, ErrArtifactGone) {
				continue
			}
			if isParseError(err) {
				failed++
				continue
			}
			return nil, 0, err
		}
		parts = append(parts, part)
	}
	return parts, failed, nil
}

func isParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", path, ErrArtifactGone)
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &ParseError{Path: path, Err: err}
	}
	return nil
}
