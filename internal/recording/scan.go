// Package recording finds finished capture files and derives their
// timestamp-based names and object keys.
package recording

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chmdznr/recsync/pkg/models"
)

// DefaultExtension is the suffix of capture files
const DefaultExtension = ".mp4"

// Scan lists regular files in dir with the given extension, oldest
// modification time first. Subdirectories and dotfiles are skipped.
func Scan(dir, ext string) ([]models.Recording, error) {
	if ext == "" {
		ext = DefaultExtension
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read recordings directory: %w", err)
	}

	var recs []models.Recording
	for _, entry := range entries {
		if !Candidate(entry.Name(), ext) || !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		recs = append(recs, models.Recording{
			Path:    filepath.Join(dir, entry.Name()),
			Name:    entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].ModTime.Equal(recs[j].ModTime) {
			return recs[i].Name < recs[j].Name
		}
		return recs[i].ModTime.Before(recs[j].ModTime)
	})
	return recs, nil
}

// Candidate reports whether a file name is one Scan would pick up.
// Dotfiles are temporary or hidden and never uploaded.
func Candidate(name, ext string) bool {
	if ext == "" {
		ext = DefaultExtension
	}
	return !strings.HasPrefix(name, ".") && filepath.Ext(name) == ext
}

// SelectFinished drops the newest recording, which is still being written.
// With fewer than two recordings nothing is safe to upload.
func SelectFinished(recs []models.Recording) []models.Recording {
	if len(recs) < 2 {
		return nil
	}
	return recs[:len(recs)-1]
}

// Finished is Scan followed by SelectFinished
func Finished(dir, ext string) ([]models.Recording, error) {
	recs, err := Scan(dir, ext)
	if err != nil {
		return nil, err
	}
	return SelectFinished(recs), nil
}
