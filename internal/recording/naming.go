package recording

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chmdznr/recsync/pkg/models"
)

const (
	namePrefix = "gcam_"
	nameLayout = "02012006_150405"
	dateLayout = "2006-01-02"
)

// ErrNameTaken is returned when another file already holds the target name
var ErrNameTaken = errors.New("target file name already exists")

// FileName returns the canonical name for a recording created at t,
// e.g. gcam_05032025_140709.mp4. The extension is kept so a renamed file
// still matches the scan that found it; empty means DefaultExtension.
func FileName(t time.Time, ext string) string {
	if ext == "" {
		ext = DefaultExtension
	}
	return namePrefix + t.Format(nameLayout) + ext
}

// DateFolder returns the YYYY-MM-DD folder for t
func DateFolder(t time.Time) string {
	return t.Format(dateLayout)
}

// ObjectKey builds prefix/YYYY-MM-DD/name, or YYYY-MM-DD/name when prefix is empty.
func ObjectKey(prefix string, t time.Time, ext string) string {
	prefix = strings.TrimRight(prefix, "/")
	key := DateFolder(t) + "/" + FileName(t, ext)
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// ParseFileName recovers the timestamp from a canonical name with any
// extension.
func ParseFileName(name string) (time.Time, bool) {
	ext := filepath.Ext(name)
	if !strings.HasPrefix(name, namePrefix) || ext == "" {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, namePrefix), ext)
	t, err := time.ParseInLocation(nameLayout, stamp, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Timestamp returns the time a recording is named after. Files already
// carrying a canonical name keep it, so the key does not drift between
// passes on filesystems that only expose ctime.
func Timestamp(rec models.Recording) (time.Time, error) {
	if t, ok := ParseFileName(rec.Name); ok {
		return t, nil
	}
	return BirthTime(rec.Path)
}

// Rename moves rec to its canonical name in the same directory, keeping
// its extension, and returns the updated recording.
func Rename(rec models.Recording, t time.Time) (models.Recording, error) {
	name := FileName(t, filepath.Ext(rec.Name))
	if name == rec.Name {
		return rec, nil
	}

	target := filepath.Join(filepath.Dir(rec.Path), name)
	if _, err := os.Lstat(target); err == nil {
		return rec, fmt.Errorf("rename %s -> %s: %w", rec.Name, name, ErrNameTaken)
	} else if !errors.Is(err, os.ErrNotExist) {
		return rec, fmt.Errorf("failed to check %s: %w", target, err)
	}

	if err := os.Rename(rec.Path, target); err != nil {
		return rec, fmt.Errorf("failed to rename %s: %w", rec.Name, err)
	}

	rec.Path = target
	rec.Name = name
	return rec, nil
}
