//go:build !linux && !darwin && !windows

package recording

import (
	"fmt"
	"os"
	"time"
)

// BirthTime falls back to the modification time where no creation time is exposed
func BirthTime(path string) (time.Time, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.ModTime(), nil
}
