//go:build darwin

package recording

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

// BirthTime returns the creation time of path in local time
func BirthTime(path string) (time.Time, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("stat %s: %w", path, err)
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.ModTime(), nil
	}
	return time.Unix(stat.Birthtimespec.Sec, stat.Birthtimespec.Nsec).Local(), nil
}
