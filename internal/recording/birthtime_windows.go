//go:build windows

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
	attr, ok := info.Sys().(*syscall.Win32FileAttributeData)
	if !ok {
		return info.ModTime(), nil
	}
	return time.Unix(0, attr.CreationTime.Nanoseconds()).Local(), nil
}
