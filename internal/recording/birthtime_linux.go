//go:build linux

package recording

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// BirthTime returns the creation time of path in local time. Filesystems
// that do not record btime fall back to ctime.
func BirthTime(path string) (time.Time, error) {
	var stx unix.Statx_t
	err := unix.Statx(unix.AT_FDCWD, path, unix.AT_SYMLINK_NOFOLLOW, unix.STATX_BTIME|unix.STATX_CTIME, &stx)
	if err != nil {
		return time.Time{}, fmt.Errorf("statx %s: %w", path, err)
	}
	if stx.Mask&unix.STATX_BTIME != 0 && stx.Btime.Sec != 0 {
		return time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec)).Local(), nil
	}
	return time.Unix(stx.Ctime.Sec, int64(stx.Ctime.Nsec)).Local(), nil
}
