//go:build !windows
// +build !windows

package scanner

import (
	"strconv"

	"golang.org/x/sys/unix"
)

// fileOwnerIDs returns the numeric owner and group of path without following
// a trailing symlink.
func fileOwnerIDs(path string) (uid, gid string, err error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return "", "", err
	}
	return strconv.FormatUint(uint64(st.Uid), 10), strconv.FormatUint(uint64(st.Gid), 10), nil
}
