package scanner

import (
	"os"
	"time"

	"github.com/djherbis/times"
)

// fileTimes extracts the modification time and, where the platform keeps
// one, the inode change time from an lstat result. Both are normalised to
// UTC; changed is zero when the platform has no change time.
func fileTimes(info os.FileInfo) (modified, changed time.Time) {
	ts := times.Get(info)
	modified = ts.ModTime().UTC()
	if ts.HasChangeTime() {
		changed = ts.ChangeTime().UTC()
	}
	return modified, changed
}
