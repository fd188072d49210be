//go:build windows
// +build windows

package scanner

// fileOwnerIDs reports no ownership on Windows; owner and group are recorded
// as empty strings.
func fileOwnerIDs(path string) (uid, gid string, err error) {
	return "", "", nil
}
