package snapshot

import "io/fs"

// ModeString renders mode as a ten character symbolic string in the
// traditional ls form, e.g. "-rw-r--r--", "drwxr-xr-x", "lrwxrwxrwx".
// Setuid, setgid and sticky bits show as s/S and t/T. The result does not
// depend on the platform the snapshot is taken on.
func ModeString(mode fs.FileMode) string {
	buf := [10]byte{}
	switch {
	case mode&fs.ModeDir != 0:
		buf[0] = 'd'
	case mode&fs.ModeSymlink != 0:
		buf[0] = 'l'
	case mode&fs.ModeNamedPipe != 0:
		buf[0] = 'p'
	case mode&fs.ModeSocket != 0:
		buf[0] = 's'
	case mode&fs.ModeCharDevice != 0:
		buf[0] = 'c'
	case mode&fs.ModeDevice != 0:
		buf[0] = 'b'
	case mode&fs.ModeIrregular != 0:
		buf[0] = '?'
	default:
		buf[0] = '-'
	}

	const rwx = "rwxrwxrwx"
	perm := mode.Perm()
	for i := 0; i < 9; i++ {
		if perm&(1<<uint(8-i)) != 0 {
			buf[i+1] = rwx[i]
		} else {
			buf[i+1] = '-'
		}
	}
	special := func(pos int, set bool, lower, upper byte) {
		if !set {
			return
		}
		if buf[pos] == 'x' {
			buf[pos] = lower
		} else {
			buf[pos] = upper
		}
	}
	special(3, mode&fs.ModeSetuid != 0, 's', 'S')
	special(6, mode&fs.ModeSetgid != 0, 's', 'S')
	special(9, mode&fs.ModeSticky != 0, 't', 'T')
	return string(buf[:])
}

// KindOf recovers the entry kind from a symbolic mode string.
func KindOf(permissions string) (Kind, bool) {
	if len(permissions) != 10 {
		return 0, false
	}
	switch permissions[0] {
	case '-':
		return KindFile, true
	case 'd':
		return KindDirectory, true
	case 'l':
		return KindSymlink, true
	case 'p', 's', 'c', 'b', '?':
		return KindSpecial, true
	default:
		return 0, false
	}
}

// KindOfMode classifies a file mode.
func KindOfMode(mode fs.FileMode) Kind {
	switch {
	case mode.IsRegular():
		return KindFile
	case mode.IsDir():
		return KindDirectory
	case mode&fs.ModeSymlink != 0:
		return KindSymlink
	default:
		return KindSpecial
	}
}
