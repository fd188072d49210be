package snapshot

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModeString(t *testing.T) {
	cases := []struct {
		mode fs.FileMode
		want string
	}{
		{0o644, "-rw-r--r--"},
		{fs.ModeDir | 0o755, "drwxr-xr-x"},
		{fs.ModeSymlink | 0o777, "lrwxrwxrwx"},
		{fs.ModeNamedPipe | 0o600, "prw-------"},
		{fs.ModeSocket | 0o700, "srwx------"},
		{fs.ModeDevice | fs.ModeCharDevice | 0o666, "crw-rw-rw-"},
		{fs.ModeDevice | 0o660, "brw-rw----"},
		{fs.ModeSetuid | 0o755, "-rwsr-xr-x"},
		{fs.ModeSetuid | 0o644, "-rwSr--r--"},
		{fs.ModeSetgid | 0o750, "-rwxr-s---"},
		{fs.ModeDir | fs.ModeSticky | 0o777, "drwxrwxrwt"},
		{fs.ModeDir | fs.ModeSticky | 0o770, "drwxrwx--T"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ModeString(tc.mode), "mode %v", tc.mode)
	}
}

func TestKindOfRoundTripsModeString(t *testing.T) {
	modes := []fs.FileMode{0o644, fs.ModeDir | 0o755, fs.ModeSymlink | 0o777, fs.ModeNamedPipe, fs.ModeSocket, fs.ModeDevice}
	for _, m := range modes {
		kind, ok := KindOf(ModeString(m))
		require.True(t, ok)
		assert.Equal(t, KindOfMode(m), kind, "mode %v", m)
	}

	_, ok := KindOf("rw-r--r--")
	assert.False(t, ok)
	_, ok = KindOf("zrw-r--r--")
	assert.False(t, ok)
}

func TestEntryValidate(t *testing.T) {
	valid := Entry{Path: "/a", Kind: KindFile, Size: 1, Permissions: "-rw-r--r--", Digest: "ab"}
	require.NoError(t, valid.Validate())

	dir := Entry{Path: "/d", Kind: KindDirectory, Permissions: "drwxr-xr-x"}
	require.NoError(t, dir.Validate())

	broken := []Entry{
		{Kind: KindFile, Permissions: "-rw-r--r--", Digest: "ab"},
		{Path: "/a", Kind: KindFile, Size: -1, Permissions: "-rw-r--r--", Digest: "ab"},
		{Path: "/a", Kind: KindFile, Permissions: "-rw-r--r--"},
		{Path: "/d", Kind: KindDirectory, Permissions: "drwxr-xr-x", Digest: "ab"},
		{Path: "/l", Kind: KindSymlink, Permissions: "-rwxrwxrwx", Digest: "ab"},
	}
	for _, e := range broken {
		assert.ErrorIs(t, e.Validate(), ErrInvalidEntry, "%+v", e)
	}
}

func TestCheckOrderAndLookup(t *testing.T) {
	s := &Snapshot{Algorithm: "sha256", Entries: []Entry{{Path: "/c"}, {Path: "/a"}, {Path: "/b"}}}
	require.ErrorIs(t, s.CheckOrder(), ErrOrder)

	SortEntries(s.Entries)
	require.NoError(t, s.CheckOrder())

	e, ok := s.Lookup("/b")
	require.True(t, ok)
	assert.Equal(t, "/b", e.Path)
	_, ok = s.Lookup("/bb")
	assert.False(t, ok)

	s.Entries = append(s.Entries, Entry{Path: "/c"})
	require.ErrorIs(t, s.CheckOrder(), ErrOrder)

	var empty *Snapshot
	assert.Zero(t, empty.Len())
	_, ok = empty.Lookup("/a")
	assert.False(t, ok)
}
