package snapshot

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

var (
	// ErrCorrupt is returned when a persisted snapshot cannot be trusted.
	ErrCorrupt = errors.New("corrupt snapshot")

	// ErrIO is returned when a snapshot cannot be opened, written or renamed.
	ErrIO = errors.New("snapshot i/o failure")
)

// CompressedSuffix selects zstd compression in WriteFile and OpenFile.
const CompressedSuffix = ".zst"

const (
	fieldPath = iota
	fieldSize
	fieldOwner
	fieldGroup
	fieldPermissions
	fieldModifiedAt
	fieldDigest
	recordFields
	// fieldChangedAt follows the base record when the header carries
	// changeTimesFlag.
	fieldChangedAt = recordFields
)

// changeTimesFlag is the optional second header field marking snapshots that
// record inode change times.
const changeTimesFlag = "ctime"

const timeLayout = time.RFC3339Nano

// Write serializes s to w: the header record (the algorithm, followed by
// changeTimesFlag when s records change times) first, then one record per
// entry in the snapshot's existing order.
func Write(w io.Writer, s *Snapshot) error {
	if s == nil || strings.TrimSpace(s.Algorithm) == "" {
		return fmt.Errorf("%w: snapshot has no digest algorithm", ErrIO)
	}
	cw := csv.NewWriter(w)
	header := []string{s.Algorithm}
	width := recordFields
	if s.ChangeTimes {
		header = append(header, changeTimesFlag)
		width++
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	record := make([]string, width)
	for i := range s.Entries {
		encodeEntry(&s.Entries[i], record)
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func encodeEntry(e *Entry, record []string) {
	record[fieldPath] = escapePath(e.Path)
	record[fieldSize] = ""
	if e.Kind.HasSize() {
		record[fieldSize] = strconv.FormatInt(e.Size, 10)
	}
	record[fieldOwner] = e.Owner
	record[fieldGroup] = e.Group
	record[fieldPermissions] = e.Permissions
	record[fieldModifiedAt] = e.ModifiedAt.UTC().Format(timeLayout)
	record[fieldDigest] = e.Digest
	if len(record) > fieldChangedAt {
		record[fieldChangedAt] = ""
		if !e.ChangedAt.IsZero() {
			record[fieldChangedAt] = e.ChangedAt.UTC().Format(timeLayout)
		}
	}
}

// WriteFile persists s at path. Content goes to a temporary file in the same
// directory which is renamed into place only after a complete write, so a
// failed run never leaves a partial baseline behind. A path ending in
// CompressedSuffix is zstd compressed.
func WriteFile(path string, s *Snapshot) error {
	staged, err := Stage(path, s)
	if err != nil {
		return err
	}
	return staged.Commit()
}

// Staged is a fully written snapshot that is not yet visible at its
// destination. Exactly one of Commit or Discard must be called.
type Staged struct {
	tmp  string
	path string
}

// Stage writes s to a temporary file beside path without touching path.
func Stage(path string, s *Snapshot) (_ *Staged, err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	buf := bufio.NewWriterSize(tmp, 1024*1024)
	var out io.Writer = buf
	var enc *zstd.Encoder
	if strings.HasSuffix(path, CompressedSuffix) {
		enc, err = zstd.NewWriter(buf)
		if err != nil {
			return nil, fmt.Errorf("%w: create zstd encoder: %v", ErrIO, err)
		}
		out = enc
	}
	if err = Write(out, s); err != nil {
		return nil, err
	}
	if enc != nil {
		if err = enc.Close(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIO, err)
		}
	}
	if err = buf.Flush(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err = tmp.Sync(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err = tmp.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return &Staged{tmp: tmp.Name(), path: path}, nil
}

// Path is the destination the snapshot is committed to.
func (st *Staged) Path() string {
	return st.path
}

// Commit renames the staged file into place. On failure the staged file is
// removed.
func (st *Staged) Commit() error {
	if err := os.Rename(st.tmp, st.path); err != nil {
		os.Remove(st.tmp)
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// Discard removes the staged file and leaves the destination untouched.
func (st *Staged) Discard() {
	os.Remove(st.tmp)
}

// Reader streams entries from a persisted snapshot. Next enforces strict
// path order, so a hand-edited or reordered baseline fails with ErrCorrupt
// instead of producing a wrong diff.
type Reader struct {
	csv         *csv.Reader
	algorithm   string
	changeTimes bool
	prev        string
	line        int
	done        bool
	closers     []func() error
}

// NewReader consumes the algorithm record from r and returns a Reader
// positioned at the first entry.
func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: missing digest algorithm record", ErrCorrupt)
	}
	if err != nil {
		return nil, classifyReadError(err, 1)
	}
	if len(header) == 0 || len(header) > 2 || strings.TrimSpace(header[0]) == "" {
		return nil, fmt.Errorf("%w: line 1: expected a digest algorithm field, got %d fields", ErrCorrupt, len(header))
	}
	if len(header) == 2 && header[1] != changeTimesFlag {
		return nil, fmt.Errorf("%w: line 1: unknown header flag %q", ErrCorrupt, header[1])
	}
	return &Reader{csv: cr, algorithm: header[0], changeTimes: len(header) == 2, line: 1}, nil
}

// OpenFile opens a persisted snapshot for streaming. Files ending in
// CompressedSuffix are decompressed. The caller must Close the reader.
func OpenFile(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	var src io.Reader = bufio.NewReaderSize(f, 1024*1024)
	closers := []func() error{f.Close}
	if strings.HasSuffix(path, CompressedSuffix) {
		dec, err := zstd.NewReader(src)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		src = dec
		closers = append([]func() error{func() error { dec.Close(); return nil }}, closers...)
	}
	r, err := NewReader(src)
	if err != nil {
		for _, c := range closers {
			_ = c()
		}
		return nil, err
	}
	r.closers = closers
	return r, nil
}

// Algorithm is the digest algorithm recorded in the snapshot header.
func (r *Reader) Algorithm() string {
	return r.algorithm
}

// ChangeTimes reports whether entries carry inode change times.
func (r *Reader) ChangeTimes() bool {
	return r.changeTimes
}

// Next returns the next entry. ok is false once the sequence is exhausted.
func (r *Reader) Next() (entry Entry, ok bool, err error) {
	if r.done {
		return Entry{}, false, nil
	}
	record, err := r.csv.Read()
	if err == io.EOF {
		r.done = true
		return Entry{}, false, nil
	}
	r.line++
	if err != nil {
		r.done = true
		return Entry{}, false, classifyReadError(err, r.line)
	}
	entry, err = decodeEntry(record, r.changeTimes)
	if err != nil {
		r.done = true
		return Entry{}, false, fmt.Errorf("%w: line %d: %w", ErrCorrupt, r.line, err)
	}
	if r.line > 2 && entry.Path <= r.prev {
		r.done = true
		return Entry{}, false, fmt.Errorf("%w: line %d: %w: %q after %q", ErrCorrupt, r.line, ErrOrder, entry.Path, r.prev)
	}
	r.prev = entry.Path
	return entry, true, nil
}

// Close releases the underlying file, if any.
func (r *Reader) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	r.closers = nil
	return first
}

func classifyReadError(err error, line int) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return fmt.Errorf("%w: line %d: %v", ErrIO, line, err)
}

func decodeEntry(record []string, changeTimes bool) (Entry, error) {
	width := recordFields
	if changeTimes {
		width++
	}
	if len(record) != width {
		return Entry{}, fmt.Errorf("expected %d fields, got %d", width, len(record))
	}
	path, err := unescapePath(record[fieldPath])
	if err != nil {
		return Entry{}, err
	}
	kind, ok := KindOf(record[fieldPermissions])
	if !ok {
		return Entry{}, fmt.Errorf("unrecognized permissions %q", record[fieldPermissions])
	}
	e := Entry{
		Path:        path,
		Kind:        kind,
		Owner:       record[fieldOwner],
		Group:       record[fieldGroup],
		Permissions: record[fieldPermissions],
		Digest:      record[fieldDigest],
	}
	switch {
	case kind.HasSize():
		size, err := strconv.ParseInt(record[fieldSize], 10, 64)
		if err != nil {
			return Entry{}, fmt.Errorf("invalid size %q", record[fieldSize])
		}
		e.Size = size
	case record[fieldSize] != "":
		return Entry{}, fmt.Errorf("%s with size %q", kind, record[fieldSize])
	}
	modifiedAt, err := time.Parse(timeLayout, record[fieldModifiedAt])
	if err != nil {
		return Entry{}, fmt.Errorf("invalid modification time %q", record[fieldModifiedAt])
	}
	e.ModifiedAt = modifiedAt.UTC()
	if changeTimes && record[fieldChangedAt] != "" {
		changedAt, err := time.Parse(timeLayout, record[fieldChangedAt])
		if err != nil {
			return Entry{}, fmt.Errorf("invalid change time %q", record[fieldChangedAt])
		}
		e.ChangedAt = changedAt.UTC()
	}
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// escapePath percent-encodes '%', CR and LF in a path. encoding/csv folds
// CRLF to LF inside quoted fields, so line breaks never reach it raw.
func escapePath(path string) string {
	if !strings.ContainsAny(path, "%\r\n") {
		return path
	}
	var b strings.Builder
	b.Grow(len(path) + 8)
	for i := 0; i < len(path); i++ {
		switch c := path[i]; c {
		case '%':
			b.WriteString("%25")
		case '\r':
			b.WriteString("%0D")
		case '\n':
			b.WriteString("%0A")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// unescapePath reverses escapePath. Any other escape sequence is rejected.
func unescapePath(field string) (string, error) {
	if strings.ContainsAny(field, "\r\n") {
		return "", fmt.Errorf("unescaped line break in path %q", field)
	}
	if !strings.Contains(field, "%") {
		return field, nil
	}
	var b strings.Builder
	b.Grow(len(field))
	for i := 0; i < len(field); i++ {
		if field[i] != '%' {
			b.WriteByte(field[i])
			continue
		}
		if i+2 >= len(field) {
			return "", fmt.Errorf("truncated escape in path %q", field)
		}
		switch strings.ToUpper(field[i+1 : i+3]) {
		case "25":
			b.WriteByte('%')
		case "0D":
			b.WriteByte('\r')
		case "0A":
			b.WriteByte('\n')
		default:
			return "", fmt.Errorf("invalid escape %q in path %q", field[i:i+3], field)
		}
		i += 2
	}
	return b.String(), nil
}

// Read parses a complete snapshot from r.
func Read(r io.Reader) (*Snapshot, error) {
	sr, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	return collect(sr)
}

// ReadFile parses the snapshot persisted at path.
func ReadFile(path string) (*Snapshot, error) {
	sr, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer sr.Close()
	return collect(sr)
}

func collect(sr *Reader) (*Snapshot, error) {
	s := &Snapshot{Algorithm: sr.Algorithm(), ChangeTimes: sr.ChangeTimes()}
	for {
		entry, ok, err := sr.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return s, nil
		}
		s.Entries = append(s.Entries, entry)
	}
}
