package hasher

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/time/rate"
)

const (
	hashBufferSmallSize      = 32 * 1024
	hashBufferLargeSize      = 128 * 1024
	hashLargeBufferThreshold = 256 * 1024
)

var (
	// ErrUnsupportedAlgorithm is returned for digest names missing from the registry.
	ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")

	// ErrUnreadableSource is returned when content cannot be read to the end.
	// A partial digest is never returned alongside it.
	ErrUnreadableSource = errors.New("unreadable source")
)

var hashBufferSmallPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, hashBufferSmallSize)
		return &buf
	},
}

var hashBufferLargePool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, hashBufferLargeSize)
		return &buf
	},
}

// Options tune a single digest computation.
type Options struct {
	// SizeHint selects the larger read buffer for big inputs.
	SizeHint int64
	// Limiter, when set, paces buffer reads.
	Limiter *rate.Limiter
	// Context is consulted by the limiter. Defaults to context.Background.
	Context context.Context
}

// Digest reads r to EOF and returns the hex-encoded digest under algorithm.
func Digest(r io.Reader, algorithm string) (string, error) {
	return DigestWithOptions(r, algorithm, Options{})
}

// DigestWithOptions is Digest with buffer sizing and read pacing.
func DigestWithOptions(r io.Reader, algorithm string, opts Options) (string, error) {
	h, err := New(algorithm)
	if err != nil {
		return "", err
	}

	bufferPool := &hashBufferSmallPool
	if opts.SizeHint >= hashLargeBufferThreshold {
		bufferPool = &hashBufferLargePool
	}
	bufferPtr := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(bufferPtr)
	buffer := *bufferPtr

	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		if opts.Limiter != nil {
			if err := opts.Limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("%w: %v", ErrUnreadableSource, err)
			}
		}
		n, readErr := r.Read(buffer)
		if n > 0 {
			// hash.Hash.Write never returns an error.
			_, _ = h.Write(buffer[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("%w: %v", ErrUnreadableSource, readErr)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestFile opens path and digests its full content.
func DigestFile(path, algorithm string) (string, error) {
	return DigestFileWithOptions(path, algorithm, Options{})
}

// DigestFileWithOptions is DigestFile with read pacing. The size hint is
// taken from the open file.
func DigestFileWithOptions(path, algorithm string, opts Options) (string, error) {
	if !Supported(algorithm) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnreadableSource, path, err)
	}
	defer file.Close()

	if info, statErr := file.Stat(); statErr == nil {
		opts.SizeHint = info.Size()
	}
	sum, err := DigestWithOptions(file, algorithm, opts)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return sum, nil
}
