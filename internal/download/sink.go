package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// Stored describes a file already present in a sink.
type Stored struct {
	Size int64
	// ModTime is zero when unknown.
	ModTime time.Time
}

// Sink stores downloaded files under slash separated keys.
type Sink interface {
	// Stat reports whether key exists.
	Stat(ctx context.Context, key string) (Stored, bool, error)
	// Write stores r under key. Nothing is visible at key unless the whole
	// reader was consumed. A non-zero modTime is recorded as the
	// modification time.
	Write(ctx context.Context, key string, modTime time.Time, r io.Reader) (int64, error)
	// Location returns a human-readable location of key.
	Location(key string) string
}

// FSSink writes files below Root on an afero filesystem.
type FSSink struct {
	Fs   afero.Fs
	Root string
}

// NewFSSink returns a sink on the operating system filesystem.
func NewFSSink(root string) *FSSink {
	return &FSSink{Fs: afero.NewOsFs(), Root: root}
}

func (s *FSSink) Location(key string) string {
	return filepath.Join(s.Root, filepath.FromSlash(key))
}

func (s *FSSink) Stat(_ context.Context, key string) (Stored, bool, error) {
	info, err := s.Fs.Stat(s.Location(key))
	if errors.Is(err, os.ErrNotExist) {
		return Stored{}, false, nil
	}
	if err != nil {
		return Stored{}, false, err
	}
	if info.IsDir() {
		return Stored{}, false, fmt.Errorf("%s is a directory", s.Location(key))
	}
	return Stored{Size: info.Size(), ModTime: info.ModTime()}, true, nil
}

// Write copies r into a hidden sibling of the target and renames it into
// place once complete.
func (s *FSSink) Write(_ context.Context, key string, modTime time.Time, r io.Reader) (int64, error) {
	target := s.Location(key)
	dir := filepath.Dir(target)
	if err := s.Fs.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp := filepath.Join(dir, "."+filepath.Base(target)+"."+uuid.NewString()+".partial")
	f, err := s.Fs.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", tmp, err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.Fs.Remove(tmp)
		return n, err
	}

	if err := s.Fs.Rename(tmp, target); err != nil {
		s.Fs.Remove(tmp)
		return n, fmt.Errorf("rename %s: %w", tmp, err)
	}
	if !modTime.IsZero() {
		if err := s.Fs.Chtimes(target, modTime, modTime); err != nil {
			return n, fmt.Errorf("set modification time of %s: %w", target, err)
		}
	}
	return n, nil
}

// lastModifiedKey is the object metadata key holding the source's
// Last-Modified time in RFC 3339.
const lastModifiedKey = "last-modified"

// BucketSink writes objects below Prefix in a gocloud bucket.
type BucketSink struct {
	Bucket *blob.Bucket
	Prefix string
	// Name identifies the bucket in messages, usually its URL.
	Name string
}

func (s *BucketSink) key(key string) string {
	if s.Prefix == "" {
		return key
	}
	return path.Join(s.Prefix, key)
}

func (s *BucketSink) Location(key string) string {
	if s.Name == "" {
		return s.key(key)
	}
	return s.Name + ":" + s.key(key)
}

// Stat reads the object attributes. Objects without the last-modified
// metadata report a zero ModTime.
func (s *BucketSink) Stat(ctx context.Context, key string) (Stored, bool, error) {
	attrs, err := s.Bucket.Attributes(ctx, s.key(key))
	if gcerrors.Code(err) == gcerrors.NotFound {
		return Stored{}, false, nil
	}
	if err != nil {
		return Stored{}, false, err
	}

	st := Stored{Size: attrs.Size}
	if v, ok := attrs.Metadata[lastModifiedKey]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			st.ModTime = t
		}
	}
	return st, true, nil
}

// Write streams r into a new object. The object is only committed when the
// copy succeeds.
func (s *BucketSink) Write(ctx context.Context, key string, modTime time.Time, r io.Reader) (int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := &blob.WriterOptions{ContentType: "application/octet-stream"}
	if !modTime.IsZero() {
		opts.Metadata = map[string]string{lastModifiedKey: modTime.UTC().Format(time.RFC3339)}
	}

	w, err := s.Bucket.NewWriter(ctx, s.key(key), opts)
	if err != nil {
		return 0, fmt.Errorf("open writer for %s: %w", s.key(key), err)
	}

	n, err := io.Copy(w, r)
	if err != nil {
		// cancelling before Close aborts the upload
		cancel()
		w.Close()
		return n, err
	}
	if err := w.Close(); err != nil {
		return n, fmt.Errorf("commit %s: %w", s.key(key), err)
	}
	return n, nil
}
