package store

import (
	"bytes"
	"context"
	"io"
	"os"
)

// ctxReader stops a copy loop as soon as its context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// fsyncEnabled reports whether writes are flushed to stable storage.
// RINGSTORE_TEST turns fsync off to keep test runs fast.
func fsyncEnabled() bool {
	return os.Getenv("RINGSTORE_TEST") == ""
}

// writeFileCtx writes data to a new file at path, checking ctx between chunks,
// and fsyncs it before returning.
func writeFileCtx(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(f, &ctxReader{ctx: ctx, r: bytes.NewReader(data)}); err != nil {
		return err
	}
	if fsyncEnabled() {
		if err := f.Sync(); err != nil {
			return err
		}
	}
	return f.Close()
}

// readFileCtx reads the whole file at path, checking ctx between chunks.
func readFileCtx(ctx context.Context, path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(&ctxReader{ctx: ctx, r: f})
}

// syncDir flushes directory entries (renames, creates) of dir.
func syncDir(dir string) error {
	if !fsyncEnabled() {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	return d.Sync()
}

// writeFileAtomic writes data to a temp file next to path and renames it
// into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := writeFileCtx(context.Background(), tmp, data, perm); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
