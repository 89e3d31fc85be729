// Package store persists objects in named buckets on the local filesystem.
//
// Layout:
//
//	<root>/<bucket>/.bucket.json
//	<root>/<bucket>/<name>.<type>/metadata.json
//	<root>/<bucket>/<name>.<type>/<uuid>
//
// An object directory is committed with a single rename, so it is either
// complete or absent.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ringstore/ringstore/internal/cache"
	"github.com/ringstore/ringstore/internal/journal"
	"github.com/ringstore/ringstore/internal/meta"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxConcurrentTransfers bounds uploads and downloads in flight when
// Options leaves it unset.
const DefaultMaxConcurrentTransfers = 16

// Options configures a Store.
type Options struct {
	// Root is the directory holding one subdirectory per bucket.
	Root string
	// Journals is where per-bucket journals ("bucket_<name>.log") are kept.
	// Empty disables bucket journals.
	Journals journal.Dir
	// Cache, when set, serves repeated downloads from memory.
	Cache *cache.Cache[string, *Download]
	// Metrics may be nil.
	Metrics *Metrics

	MaxConcurrentTransfers int
	// TransferTimeout bounds a single upload or download. Zero means no
	// limit beyond the caller's context.
	TransferTimeout time.Duration
}

// Store manages buckets under a root directory.
type Store struct {
	root      string
	journals  journal.Dir
	cache     *cache.Cache[string, *Download]
	metrics   *Metrics
	transfers *semaphore.Weighted
	timeout   time.Duration
	flight    singleflight.Group

	buckets map[string]*Bucket
	sinks   map[string]journal.Sink
	mu      sync.RWMutex
}

// New creates the root directory if needed and returns a Store over it.
func New(opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("store root cannot be empty: %w", ErrInvalidArgument)
	}
	if err := os.MkdirAll(opts.Root, 0755); err != nil {
		return nil, ioError("create store root", err)
	}
	if opts.MaxConcurrentTransfers <= 0 {
		opts.MaxConcurrentTransfers = DefaultMaxConcurrentTransfers
	}

	s := &Store{
		root:      opts.Root,
		journals:  opts.Journals,
		cache:     opts.Cache,
		metrics:   opts.Metrics,
		transfers: semaphore.NewWeighted(int64(opts.MaxConcurrentTransfers)),
		timeout:   opts.TransferTimeout,
		buckets:   make(map[string]*Bucket),
		sinks:     make(map[string]journal.Sink),
	}
	if names, err := s.ListBuckets(); err == nil {
		s.metrics.setBuckets(len(names))
	}
	return s, nil
}

// Root returns the directory the store writes to.
func (s *Store) Root() string { return s.root }

// bucketJournalLocked returns the journal for a bucket, opening it on first
// use (caller must hold s.mu).
func (s *Store) bucketJournalLocked(name string) journal.Sink {
	if j, ok := s.sinks[name]; ok {
		return j
	}
	j, err := s.journals.Open("bucket_" + name)
	if err != nil {
		log.Warn().Err(err).Str("bucket", name).Msg("Failed to open bucket journal")
		j = journal.Nop()
	}
	s.sinks[name] = j
	return j
}

// CreateBucket creates the bucket if it does not exist and returns its
// handle. Creating an existing bucket returns the existing handle.
func (s *Store) CreateBucket(name string, private bool) (*Bucket, error) {
	start := time.Now()
	b, err := s.createBucket(name, private)
	s.metrics.RecordRequest("create_bucket", err, time.Since(start).Seconds())
	return b, err
}

func (s *Store) createBucket(name string, private bool) (*Bucket, error) {
	if err := validateName(name); err != nil {
		return nil, fmt.Errorf("bucket name: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[name]
	if !ok {
		var err error
		b, err = NewBucket(s.root, name, private, s.bucketJournalLocked(name))
		if err != nil {
			return nil, err
		}
		if b.Exists() {
			if err := b.loadMeta(); err != nil {
				return nil, err
			}
		}
	}
	if err := b.Create(); err != nil {
		return nil, err
	}
	s.buckets[name] = b
	s.updateBucketGaugeLocked()
	return b, nil
}

// Bucket returns the handle of an existing bucket. Buckets present on disk
// but unknown to this process are attached on first access.
func (s *Store) Bucket(name string) (*Bucket, error) {
	if err := validateName(name); err != nil {
		return nil, fmt.Errorf("bucket name: %w", err)
	}

	s.mu.RLock()
	b, ok := s.buckets[name]
	s.mu.RUnlock()
	if ok && b.Exists() {
		return b, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buckets[name]; ok && b.Exists() {
		return b, nil
	}

	b, err := NewBucket(s.root, name, false, s.bucketJournalLocked(name))
	if err != nil {
		return nil, err
	}
	if !b.Exists() {
		delete(s.buckets, name)
		return nil, fmt.Errorf("%s: %w", name, ErrBucketNotFound)
	}
	if err := b.loadMeta(); err != nil {
		return nil, err
	}
	s.buckets[name] = b
	log.Debug().Str("bucket", name).Msg("Attached existing bucket")
	return b, nil
}

// DeleteBucket removes a bucket with all its objects and drops its cached
// downloads.
func (s *Store) DeleteBucket(name string) error {
	start := time.Now()
	err := s.deleteBucket(name)
	s.metrics.RecordRequest("delete_bucket", err, time.Since(start).Seconds())
	return err
}

func (s *Store) deleteBucket(name string) error {
	if err := validateName(name); err != nil {
		return fmt.Errorf("bucket name: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[name]
	if !ok {
		var err error
		if b, err = NewBucket(s.root, name, false, s.bucketJournalLocked(name)); err != nil {
			return err
		}
	}
	existed := b.Exists()
	if err := b.Delete(); err != nil {
		return err
	}
	delete(s.buckets, name)
	if s.cache != nil {
		prefix := name + "/"
		s.cache.RemoveFunc(func(k string) bool { return strings.HasPrefix(k, prefix) })
	}
	s.updateBucketGaugeLocked()

	if !existed {
		return fmt.Errorf("%s: %w", name, ErrBucketNotFound)
	}
	return nil
}

func (s *Store) updateBucketGaugeLocked() {
	if s.metrics == nil {
		return
	}
	if names, err := s.ListBuckets(); err == nil {
		s.metrics.setBuckets(len(names))
	}
}

// ListBuckets returns the names of the buckets on disk, sorted.
func (s *Store) ListBuckets() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, ioError("list buckets", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// withTransfer applies the per-call timeout and takes a transfer slot. The
// returned release func must be called when the transfer is done.
func (s *Store) withTransfer(ctx context.Context) (context.Context, func(), error) {
	cancel := func() {}
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
	}
	if err := s.transfers.Acquire(ctx, 1); err != nil {
		cancel()
		return nil, nil, err
	}
	return ctx, func() {
		s.transfers.Release(1)
		cancel()
	}, nil
}

// Upload stores data as name.typ in bucket. An object that is already
// present is left untouched and ErrAlreadyExists is returned.
func (s *Store) Upload(ctx context.Context, bucket, name, typ string, data []byte, tags map[string]meta.Value) (*Object, error) {
	start := time.Now()
	obj, err := s.upload(ctx, bucket, name, typ, data, tags)
	s.metrics.RecordRequest("upload", err, time.Since(start).Seconds())
	return obj, err
}

func (s *Store) upload(ctx context.Context, bucket, name, typ string, data []byte, tags map[string]meta.Value) (*Object, error) {
	ctx, release, err := s.withTransfer(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	b, err := s.Bucket(bucket)
	if err != nil {
		return nil, err
	}
	obj, err := NewObject(b, name, typ, data, tags)
	if err != nil {
		return nil, err
	}
	written, err := b.Upload(ctx, obj)
	if err != nil {
		return nil, err
	}
	if !written {
		return nil, fmt.Errorf("%s: %w", cacheKey(bucket, name, typ), ErrAlreadyExists)
	}

	s.metrics.recordUpload(len(data))
	return obj, nil
}

// Download returns the payload and metadata of bucket/name.typ. Concurrent
// downloads of the same object share one read.
func (s *Store) Download(ctx context.Context, bucket, name, typ string) (*Download, error) {
	start := time.Now()
	d, err := s.download(ctx, bucket, name, typ)
	s.metrics.RecordRequest("download", err, time.Since(start).Seconds())
	if err == nil {
		s.metrics.recordDownload(len(d.Payload))
	}
	return d, err
}

func (s *Store) download(ctx context.Context, bucket, name, typ string) (*Download, error) {
	key := cacheKey(bucket, name, typ)
	if s.cache != nil {
		if d, ok, err := s.cache.Get(key); err == nil && ok {
			return d, nil
		}
	}

	// The read is shared by every caller waiting on key, so it runs detached
	// from the caller that started it and is bounded by the store timeout
	// only. Each caller still stops waiting when its own ctx ends.
	shared := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(key, func() (any, error) {
		ctx, release, err := s.withTransfer(shared)
		if err != nil {
			return nil, err
		}
		defer release()

		b, err := s.Bucket(bucket)
		if err != nil {
			return nil, err
		}
		d, err := b.Download(ctx, name, typ)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if _, err := s.cache.Put(key, d); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("Failed to cache download")
			}
		}
		return d, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			log.Debug().Str("key", key).Msg("Download coalesced")
		}
		return res.Val.(*Download), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes every bucket journal.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for name, j := range s.sinks {
		if err := j.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal of bucket %s: %w", name, err))
		}
		delete(s.sinks, name)
	}
	return errors.Join(errs...)
}
