package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ringstore/ringstore/internal/journal"
	"github.com/ringstore/ringstore/internal/meta"
	"github.com/rs/zerolog/log"
)

const (
	// MetadataFile holds an object's metadata record inside its directory.
	MetadataFile = "metadata.json"

	bucketMetaFile = ".bucket.json"
	stagingPrefix  = ".staging-"
)

// Bucket base metadata keys.
const (
	KeyCreationTime = "Creation Time"
	KeyBucketName   = "Bucket Name"
	KeyIsPrivate    = "Is Private"
)

// ObjectRef names a stored object.
type ObjectRef struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Bucket is a named directory of objects with its own metadata and journal.
type Bucket struct {
	name    string
	dir     string
	private bool

	meta    *meta.Record
	journal journal.Sink
	locks   *keyLocks
}

// NewBucket returns a handle for the bucket name under root. Nothing is
// written until Create is called.
func NewBucket(root, name string, private bool, sink journal.Sink) (*Bucket, error) {
	if err := validateName(name); err != nil {
		return nil, fmt.Errorf("bucket name: %w", err)
	}
	if root == "" {
		return nil, fmt.Errorf("bucket root cannot be empty: %w", ErrInvalidArgument)
	}
	if sink == nil {
		sink = journal.Nop()
	}

	b := &Bucket{
		name:    name,
		dir:     filepath.Join(root, name),
		private: private,
		meta:    meta.NewRecord(),
		journal: sink,
		locks:   newKeyLocks(),
	}
	if err := b.meta.AddAll(map[string]meta.Value{
		KeyCreationTime: meta.String(time.Now().UTC().Format(time.RFC3339)),
		KeyBucketName:   meta.String(name),
		KeyIsPrivate:    meta.Bool(private),
	}); err != nil {
		return nil, err
	}
	return b, nil
}

// Name returns the bucket name.
func (b *Bucket) Name() string { return b.name }

// Private reports whether the bucket was created private.
func (b *Bucket) Private() bool { return b.private }

// Dir returns the bucket directory.
func (b *Bucket) Dir() string { return b.dir }

// Path returns the directory an object of the given name and type lives in.
func (b *Bucket) Path(name, typ string) string {
	return filepath.Join(b.dir, name+"."+typ)
}

// Exists reports whether the bucket directory is present.
func (b *Bucket) Exists() bool {
	info, err := os.Stat(b.dir)
	return err == nil && info.IsDir()
}

// Create makes the bucket directory. Creating a bucket that already exists
// is journaled and otherwise ignored.
func (b *Bucket) Create() error {
	if err := os.MkdirAll(filepath.Dir(b.dir), 0755); err != nil {
		return ioError("create store root", err)
	}
	if err := os.Mkdir(b.dir, 0755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			b.journal.Logf("Failed to create bucket '%s': Already exists", b.name)
			return nil
		}
		b.journal.Logf("Failed to create bucket '%s': %v", b.name, err)
		return ioError("create bucket "+b.name, err)
	}
	if err := b.saveMeta(); err != nil {
		return err
	}

	b.journal.Logf("Bucket %s created successfully", b.name)
	log.Debug().Str("bucket", b.name).Bool("private", b.private).Msg("Bucket created")
	return nil
}

// Delete removes the bucket directory and everything in it. Deleting a
// missing bucket is journaled and otherwise ignored.
func (b *Bucket) Delete() error {
	if !b.Exists() {
		b.journal.Logf("Failed to delete bucket '%s': Does not exist", b.name)
		return nil
	}
	if err := os.RemoveAll(b.dir); err != nil {
		b.journal.Logf("Failed to delete bucket '%s': %v", b.name, err)
		return ioError("delete bucket "+b.name, err)
	}

	b.journal.Logf("Bucket %s deleted successfully", b.name)
	log.Debug().Str("bucket", b.name).Msg("Bucket deleted")
	return nil
}

// Meta returns a copy of the bucket metadata.
func (b *Bucket) Meta() map[string]meta.Value {
	return b.meta.All()
}

// AddMeta sets key to v, overwriting any previous value.
func (b *Bucket) AddMeta(key string, v meta.Value) bool {
	return b.mutateMeta("add", key, func() error { return b.meta.Add(key, v) })
}

// AddAllMeta sets every entry of m, or none of them.
func (b *Bucket) AddAllMeta(m map[string]meta.Value) bool {
	return b.mutateMeta("add", fmt.Sprintf("%d keys", len(m)), func() error { return b.meta.AddAll(m) })
}

// UpdateMeta overwrites an existing key.
func (b *Bucket) UpdateMeta(key string, v meta.Value) bool {
	return b.mutateMeta("update", key, func() error { return b.meta.Update(key, v) })
}

// DeleteMeta removes an existing key.
func (b *Bucket) DeleteMeta(key string) bool {
	return b.mutateMeta("delete", key, func() error { return b.meta.Delete(key) })
}

func (b *Bucket) mutateMeta(op, what string, fn func() error) bool {
	if err := fn(); err != nil {
		b.journal.Logf("Failed to %s metadata %s in bucket '%s': %v", op, what, b.name, err)
		return false
	}
	if b.Exists() {
		if err := b.saveMeta(); err != nil {
			b.journal.Logf("Failed to persist metadata of bucket '%s': %v", b.name, err)
			return false
		}
	}
	b.journal.Logf("Metadata %s of bucket %s: %s", op, b.name, what)
	return true
}

func (b *Bucket) saveMeta() error {
	data, err := json.MarshalIndent(b.meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal bucket metadata: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(b.dir, bucketMetaFile), data, 0644); err != nil {
		return ioError("write bucket metadata", err)
	}
	return nil
}

// loadMeta replaces the in-memory metadata with what Create persisted. A
// bucket directory without a metadata file keeps its defaults.
func (b *Bucket) loadMeta() error {
	data, err := os.ReadFile(filepath.Join(b.dir, bucketMetaFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return ioError("read bucket metadata", err)
	}

	var m map[string]meta.Value
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse bucket metadata: %w: %w", ErrIO, err)
	}
	rec := meta.NewRecord()
	if err := rec.AddAll(m); err != nil {
		return fmt.Errorf("bucket metadata: %w: %w", ErrIO, err)
	}
	b.meta = rec
	if v, err := rec.Get(KeyIsPrivate); err == nil {
		if private, ok := v.BoolVal(); ok {
			b.private = private
		}
	}
	return nil
}

// Upload commits obj into the bucket. Payload and metadata are written into
// a staging directory which is then renamed onto the object path, so readers
// observe both files or neither. It reports false, with no error, when an
// object with the same name and type is already present.
func (b *Bucket) Upload(ctx context.Context, obj *Object) (bool, error) {
	if obj == nil {
		return false, fmt.Errorf("nil object: %w", ErrInvalidArgument)
	}
	if obj.bucket != b.name {
		return false, fmt.Errorf("object belongs to bucket %q, not %q: %w", obj.bucket, b.name, ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	path := b.Path(obj.name, obj.typ)
	unlock := b.locks.Lock(path)
	defer unlock()

	if _, err := os.Stat(path); err == nil {
		b.journal.Logf("Object '%s' of type '%s' already exists in the bucket", obj.name, obj.typ)
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, ioError("stat object", err)
	}
	if !b.Exists() {
		return false, fmt.Errorf("%s: %w", b.name, ErrBucketNotFound)
	}

	staging := filepath.Join(b.dir, stagingPrefix+uuid.NewString())
	if err := os.Mkdir(staging, 0755); err != nil {
		return false, ioError("create staging directory", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(staging)
		}
	}()

	if err := writeFileCtx(ctx, filepath.Join(staging, obj.id.String()), obj.data, 0644); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		b.journal.Logf("Failed to upload object '%s': %v", obj.name, err)
		return false, ioError("write object data", err)
	}

	metaJSON, err := json.MarshalIndent(obj.meta, "", "  ")
	if err != nil {
		return false, fmt.Errorf("marshal object metadata: %w", err)
	}
	if err := writeFileCtx(ctx, filepath.Join(staging, MetadataFile), metaJSON, 0644); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		b.journal.Logf("Failed to upload object '%s': %v", obj.name, err)
		return false, ioError("write object metadata", err)
	}
	if err := syncDir(staging); err != nil {
		return false, ioError("sync staging directory", err)
	}

	if err := os.Rename(staging, path); err != nil {
		// Another writer outside this process got there first.
		if _, statErr := os.Stat(path); statErr == nil {
			b.journal.Logf("Object '%s' of type '%s' already exists in the bucket", obj.name, obj.typ)
			return false, nil
		}
		b.journal.Logf("Failed to upload object '%s': %v", obj.name, err)
		return false, ioError("commit object", err)
	}
	committed = true
	if err := syncDir(b.dir); err != nil {
		log.Warn().Err(err).Str("bucket", b.name).Msg("Failed to sync bucket directory")
	}

	b.journal.Logf("Object %s uploaded successfully with id %s", obj.name, obj.id)
	log.Debug().
		Str("bucket", b.name).
		Str("object", obj.name).
		Str("type", obj.typ).
		Int("size", len(obj.data)).
		Msg("Object uploaded")
	return true, nil
}

// Download reads the payload and metadata of the object with the given name
// and type.
func (b *Bucket) Download(ctx context.Context, name, typ string) (*Download, error) {
	if err := validateObjectName(name); err != nil {
		return nil, err
	}
	if err := validateName(typ); err != nil {
		return nil, fmt.Errorf("object type: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := b.Path(name, typ)
	entries, err := os.ReadDir(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			b.journal.Logf("Object '%s' of type '%s' not found", name, typ)
			return nil, fmt.Errorf("%s/%s.%s: %w", b.name, name, typ, ErrObjectNotFound)
		}
		return nil, ioError("read object directory", err)
	}

	var metaRaw, payload []byte
	var haveMeta, havePayload bool
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		p := filepath.Join(path, e.Name())
		if e.Name() == MetadataFile {
			if metaRaw, err = os.ReadFile(p); err != nil {
				return nil, ioError("read object metadata", err)
			}
			haveMeta = true
			continue
		}
		if payload, err = readFileCtx(ctx, p); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, ioError("read object data", err)
		}
		havePayload = true
	}
	if !haveMeta || !havePayload {
		b.journal.Logf("Object '%s' of type '%s' is incomplete", name, typ)
		return nil, fmt.Errorf("object %s/%s.%s is incomplete: %w", b.name, name, typ, ErrIO)
	}

	var md map[string]meta.Value
	if err := json.Unmarshal(metaRaw, &md); err != nil {
		return nil, fmt.Errorf("parse object metadata: %w: %w", ErrIO, err)
	}

	b.journal.Logf("Object %s downloaded successfully", name)
	return &Download{Payload: payload, Metadata: md}, nil
}

// Objects lists the objects committed to the bucket, sorted by name then
// type.
func (b *Bucket) Objects() ([]ObjectRef, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", b.name, ErrBucketNotFound)
		}
		return nil, ioError("list bucket", err)
	}

	refs := make([]ObjectRef, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		name, typ, ok := strings.Cut(e.Name(), ".")
		if !ok {
			continue
		}
		refs = append(refs, ObjectRef{Name: name, Type: typ})
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Name != refs[j].Name {
			return refs[i].Name < refs[j].Name
		}
		return refs[i].Type < refs[j].Type
	})
	return refs, nil
}
