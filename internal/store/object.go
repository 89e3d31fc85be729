package store

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/ringstore/ringstore/internal/meta"
)

// System metadata keys stamped on every object. They are applied after the
// caller's tags and so take precedence over them.
const (
	KeyUUID         = "uuid"
	KeyObjectName   = "object name"
	KeyObjectBucket = "bucket_name"
	KeyObjectType   = "object_type"
)

// Object is a payload staged for upload into a bucket.
type Object struct {
	id     uuid.UUID
	name   string
	typ    string
	bucket string
	data   []byte
	meta   *meta.Record
}

// NewObject prepares an upload of data as name.typ into b. It fails with
// ErrBucketNotFound when b is not on disk and with ErrAlreadyExists when an
// object with the same name and type is already stored.
func NewObject(b *Bucket, name, typ string, data []byte, tags map[string]meta.Value) (*Object, error) {
	if b == nil {
		return nil, fmt.Errorf("nil bucket: %w", ErrInvalidArgument)
	}
	if err := validateObjectName(name); err != nil {
		return nil, err
	}
	if err := validateName(typ); err != nil {
		return nil, fmt.Errorf("object type: %w", err)
	}
	if data == nil {
		return nil, fmt.Errorf("nil object data: %w", ErrInvalidArgument)
	}
	if !b.Exists() {
		return nil, fmt.Errorf("%s: %w", b.name, ErrBucketNotFound)
	}
	if _, err := os.Stat(b.Path(name, typ)); err == nil {
		return nil, fmt.Errorf("%s/%s.%s: %w", b.name, name, typ, ErrAlreadyExists)
	}

	id := uuid.New()
	rec := meta.NewRecord()
	if err := rec.AddAll(tags); err != nil {
		return nil, fmt.Errorf("object tags: %w: %w", ErrInvalidArgument, err)
	}
	if err := rec.AddAll(map[string]meta.Value{
		KeyUUID:         meta.String(id.String()),
		KeyObjectName:   meta.String(name),
		KeyObjectBucket: meta.String(b.name),
		KeyObjectType:   meta.String(typ),
	}); err != nil {
		return nil, err
	}

	return &Object{
		id:     id,
		name:   name,
		typ:    typ,
		bucket: b.name,
		data:   data,
		meta:   rec,
	}, nil
}

func (o *Object) ID() uuid.UUID  { return o.id }
func (o *Object) Name() string   { return o.name }
func (o *Object) Type() string   { return o.typ }
func (o *Object) Bucket() string { return o.bucket }
func (o *Object) Data() []byte   { return o.data }

// Meta returns a copy of the object's metadata, system fields included.
func (o *Object) Meta() map[string]meta.Value { return o.meta.All() }

// Download is an object read back from a bucket. Values handed out by the
// store may be shared through its cache and must not be modified.
type Download struct {
	Payload  []byte
	Metadata map[string]meta.Value
}

// ID returns the object's uuid from its metadata.
func (d *Download) ID() string {
	id, _ := d.Metadata[KeyUUID].Str()
	return id
}

func (d *Download) String() string {
	return fmt.Sprintf("object %s (%d bytes)", d.ID(), len(d.Payload))
}
