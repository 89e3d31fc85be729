package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/ringstore/ringstore/internal/meta"
	"github.com/ringstore/ringstore/internal/store"
)

// uploadField is the multipart form field holding the payload.
const uploadField = "object_data"

// typeTag records the object type among the caller's tags.
const typeTag = "type"

func objectKey(bucket, name, typ string) string {
	return bucket + "/" + name + "." + typ
}

// handleUpload stores the request payload as {object} ("<name>.<type>").
// The payload is the object_data form field of a multipart request, or the
// raw body otherwise.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	bucket := vars["bucket"]
	if bucket == "" {
		bucket = s.defaultBucket
	}
	name, typ, err := store.SplitObjectKey(vars["object"])
	if err != nil {
		s.storeError(w, err)
		return
	}
	if !s.route(w, objectKey(bucket, name, typ)) {
		return
	}

	tags, err := parseMetadataHeader(r.Header.Get(MetadataHeader))
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	tags[typeTag] = meta.String(typ)

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	data, err := readPayload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.jsonError(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	obj, err := s.store.Upload(r.Context(), bucket, name, typ, data, tags)
	if err != nil {
		s.storeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Object uploaded successfully",
		"uuid":    obj.ID().String(),
	})
}

func readPayload(r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		return data, nil
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, fmt.Errorf("parse multipart form: %w", err)
	}
	f, _, err := r.FormFile(uploadField)
	if err != nil {
		return nil, fmt.Errorf("form field %q: %w", uploadField, err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read form field %q: %w", uploadField, err)
	}
	return data, nil
}

func parseMetadataHeader(raw string) (map[string]meta.Value, error) {
	tags := make(map[string]meta.Value)
	if strings.TrimSpace(raw) == "" {
		return tags, nil
	}
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("invalid %s header: %w", MetadataHeader, err)
	}
	// "null" decodes without error and leaves the map nil
	if tags == nil {
		return nil, fmt.Errorf("invalid %s header: must be a JSON object", MetadataHeader)
	}
	return tags, nil
}

// handleDownload returns the payload with Content-Type "<mime>/<ext>", where
// ext is the object's "type" tag, and its metadata in the X-Metadata header.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	bucket := vars["bucket"]
	if bucket == "" {
		bucket = s.defaultBucket
	}
	name, typ := vars["name"], vars["type"]
	if !s.route(w, objectKey(bucket, name, typ)) {
		return
	}

	d, err := s.store.Download(r.Context(), bucket, name, typ)
	if err != nil {
		s.storeError(w, err)
		return
	}

	metaJSON, err := json.Marshal(d.Metadata)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ext := typ
	if v, ok := d.Metadata[typeTag]; ok {
		if tag, ok := v.Str(); ok && tag != "" {
			ext = tag
		}
	}

	w.Header().Set("Content-Type", vars["mime"]+"/"+ext)
	w.Header().Set(MetadataHeader, string(metaJSON))
	w.Header().Set("ETag", `"`+d.ID()+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(d.Payload)
}
