package server

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

func (s *Server) registerBucketHandlers(r *mux.Router) {
	r.HandleFunc("/buckets", s.handleListBuckets).Methods(http.MethodGet)
	r.HandleFunc("/buckets/{bucket}", s.handleCreateBucket).Methods(http.MethodPut, http.MethodPost)
	r.HandleFunc("/buckets/{bucket}", s.handleDeleteBucket).Methods(http.MethodDelete)
	r.HandleFunc("/buckets/{bucket}", s.handleBucketMeta).Methods(http.MethodGet)
	r.HandleFunc("/buckets/{bucket}/objects", s.handleListObjects).Methods(http.MethodGet)
}

func (s *Server) handleListBuckets(w http.ResponseWriter, _ *http.Request) {
	names, err := s.store.ListBuckets()
	if err != nil {
		s.storeError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"buckets": names})
}

// handleCreateBucket creates {bucket}; ?private=true makes it private.
func (s *Server) handleCreateBucket(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["bucket"]
	private := false
	if v := r.URL.Query().Get("private"); v != "" {
		var err error
		if private, err = strconv.ParseBool(v); err != nil {
			s.jsonError(w, "invalid private flag", http.StatusBadRequest)
			return
		}
	}

	b, err := s.store.CreateBucket(name, private)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b.Meta())
}

func (s *Server) handleDeleteBucket(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteBucket(mux.Vars(r)["bucket"]); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBucketMeta(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.Bucket(mux.Vars(r)["bucket"])
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b.Meta())
}

func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.Bucket(mux.Vars(r)["bucket"])
	if err != nil {
		s.storeError(w, err)
		return
	}
	refs, err := b.Objects()
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bucket": b.Name(), "objects": refs})
}
