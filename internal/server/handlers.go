package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	zerrors "github.com/zenoss/zenoss-zep-sub000/internal/errors"
	"github.com/zenoss/zenoss-zep-sub000/internal/event"
	"github.com/zenoss/zenoss-zep-sub000/internal/query"
)

const (
	maxBodyBytes = 32 << 20

	defaultSavedSearchTimeout = time.Minute
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var events []*event.Summary
	if !decodeBody(w, r, &events) {
		return
	}
	for i, e := range events {
		if e == nil || e.UUID == "" {
			writeError(w, 0, zerrors.ValidationError("event "+strconv.Itoa(i)+" has no uuid", nil))
			return
		}
	}
	if len(events) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if s.events != nil {
		if err := s.events.Put(r.Context(), events); err != nil {
			writeError(w, 0, err)
			return
		}
	}
	if err := s.idx.IndexMany(r.Context(), events); err != nil {
		writeError(w, 0, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"indexed": len(events)})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.idx.Delete(r.Context(), mux.Vars(r)["uuid"]); err != nil {
		writeError(w, 0, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]
	e, err := s.idx.FindByUUID(r.Context(), uuid)
	if err != nil {
		writeError(w, 0, err)
		return
	}
	if e == nil {
		writeError(w, http.StatusNotFound, errNotFound("event not found: "+uuid))
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var req event.Request
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.idx.List(r.Context(), &req)
	if err != nil {
		writeError(w, 0, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListUUIDs(w http.ResponseWriter, r *http.Request) {
	var req event.Request
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.idx.ListUUIDs(r.Context(), &req)
	if err != nil {
		writeError(w, 0, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	if err := s.idx.Commit(r.Context()); err != nil {
		writeError(w, 0, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.idx.Clear(r.Context()); err != nil {
		writeError(w, 0, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePurge takes threshold as epoch milliseconds or RFC 3339.
func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("threshold")
	threshold, err := parseTime(raw)
	if err != nil {
		writeError(w, 0, zerrors.ValidationError("threshold must be epoch milliseconds or RFC 3339, got "+strconv.Quote(raw), err))
		return
	}
	if err := s.idx.Purge(r.Context(), threshold); err != nil {
		writeError(w, 0, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseTime(raw string) (time.Time, error) {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Parse(time.RFC3339, raw)
}

func (s *Server) handleTagSeverities(w http.ResponseWriter, r *http.Request) {
	var filter query.Filter
	if !decodeBody(w, r, &filter) {
		return
	}
	res, err := s.idx.TagSeverities(r.Context(), &filter)
	if err != nil {
		writeError(w, 0, err)
		return
	}
	if res == nil {
		res = []event.TagSeverities{}
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCreateSavedSearch takes the request as the body and an optional
// ?timeout= duration.
func (s *Server) handleCreateSavedSearch(w http.ResponseWriter, r *http.Request) {
	timeout := defaultSavedSearchTimeout
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			writeError(w, 0, zerrors.New(zerrors.ErrCodeInvalidTimeout, "invalid timeout "+strconv.Quote(raw), err))
			return
		}
		timeout = d
	}
	var req event.Request
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := s.idx.CreateSavedSearch(r.Context(), &req, timeout)
	if err != nil {
		writeError(w, 0, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// handleSavedSearch pages a saved search. ?uuids=true returns uuids only.
func (s *Server) handleSavedSearch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	q := r.URL.Query()
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		writeError(w, 0, err)
		return
	}
	limit, err := intParam(q.Get("limit"), event.DefaultLimit)
	if err != nil {
		writeError(w, 0, err)
		return
	}

	if uuids, _ := strconv.ParseBool(q.Get("uuids")); uuids {
		res, err := s.idx.SavedSearchUUIDs(r.Context(), id, offset, limit)
		if err != nil {
			writeError(w, 0, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	res, err := s.idx.SavedSearch(r.Context(), id, offset, limit)
	if err != nil {
		writeError(w, 0, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, zerrors.ValidationError("expected a non-negative integer, got "+strconv.Quote(raw), err)
	}
	return n, nil
}

func (s *Server) handleDeleteSavedSearch(w http.ResponseWriter, r *http.Request) {
	if err := s.idx.DeleteSavedSearch(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, 0, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.idx.ForceRebuild(r.Context(), id); err != nil {
		writeError(w, 0, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"backend": id, "rebuild": "started"})
}

type statusResponse struct {
	Name     string `json:"name"`
	Reader   string `json:"reader"`
	Backends any    `json:"backends"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Name:     s.idx.Name(),
		Reader:   s.idx.ReaderID(),
		Backends: s.idx.Status(r.Context()),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		writeError(w, 0, zerrors.ValidationError("invalid request body: "+err.Error(), err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
