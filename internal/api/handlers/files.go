package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/filedock/filedock/internal/ingest"
	"github.com/filedock/filedock/internal/metastore"
	"github.com/filedock/filedock/internal/storage"
)

type FileHandler struct {
	svc            *ingest.Service
	maxUploadBytes int64
}

func NewFileHandler(svc *ingest.Service, maxUploadBytes int64) *FileHandler {
	return &FileHandler{svc: svc, maxUploadBytes: maxUploadBytes}
}

// owner identifies the tenant scope. Authentication lives in front of this
// service; by the time a request lands here the owner header is trusted.
func owner(r *http.Request) string {
	if o := r.Header.Get("X-Owner"); o != "" {
		return o
	}
	return "default"
}

// Submit accepts a multipart upload ("file" field) or a raw body with a
// Content-Type header and a filename query parameter. It returns the file
// and job ids immediately; processing happens asynchronously.
func (h *FileHandler) Submit(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseSubmit(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	result, err := h.svc.Submit(r.Context(), *req)
	if errors.Is(err, ingest.ErrJobActive) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "file is still being processed, retry later"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, result)
}

func (h *FileHandler) parseSubmit(r *http.Request) (*ingest.SubmitRequest, error) {
	req := ingest.SubmitRequest{Owner: owner(r)}
	if p := r.URL.Query().Get("path"); p != "" {
		req.Path = &p
	}

	r.Body = http.MaxBytesReader(nil, r.Body, h.maxUploadBytes)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return nil, errors.New("invalid multipart form")
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, errors.New("file field required")
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return nil, err
		}
		req.Filename = header.Filename
		req.MIMEType = header.Header.Get("Content-Type")
		req.Data = data
		return &req, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	req.Filename = r.URL.Query().Get("filename")
	if req.Filename == "" {
		return nil, errors.New("filename query parameter required")
	}
	req.MIMEType = r.Header.Get("Content-Type")
	req.Data = data
	return &req, nil
}

func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = 50
	}

	files, err := h.svc.List(r.Context(), owner(r), limit, offset)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"files": files, "count": len(files)})
}

func (h *FileHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := fileID(w, r)
	if !ok {
		return
	}

	file, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (h *FileHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := fileID(w, r)
	if !ok {
		return
	}

	status, err := h.svc.Status(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Content streams stored bytes: ?kind=original (default), summary-document,
// or any derivative kind.
func (h *FileHandler) Content(w http.ResponseWriter, r *http.Request) {
	id, ok := fileID(w, r)
	if !ok {
		return
	}

	data, contentType, err := h.svc.Content(r.Context(), id, r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *FileHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, ok := fileID(w, r)
	if !ok {
		return
	}

	job, err := h.svc.Retry(r.Context(), id)
	if errors.Is(err, ingest.ErrNotRetryable) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "latest job is not failed"})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

type updateRequest struct {
	Path   *string `json:"path,omitempty"`
	Pinned *bool   `json:"pinned,omitempty"`
}

func (h *FileHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := fileID(w, r)
	if !ok {
		return
	}

	var req updateRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.Path != nil {
		if err := h.svc.Rename(r.Context(), id, *req.Path); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Pinned != nil {
		if err := h.svc.SetPinned(r.Context(), id, *req.Pinned); err != nil {
			writeError(w, err)
			return
		}
	}

	file, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := fileID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func fileID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid file ID"})
		return uuid.Nil, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, metastore.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "file not found"})
	case errors.Is(err, storage.ErrNotFound):
		// Treat a missing artifact as processing incomplete, not as an
		// empty file.
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "content not available: processing incomplete"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
