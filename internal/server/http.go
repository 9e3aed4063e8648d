package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/joseph-ayodele/doc-digitizer/internal/common"
)

const (
	uploadDirPrefix = "upload-"
	maxUploadBytes  = 512 << 20
	maxMemoryBytes  = 32 << 20
)

// UploadResult reports what happened to one file of a POST /process request.
type UploadResult struct {
	Filename string     `json:"filename"`
	TaskID   string     `json:"task_id,omitempty"`
	Status   TaskStatus `json:"status"`
	Detail   string     `json:"detail,omitempty"`
}

type processResponse struct {
	Message string         `json:"message"`
	Files   []UploadResult `json:"files"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type httpHandler struct {
	svc    *PipelineService
	logger *slog.Logger
}

// NewRouter serves the upload API:
//
//	GET  /            welcome
//	POST /process     multipart upload ("files" or "file"), 202 with task ids
//	GET  /tasks/{id}  task status
func NewRouter(svc *PipelineService, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &httpHandler{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/", h.handleRoot)
	r.Post("/process", h.handleProcess)
	r.Get("/tasks/{id}", h.handleTask)
	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := middleware.GetReqID(r.Context())
			r = r.WithContext(common.WithRequestID(r.Context(), reqID))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http.request",
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

func (h *httpHandler) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Document digitizer API. POST PDF, Markdown or text files to /process.",
	})
}

func (h *httpHandler) handleProcess(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxMemoryBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid multipart form: " + err.Error()})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	var headers []*multipart.FileHeader
	headers = append(headers, r.MultipartForm.File["files"]...)
	headers = append(headers, r.MultipartForm.File["file"]...)
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "no files uploaded"})
		return
	}

	results := make([]UploadResult, 0, len(headers))
	accepted := 0
	for _, fh := range headers {
		res := h.accept(r, fh)
		if res.TaskID != "" {
			accepted++
		}
		results = append(results, res)
	}

	if accepted == 0 {
		writeJSON(w, http.StatusBadRequest, processResponse{Message: "no files accepted", Files: results})
		return
	}
	writeJSON(w, http.StatusAccepted, processResponse{
		Message: fmt.Sprintf("%d file(s) queued", accepted),
		Files:   results,
	})
}

// accept stores one upload under its own directory so the original base
// name survives, then queues it.
func (h *httpHandler) accept(r *http.Request, fh *multipart.FileHeader) UploadResult {
	name := filepath.Base(fh.Filename)
	res := UploadResult{Filename: name, Status: TaskRejected}
	if name == "." || name == string(filepath.Separator) {
		res.Detail = "missing filename"
		return res
	}
	if _, ok := KindFor(name); !ok {
		res.Detail = ErrUnsupportedType.Error()
		return res
	}

	path, err := h.save(fh, name)
	if err != nil {
		h.logger.Error("http.upload.save_failed", "filename", name, "error", err)
		res.Detail = "could not store upload"
		return res
	}
	t, err := h.svc.Submit(r.Context(), path, true)
	if err != nil {
		h.logger.Error("http.upload.submit_failed", "filename", name, "error", err)
		res.Status = TaskFailed
		res.Detail = err.Error()
		return res
	}
	res.TaskID, res.Status = t.ID, t.Status
	return res
}

func (h *httpHandler) save(fh *multipart.FileHeader, name string) (string, error) {
	if err := os.MkdirAll(h.svc.uploadDir, 0o755); err != nil {
		return "", err
	}
	dir, err := os.MkdirTemp(h.svc.uploadDir, uploadDirPrefix+"*")
	if err != nil {
		return "", err
	}
	src, err := fh.Open()
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	defer src.Close()

	path := filepath.Join(dir, name)
	dst, err := os.Create(path)
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.RemoveAll(dir)
		return "", err
	}
	if err := dst.Close(); err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	return path, nil
}

func (h *httpHandler) handleTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, ok := h.svc.Tasks().Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "task not found"})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
