package handlers

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/akila/mesh-simplifier/metrics"
	"github.com/akila/mesh-simplifier/models"
	"github.com/akila/mesh-simplifier/simplifier"
	"github.com/akila/mesh-simplifier/workspace"
	"go.uber.org/zap"
)

const (
	// DownloadName is the attachment name of every successful response.
	DownloadName = "simplified.glb"
	glbMediaType = "model/gltf-binary"

	// Parts larger than this spill from memory to temporary files.
	multipartMemory = 32 << 20
)

type SimplifyHandler struct {
	workspace      *workspace.Workspace
	simplifier     simplifier.Simplifier
	maxUploadBytes int64
	metrics        *metrics.Collector
	logger         *zap.Logger
}

func NewSimplifyHandler(ws *workspace.Workspace, s simplifier.Simplifier, maxUploadBytes int64, collector *metrics.Collector, logger *zap.Logger) *SimplifyHandler {
	return &SimplifyHandler{
		workspace:      ws,
		simplifier:     s,
		maxUploadBytes: maxUploadBytes,
		metrics:        collector,
		logger:         logger.With(zap.String("component", "simplify_handler")),
	}
}

// HandleSimplify accepts one mesh upload, runs the simplifier on it and
// streams the result back as simplified.glb.
func (h *SimplifyHandler) HandleSimplify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	logger := h.logger.With(zap.String("request_id", RequestIDFromContext(r.Context())))

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
			return
		}
		if isServerFormError(err) {
			logger.Error("failed to buffer upload", zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		logger.Debug("unreadable form", zap.Error(err))
		http.Error(w, "No file uploaded", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(models.FieldFile)
	if err != nil {
		// mime/multipart files a part with an empty filename under Value.
		if _, ok := r.MultipartForm.Value[models.FieldFile]; ok {
			http.Error(w, "No file selected", http.StatusBadRequest)
			return
		}
		http.Error(w, "No file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if header.Filename == "" {
		http.Error(w, "No file selected", http.StatusBadRequest)
		return
	}

	job := models.JobRequest{
		File:      file,
		Filename:  header.Filename,
		Extension: filepath.Ext(header.Filename),
		Params:    models.ParseParams(r.MultipartForm.Value),
	}

	entry, err := h.workspace.Allocate(job.Extension)
	if err != nil {
		logger.Error("failed to allocate workspace entry", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	job.ID = entry.ID
	logger = logger.With(zap.String("job_id", job.ID))

	defer func() {
		if err := h.workspace.RemoveInput(entry); err != nil {
			logger.Warn("failed to remove input", zap.Error(err))
		}
	}()

	size, err := saveUpload(job.File, entry.InputPath)
	if err != nil {
		logger.Error("failed to save upload", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.metrics.RecordUpload(size)

	logger.Info("simplify request",
		zap.String("filename", job.Filename),
		zap.Int64("size", size),
		zap.Any("params", job.Params))

	artifact, err := h.simplifier.Simplify(r.Context(), entry.InputPath, entry.OutputPath, job.Params)
	if err != nil {
		var toolErr *simplifier.ToolError
		if errors.As(err, &toolErr) {
			http.Error(w, "Simplification failed: "+toolErr.Diagnostic(), http.StatusInternalServerError)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	logger.Info("simplify finished", zap.Duration("tool_duration", artifact.Duration))
	h.serveArtifact(w, artifact.Path, logger)
}

// isServerFormError reports whether a form parse failure came from this
// host, such as a full disk while spilling a large part to a temp file,
// rather than from a malformed request.
func isServerFormError(err error) bool {
	var (
		pathErr    *fs.PathError
		linkErr    *os.LinkError
		syscallErr *os.SyscallError
	)
	return errors.As(err, &pathErr) || errors.As(err, &linkErr) || errors.As(err, &syscallErr)
}

func saveUpload(src io.Reader, path string) (int64, error) {
	dst, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create input file: %w", err)
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("failed to write input file: %w", err)
	}
	return n, nil
}

// serveArtifact streams the output file. The file stays in the workspace.
func (h *SimplifyHandler) serveArtifact(w http.ResponseWriter, path string, logger *zap.Logger) {
	f, err := os.Open(path)
	if err != nil {
		logger.Error("failed to open result", zap.String("path", path), zap.Error(err))
		http.Error(w, fmt.Sprintf("Failed to open result: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", glbMediaType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", DownloadName))
	if info, err := f.Stat(); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f); err != nil {
		logger.Warn("failed to stream result", zap.Error(err))
	}
}
