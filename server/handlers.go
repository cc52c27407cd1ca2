package server

import (
	"encoding/json"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/teranos/smartcache/download"
	"github.com/teranos/smartcache/errors"
)

// downloadView is the JSON shape of one job in listings
type downloadView struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	SourceName    string `json:"source_name"`
	SourceType    string `json:"source_type"`
	Status        string `json:"status"`
	FileURL       string `json:"file_url,omitempty"`
	FileSizeBytes int64  `json:"file_size_bytes,omitempty"`
	ErrorDetail   string `json:"error_detail,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func viewOf(job *download.Job) downloadView {
	v := downloadView{
		ID:            job.ID,
		Title:         job.Title,
		SourceName:    job.SourceName,
		SourceType:    job.SourceKind,
		Status:        string(job.Status),
		FileSizeBytes: job.FileSizeBytes,
		ErrorDetail:   job.ErrorDetail,
		CreatedAt:     job.CreatedAt.Format(time.RFC3339),
	}
	if job.Status == download.StatusReady {
		v.FileURL = "/api/downloads/" + job.ID + "/file"
	}
	return v
}

// handleListDownloads returns the caller's jobs, newest first
func (s *Server) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user, err := s.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	jobs, err := s.jobs.ListByUser(r.Context(), user.ID, limit)
	if err != nil {
		s.logger.Errorw("failed to list downloads", "user_id", user.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	views := make([]downloadView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, viewOf(job))
	}

	counts, err := s.jobs.CountsByStatus(r.Context(), user.ID)
	if err != nil {
		s.logger.Errorw("failed to count downloads", "user_id", user.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"downloads": views,
		"summary": map[string]interface{}{
			"total_downloads": counts.Total(),
			"queued":          counts.Queued,
			"downloading":     counts.Downloading,
			"ready":           counts.Ready,
			"failed":          counts.Failed,
		},
	})
}

// handleDownloadFile streams a finished download to its owner.
// Path shape: /api/downloads/{id}/file
func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/downloads/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "file" || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	jobID := parts[0]

	user, err := s.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		if errors.IsNotFound(err) {
			http.NotFound(w, r)
			return
		}
		s.logger.Errorw("failed to load job", "job_id", jobID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// Ownership is checked before readiness so another user's job id
	// behaves exactly like a missing one
	if job.UserID != user.ID {
		http.NotFound(w, r)
		return
	}
	if job.Status != download.StatusReady || job.LocalPath == "" {
		http.Error(w, "download not ready", http.StatusConflict)
		return
	}

	f, err := os.Open(job.LocalPath)
	if err != nil {
		s.logger.Errorw("ready job missing its file",
			"job_id", jobID,
			"path", job.LocalPath,
			"error", err)
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentTypeFor(job.LocalPath))
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filepath.Base(job.LocalPath)+"\"")
	http.ServeContent(w, r, filepath.Base(job.LocalPath), info.ModTime(), f)
}

// contentTypeFor infers a content type from the file extension
func contentTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".ogg":
		return "audio/ogg"
	case ".wav":
		return "audio/wav"
	case ".pdf":
		return "application/pdf"
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
