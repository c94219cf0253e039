package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/R005ter/fwp"
	"github.com/R005ter/fwp/internal/blob"
	"github.com/R005ter/fwp/internal/credential"
	"github.com/R005ter/fwp/internal/jobs"
	"github.com/R005ter/fwp/util"
)

// presignTTL bounds how long a minted streaming URL stays valid.
const presignTTL = time.Hour

func (s *Server) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "no URL provided")
		return
	}

	result, err := s.orchestrator.Acquire(r.Context(), tenant.ID, req.URL)
	if err != nil {
		if fwp.ClassOf(err) == fwp.FailureInvalidSource {
			writeError(w, http.StatusBadRequest, "unsupported or invalid video URL")
			return
		}
		s.log.Errorw("acquire failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if result.Deduped {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "exists",
			"filename": result.Asset.StorageKey,
			"title":    result.Asset.Title,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": string(result.Job.ID)})
}

func (s *Server) handleDownloadStatus(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	job := s.jobs.Get(jobs.JobID(chi.URLParam(r, "id")))
	// A job belonging to another tenant is indistinguishable from a
	// missing one; this is where tenant isolation is enforced.
	if job == nil || job.TenantID != tenant.ID {
		writeError(w, http.StatusNotFound, "download not found")
		return
	}

	snap := job.Snapshot()
	resp := map[string]any{
		"status":   string(snap.Status),
		"progress": snap.Progress,
		"title":    snap.Title,
		"filename": nil,
		"error":    nil,
	}
	if snap.Filename != "" {
		resp["filename"] = snap.Filename
	}
	if snap.Err != "" {
		resp["error"] = snap.Err
	}
	if snap.Warning != "" {
		resp["warning"] = snap.Warning
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListLibrary(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	library, err := s.registry.List(r.Context(), tenant.ID)
	if err != nil {
		s.log.Errorw("library listing failed", "tenant_id", tenant.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, library)
}

func (s *Server) handleDeleteVideo(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	filename := chi.URLParam(r, "filename")
	if !util.ValidStorageKey(filename) {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	removed, err := s.registry.Detach(tenant.ID, filename)
	if err != nil {
		s.log.Errorw("detach failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	// Detaching may have orphaned the asset; sweep now so unreferenced
	// bytes do not linger until an operator runs the collector.
	swept, err := s.registry.Sweep()
	if err != nil {
		s.log.Errorw("sweep after detach failed", "error", err)
		swept = nil
	}
	s.registry.Purge(r.Context(), swept)

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": swept})
}

func (s *Server) handleServeVideo(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if !util.ValidStorageKey(filename) {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	if s.remote != nil {
		if ok, err := s.remote.Exists(r.Context(), filename); err == nil && ok {
			url, err := s.remote.PresignedURL(r.Context(), filename, presignTTL)
			if err == nil {
				http.Redirect(w, r, url, http.StatusFound)
				return
			}
			if !errors.Is(err, blob.ErrNoPresign) {
				s.log.Warnw("presign failed, serving local copy", "filename", filename, "error", err)
			}
		}
	}

	path := s.media.Path(filename)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleSetCookies(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	var req struct {
		Cookies string `json:"cookies"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Cookies == "" {
		writeError(w, http.StatusBadRequest, "no cookies provided")
		return
	}
	if err := s.credentials.Set(tenant.ID, []byte(req.Cookies)); err != nil {
		if errors.Is(err, credential.ErrMalformed) {
			writeError(w, http.StatusBadRequest, "cookies are not in Netscape format")
			return
		}
		s.log.Errorw("cookie store failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	version, err := s.runner.Version(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"ytdlp_available": err == nil,
		"ytdlp_version":   version,
	})
}
