package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/zombor/taxi-receipts/internal/scanning"
)

// maxFormSize bounds an upload of two high-resolution phone photos
const maxFormSize = int64(50 << 20)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// jsonError writes {"error": message} with the given status
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Error encoding response", "error", err)
	}
}

// handleHealth reports liveness without authentication
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleExtract runs one uploaded front photo and optional back photo
// through the extraction pipeline
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		s.logger.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorMsg = "Upload is too large. Maximum size is 50MB."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}

	front, err := formImage(r, "front")
	if err != nil {
		s.logger.Error("Error getting front image from form", "error", err)
		errorMsg := "Error reading front image"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "A front image is required."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}

	var back *Image
	img, err := formImage(r, "back")
	switch {
	case err == nil:
		back = &img
	case !errors.Is(err, http.ErrMissingFile):
		s.logger.Error("Error getting back image from form", "error", err)
		jsonError(w, "Error reading back image", http.StatusBadRequest)
		return
	}

	result, err := s.service.Extract(r.Context(), front, back)
	if err != nil {
		s.logger.Error("Error extracting receipt", "front", front.Path, "error", err)
		var extractionErr *ExtractionError
		if errors.As(err, &extractionErr) {
			jsonError(w, err.Error(), http.StatusBadGateway)
			return
		}
		jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if result.Warnings == nil {
		result.Warnings = []Warning{}
	}
	s.writeJSON(w, http.StatusOK, result)
}

// formImage reads one uploaded photo from a parsed multipart form
func formImage(r *http.Request, field string) (Image, error) {
	f, header, err := r.FormFile(field)
	if err != nil {
		return Image{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return Image{}, err
	}

	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = scanning.ContentTypeFromFilename(header.Filename)
	}

	return Image{
		Path:        header.Filename,
		Data:        data,
		ContentType: contentType,
	}, nil
}

// handleListRuns returns a list of all runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.service.ListRuns()
	if err != nil {
		s.logger.Error("Error listing runs", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Ensure we always return an array, not nil
	if runs == nil {
		runs = []*Run{}
	}
	s.writeJSON(w, http.StatusOK, runs)
}

// handleGetRun returns a single run with its records
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.service.GetRun(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			corsError(w, "Run not found", http.StatusNotFound)
			return
		}
		s.logger.Error("Error getting run", "id", id, "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// handleDeleteRun removes a run and its export
func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.service.DeleteRun(id); err != nil {
		if errors.Is(err, ErrNotFound) {
			corsError(w, "Run not found", http.StatusNotFound)
			return
		}
		s.logger.Error("Error deleting run", "id", id, "error", err)
		corsError(w, "Error deleting run", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleGetRunExport returns the CSV written by a run
func (s *Server) handleGetRunExport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, name, err := s.service.GetRunExport(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			corsError(w, "Export not found", http.StatusNotFound)
			return
		}
		s.logger.Error("Error getting run export", "id", id, "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Write(data)
}
