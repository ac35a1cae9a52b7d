package scan

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
)

const maxUploadSize = int64(50 << 20) // high-resolution phone photos

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// jsonError writes a JSON error body
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// scanErrorStatus maps service errors to HTTP statuses
func scanErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrScanNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrScanNotPending):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidCode), errors.Is(err, ErrUnreadableImage):
		return http.StatusBadRequest
	case errors.Is(err, ErrRecognitionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

// handleListScans returns the scan history, newest first
func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	scans, err := s.service.ListScans(0)
	if err != nil {
		slog.Error("Error listing scans", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, scans)
}

// detectContentType falls back to the file extension when the part has no type
func detectContentType(declared, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(declared))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleUploadScan reads the code from an uploaded wrapper photo
func (s *Server) handleUploadScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorMsg = "File is too large. Maximum size is 50MB."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		jsonError(w, "No file was selected. Please choose a photo to upload.", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	contentType := detectContentType(header.Header.Get("Content-Type"), header.Filename)

	scan, err := s.service.ScanImage(r.Context(), header.Filename, data, contentType)
	if err != nil {
		slog.Error("Error scanning image", "filename", header.Filename, "error", err)
		status := scanErrorStatus(err)
		message := err.Error()
		if status == http.StatusInternalServerError {
			message = "Internal server error"
		}
		jsonError(w, message, status)
		return
	}

	writeJSON(w, http.StatusCreated, scan)
}

// handleGetScan returns a single scan
func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	scan, err := s.service.GetScan(r.PathValue("id"))
	if err != nil {
		corsError(w, "Scan not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, scan)
}

// handleGetScanImage returns the photo a scan was read from
func (s *Server) handleGetScanImage(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetScanImage(r.PathValue("id"))
	if err != nil {
		corsError(w, "Image not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleConfirmScan submits the code of a pending scan
func (s *Server) handleConfirmScan(w http.ResponseWriter, r *http.Request) {
	scan, err := s.service.ConfirmScan(r.Context(), r.PathValue("id"))
	if err != nil {
		slog.Error("Error confirming scan", "id", r.PathValue("id"), "error", err)
		jsonError(w, err.Error(), scanErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, scan)
}

// handleDeclineScan closes a pending scan without submitting it
func (s *Server) handleDeclineScan(w http.ResponseWriter, r *http.Request) {
	scan, err := s.service.DeclineScan(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), scanErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, scan)
}

// handleDeleteScan deletes a scan and its image
func (s *Server) handleDeleteScan(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteScan(r.PathValue("id")); err != nil {
		status := scanErrorStatus(err)
		if status == http.StatusInternalServerError {
			slog.Error("Error deleting scan", "error", err)
		}
		corsError(w, "Error deleting scan", status)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleSubmitCode submits a code typed by hand
func (s *Server) handleSubmitCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	scan, err := s.service.SubmitCode(r.Context(), req.Code)
	if err != nil {
		slog.Error("Error submitting code", "error", err)
		jsonError(w, err.Error(), scanErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, scan)
}
