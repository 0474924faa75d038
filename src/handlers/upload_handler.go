package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/00vip7-stack/hedge-dashboard/src/logger"
	"github.com/00vip7-stack/hedge-dashboard/src/security/validation"
	"github.com/00vip7-stack/hedge-dashboard/src/services"
	"github.com/00vip7-stack/hedge-dashboard/src/utils"
	"github.com/spf13/cast"
)

const maxCommentLength = 1000

type UploadHandler struct {
	uploads        services.UploadProcessor
	maxUploadBytes int64
}

func NewUploadHandler(uploads services.UploadProcessor, maxUploadBytes int64) *UploadHandler {
	return &UploadHandler{uploads: uploads, maxUploadBytes: maxUploadBytes}
}

// HandleUpload accepts one or more multipart "file" parts. A single file
// returns its RunResult; several files return a BatchResult.
func (h *UploadHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		log.Warn("Failed to parse multipart form or request too large", "error", err, "limit", h.maxUploadBytes)
		utils.SendJSONError(w, fmt.Sprintf("Failed to parse form or request too large (max %d MB)", h.maxUploadBytes/(1024*1024)), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		utils.SendJSONError(w, "Failed to retrieve file from request. Ensure 'file' field is used.", http.StatusBadRequest)
		return
	}

	approve, err := optionalBool(r.FormValue("approve"))
	if err != nil {
		utils.SendJSONError(w, "approve must be true or false", http.StatusBadRequest)
		return
	}
	comment := strings.TrimSpace(r.FormValue("comment"))
	if runes := []rune(comment); len(runes) > maxCommentLength {
		comment = string(runes[:maxCommentLength])
	}
	customerID := strings.TrimSpace(r.FormValue("customerId"))

	uploads := make([]services.Upload, 0, len(headers))
	for _, fh := range headers {
		up, err := h.readUpload(fh)
		if err != nil {
			log.Warn("Upload rejected", "filename", fh.Filename, "error", err)
			sendError(w, r, err)
			return
		}
		up.UserID = userID
		up.CustomerID = customerID
		up.Approve = approve
		up.Comment = comment
		if ms, err := cast.ToInt64E(r.FormValue("lastModified")); err == nil && ms > 0 {
			up.LastModified = time.UnixMilli(ms).UTC()
		}
		uploads = append(uploads, up)
	}

	if len(uploads) == 1 {
		log.Info("Processing upload request", "filename", uploads[0].Filename)
		result, err := h.uploads.Process(r.Context(), uploads[0])
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("Upload abandoned by client", "filename", uploads[0].Filename)
				return
			}
			log.Warn("Upload processing failed", "filename", uploads[0].Filename, "error", err)
			sendRunError(w, r, err, result)
			return
		}
		utils.SendJSON(w, result, http.StatusOK)
		return
	}

	log.Info("Processing batch upload request", "files", len(uploads))
	batch, err := h.uploads.ProcessBatch(r.Context(), uploads)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("Batch upload abandoned by client", "files", len(uploads))
			return
		}
		sendError(w, r, err)
		return
	}
	utils.SendJSON(w, batch, http.StatusOK)
}

func (h *UploadHandler) readUpload(fh *multipart.FileHeader) (services.Upload, error) {
	if fh.Size > h.maxUploadBytes {
		return services.Upload{}, fmt.Errorf("%w: file too large, max %d MB", validation.ErrUnsupportedFile, h.maxUploadBytes/(1024*1024))
	}
	contentType := fh.Header.Get("Content-Type")
	if err := validation.ValidateClientContentType(contentType); err != nil {
		return services.Upload{}, err
	}

	file, err := fh.Open()
	if err != nil {
		return services.Upload{}, fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer file.Close()

	if _, err := validation.ValidateFileContentByMagicBytes(file); err != nil {
		return services.Upload{}, err
	}
	content, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		return services.Upload{}, fmt.Errorf("failed to read uploaded file: %w", err)
	}
	return services.Upload{Filename: fh.Filename, ContentType: contentType, Content: content}, nil
}

func optionalBool(s string) (*bool, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	v, err := cast.ToBoolE(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// HandleGetLatest returns the caller's most recent successful run, with ETag support.
func (h *UploadHandler) HandleGetLatest(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	result, found := h.uploads.LatestResult(userID)
	if !found {
		utils.SendJSONError(w, "no recent upload for this user", http.StatusNotFound)
		return
	}

	writeWithETag(w, r, result)
	log.Debug("Latest run result served", "runID", result.RunID)
}

// writeWithETag answers 304 when If-None-Match carries the current ETag.
func writeWithETag(w http.ResponseWriter, r *http.Request, v any) {
	log := logger.FromContext(r.Context())
	w.Header().Set("Cache-Control", "no-cache, private")

	currentETag, err := utils.GenerateETag(v)
	if err != nil || currentETag == "" {
		log.Warn("Proceeding without ETag check due to ETag generation error", "error", err)
		utils.SendJSON(w, v, http.StatusOK)
		return
	}
	quotedETag := fmt.Sprintf("\"%s\"", currentETag)
	w.Header().Set("ETag", quotedETag)
	for _, cETag := range strings.Split(r.Header.Get("If-None-Match"), ",") {
		if strings.TrimSpace(cETag) == quotedETag {
			log.Debug("ETag match", "etag", currentETag)
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	utils.SendJSON(w, v, http.StatusOK)
}
