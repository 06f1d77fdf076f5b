package upload

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"mediavault/internal/pkg/logger"
	"mediavault/internal/pkg/mediatype"
	"mediavault/internal/pkg/response"
	"mediavault/internal/pkg/validator"
)

// Handler exposes the ingest pipeline over HTTP.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger.With(slog.String("component", "upload_handler"))}
}

// Upload stores a file as received. With ?optimize=true it behaves like
// UploadWeb.
//
// POST /upload (multipart field "file")
func (h *Handler) Upload(c *gin.Context) {
	if optimize, _ := strconv.ParseBool(c.Query("optimize")); optimize {
		h.ingest(c, ModeWeb)
		return
	}
	h.ingest(c, ModePlain)
}

// UploadWeb stores a file after web optimization.
//
// POST /upload/web (multipart field "file", optional quality, max_width,
// max_height, preserve_alpha, video_quality)
func (h *Handler) UploadWeb(c *gin.Context) {
	h.ingest(c, ModeWeb)
}

func (h *Handler) ingest(c *gin.Context, mode Mode) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		if isBodyTooLarge(err) {
			response.Error(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE",
				fmt.Sprintf("request body exceeds %d bytes", h.service.MaxUploadBytes()))
			return
		}
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "no file provided")
		return
	}

	req := IngestRequest{
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Mode:        mode,
	}

	if mode == ModeWeb {
		var form optimizeForm
		if err := c.ShouldBindQuery(&form); err != nil {
			response.Error(c, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
			return
		}
		if err := c.ShouldBindWith(&form, binding.FormMultipart); err != nil {
			response.Error(c, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
			return
		}
		if errs := validator.Validate(form); errs != nil {
			response.ErrorWithDetails(c, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid optimization options", errs)
			return
		}
		req.Options = form.options()
	}

	f, err := fileHeader.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "cannot read uploaded file")
		return
	}
	defer f.Close()

	// one byte past the cap is enough for the validator to reject it
	limit := h.service.MaxUploadBytes()
	var r io.Reader = f
	if limit > 0 {
		r = io.LimitReader(f, limit+1)
	}
	req.Data, err = io.ReadAll(r)
	if err != nil {
		if isBodyTooLarge(err) {
			response.Error(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "file exceeds maximum allowed size")
			return
		}
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "cannot read uploaded file")
		return
	}

	rec, err := h.service.Ingest(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, NewDescriptor(rec))
}

// List returns one page of descriptors.
//
// GET /list?page=1&per_page=10&file_type=image
func (h *Handler) List(c *gin.Context) {
	q := listQuery{Page: 1, PerPage: DefaultPerPage}
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}
	if errs := validator.Validate(q); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid list query", errs)
		return
	}

	res, err := h.service.List(c.Request.Context(), q.Page, q.PerPage, q.FileType)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, NewListResponse(res))
}

// Info returns the descriptor for a record id.
//
// GET /info/:id
func (h *Handler) Info(c *gin.Context) {
	rec, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, NewDescriptor(rec))
}

// Serve streams a stored file. The route is public.
//
// GET /files/:filename
func (h *Handler) Serve(c *gin.Context) {
	res, err := h.service.Fetch(c.Request.Context(), c.Param("filename"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	disposition := dispositionFor(res.Record.ContentType)
	if v := mime.FormatMediaType(disposition, map[string]string{"filename": res.Record.OriginalName}); v != "" {
		disposition = v
	}
	c.Header("Content-Disposition", disposition)
	c.Header("X-Content-Type-Options", "nosniff")
	if mediatype.Base(res.Record.ContentType) != "application/pdf" {
		c.Header("Content-Security-Policy", "default-src 'none'; sandbox")
	}
	c.Data(http.StatusOK, res.Record.ContentType, res.Data)
}

// DeleteByID removes a file by record id.
//
// DELETE /remove/:id
func (h *Handler) DeleteByID(c *gin.Context) {
	if err := h.service.DeleteByID(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "deleted"})
}

// DeleteByName removes a file by stored name.
//
// DELETE /files/:filename
func (h *Handler) DeleteByName(c *gin.Context) {
	if err := h.service.DeleteByStoredName(c.Request.Context(), c.Param("filename")); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "deleted"})
}

// Health reports ledger connectivity and transcoder availability.
//
// GET /health
func (h *Handler) Health(c *gin.Context) {
	health := h.service.Health(c.Request.Context())
	body := gin.H{
		"status":      "ok",
		"ledger":      "ok",
		"transcoding": health.Transcoding,
	}
	if health.Ledger != nil {
		h.logger.Error("ledger health check failed", logger.Error(health.Ledger))
		body["status"] = "degraded"
		body["ledger"] = "unavailable"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrFileTooLarge):
		response.Error(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", err.Error())
	case errors.Is(err, ErrTypeNotAllowed):
		response.Error(c, http.StatusUnsupportedMediaType, "TYPE_NOT_ALLOWED", err.Error())
	case errors.Is(err, ErrValidation):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, ErrInvalidArgument):
		response.Error(c, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
	case errors.Is(err, ErrProcessing):
		response.Error(c, http.StatusUnprocessableEntity, "PROCESSING_ERROR", err.Error())
	case errors.Is(err, ErrNotFound):
		response.Error(c, http.StatusNotFound, "NOT_FOUND", "file not found")
	case errors.Is(err, ErrConsistency):
		h.logger.Error("request hit consistency fault", slog.String("path", c.Request.URL.Path), logger.Error(err))
		response.Error(c, http.StatusInternalServerError, "CONSISTENCY_FAULT", "file is recorded but missing from storage")
	default:
		h.logger.Error("request failed", slog.String("path", c.Request.URL.Path), logger.Error(err))
		response.Error(c, http.StatusInternalServerError, "STORAGE_ERROR", "internal storage failure")
	}
}

// dispositionFor returns "inline" only for types a browser renders without
// running scripts; markup and everything else is downloaded.
func dispositionFor(contentType string) string {
	base := mediatype.Base(contentType)
	switch {
	case base == "application/pdf", base == "text/plain":
		return "inline"
	case mediatype.Categorize(base) == mediatype.Video:
		return "inline"
	case mediatype.Categorize(base) == mediatype.Image && !mediatype.IsVector(base):
		return "inline"
	}
	return "attachment"
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
