package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/abhisek/learndebug/internal/diagnosis"
	"github.com/abhisek/learndebug/internal/extract"
	"github.com/abhisek/learndebug/internal/store"
)

const (
	msgRateLimited     = "AI Service is currently busy (Rate Limit Exceeded). Please try again in a minute."
	msgUnavailable     = "AI Service is temporarily overloaded. Please try again shortly."
	msgDiagnoseFailed  = "Failed to generate diagnosis. Please try again."
	msgHistoryFailed   = "Failed to fetch history"
	msgSessionFailed   = "Failed to fetch session"
	msgDeleteFailed    = "Failed to delete diagnostic"
	msgDeleted         = "Diagnostic deleted"
	msgInvalidID       = "Invalid ID"
	msgUnsupportedFile = "Unsupported file type. Upload a PDF, an image or a DOCX document."

	// multipartOverhead leaves room for form fields around the file.
	multipartOverhead = 1 << 20
)

var errModelNotConfigured = errors.New("model provider not configured")

type handlers struct {
	diagnoser      Diagnoser
	diagnoses      store.DiagnosisRepo
	production     bool
	maxUploadBytes int64
}

func (h *handlers) health(c *gin.Context) {
	modelStatus := "disconnected"
	if h.diagnoser != nil {
		modelStatus = "connected"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"gemini_status": modelStatus,
		"timestamp":     time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (h *handlers) diagnose(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)

	var in diagnosis.Input
	if err := c.ShouldBindWith(&in, bindingFor(c)); err != nil {
		h.badRequestForBody(c, err)
		return
	}

	att, ok := h.readAttachment(c)
	if !ok {
		return
	}
	in.Attachment = att

	if h.diagnoser == nil {
		h.diagnosisError(c, &diagnosis.Error{Kind: diagnosis.KindFailed, Err: errModelNotConfigured})
		return
	}

	res, err := h.diagnoser.Run(c.Request.Context(), in)
	if err != nil {
		h.diagnosisError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func bindingFor(c *gin.Context) binding.Binding {
	if strings.HasPrefix(c.ContentType(), gin.MIMEMultipartPOSTForm) {
		return binding.FormMultipart
	}
	return binding.Form
}

// readAttachment returns the optional "file" part. It writes a 400 and
// returns false when the upload is unacceptable.
func (h *handlers) readAttachment(c *gin.Context) (*extract.Attachment, bool) {
	if !strings.HasPrefix(c.ContentType(), gin.MIMEMultipartPOSTForm) {
		return nil, true
	}
	fh, err := c.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, true
	}
	if err != nil {
		h.badRequestForBody(c, err)
		return nil, false
	}
	if fh.Size > h.maxUploadBytes {
		h.fileTooLarge(c)
		return nil, false
	}

	f, err := fh.Open()
	if err != nil {
		h.fail(c, http.StatusBadRequest, "Failed to read uploaded file", "file", err)
		return nil, false
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.maxUploadBytes+1))
	if err != nil {
		h.fail(c, http.StatusBadRequest, "Failed to read uploaded file", "file", err)
		return nil, false
	}
	if int64(len(data)) > h.maxUploadBytes {
		h.fileTooLarge(c)
		return nil, false
	}

	mediaType := extract.ResolveMediaType(fh.Header.Get("Content-Type"), data)
	if !extract.Supported(mediaType) {
		h.fail(c, http.StatusBadRequest, msgUnsupportedFile, "file", fmt.Errorf("media type %q", mediaType))
		return nil, false
	}
	return &extract.Attachment{Filename: fh.Filename, MediaType: mediaType, Data: data}, true
}

func (h *handlers) badRequestForBody(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.fileTooLarge(c)
		return
	}
	h.fail(c, http.StatusBadRequest, "Invalid request body", "", err)
}

func (h *handlers) fileTooLarge(c *gin.Context) {
	msg := fmt.Sprintf("File is too large (max %s)", formatSize(h.maxUploadBytes))
	h.fail(c, http.StatusBadRequest, msg, "file", nil)
}

// formatSize renders n in the largest unit that divides it evenly.
func formatSize(n int64) string {
	switch {
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%d MB", n>>20)
	case n >= 1<<10 && n%(1<<10) == 0:
		return fmt.Sprintf("%d KB", n>>10)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

// diagnosisError maps pipeline failures to status codes.
func (h *handlers) diagnosisError(c *gin.Context, err error) {
	var de *diagnosis.Error
	if !errors.As(err, &de) {
		de = &diagnosis.Error{Kind: diagnosis.KindFailed, Err: err}
	}

	switch de.Kind {
	case diagnosis.KindInputValidation:
		h.fail(c, http.StatusBadRequest, de.Err.Error(), de.Field, nil)
	case diagnosis.KindRateLimited:
		h.fail(c, http.StatusTooManyRequests, msgRateLimited, "", de)
	case diagnosis.KindUnavailable:
		h.fail(c, http.StatusServiceUnavailable, msgUnavailable, "", de)
	default:
		h.fail(c, http.StatusInternalServerError, msgDiagnoseFailed, "", de)
	}
}

func (h *handlers) history(c *gin.Context) {
	rows, err := h.diagnoses.ListByUser(c.Request.Context(), c.Param("userId"), store.DefaultHistoryLimit)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, msgHistoryFailed, "", err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *handlers) session(c *gin.Context) {
	rows, err := h.diagnoses.ListBySession(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		h.fail(c, http.StatusInternalServerError, msgSessionFailed, "", err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *handlers) deleteDiagnostic(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.fail(c, http.StatusBadRequest, msgInvalidID, "id", nil)
		return
	}
	if err := h.diagnoses.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, http.StatusInternalServerError, msgDeleteFailed, "", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msgDeleted})
}

// fail writes {message, field?, error?}. Error detail is only exposed
// outside production.
func (h *handlers) fail(c *gin.Context, status int, message, field string, err error) {
	body := gin.H{"message": message}
	if field != "" {
		body["field"] = field
	}
	if err != nil {
		_ = c.Error(err)
		if !h.production {
			body["error"] = err.Error()
		}
	}
	c.AbortWithStatusJSON(status, body)
}
