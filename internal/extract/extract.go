// Package extract turns an uploaded attachment into something the model
// can consume: inline bytes for images and PDFs, plain text for Word
// documents, or nothing at all.
package extract

import (
	"context"
	"fmt"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/abhisek/learndebug/internal/logger"
)

const (
	MediaTypePDF  = "application/pdf"
	MediaTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// Kind says how a Resource reaches the model.
type Kind string

const (
	KindEmpty  Kind = "empty"
	KindInline Kind = "inline"
	KindText   Kind = "text"
)

// Attachment is an uploaded file as received at the boundary.
type Attachment struct {
	Filename  string
	MediaType string
	Data      []byte
}

// Resource is the model-ready form of an Attachment.
type Resource struct {
	Kind      Kind
	Filename  string
	MediaType string

	// Data holds the untouched bytes for KindInline.
	Data []byte

	// Text holds extracted text for KindText.
	Text string

	// Failed reports that text extraction was attempted and failed.
	Failed bool
}

// PromptNote is the text appended to the user prompt for this resource.
func (r Resource) PromptNote() string {
	switch {
	case r.Failed:
		return fmt.Sprintf("[Attached File: %s - Text extraction failed]", r.Filename)
	case r.Kind == KindInline:
		return fmt.Sprintf("[Attached File: %s (%s)]", r.Filename, r.MediaType)
	case r.Kind == KindText:
		return fmt.Sprintf("[Attached File Content (%s)]:\n%s\n[End of File Content]", r.Filename, r.Text)
	default:
		return ""
	}
}

// Extractor converts attachments into resources.
type Extractor struct {
	pdfAsText bool
	log       *logger.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithPDFAsText extracts PDF text instead of passing the file inline,
// for providers that cannot read inline documents.
func WithPDFAsText(enabled bool) Option {
	return func(e *Extractor) { e.pdfAsText = enabled }
}

// WithLogger sets the logger used for extraction failures.
func WithLogger(l *logger.Logger) Option {
	return func(e *Extractor) { e.log = l }
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{log: logger.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract never fails: unsupported types yield an empty resource and
// failed text extraction yields a placeholder.
func (e *Extractor) Extract(ctx context.Context, a *Attachment) Resource {
	if a == nil || len(a.Data) == 0 {
		return Resource{Kind: KindEmpty}
	}

	mediaType := ResolveMediaType(a.MediaType, a.Data)
	res := Resource{Filename: a.Filename, MediaType: mediaType}

	switch {
	case mediaType == MediaTypePDF && e.pdfAsText:
		return e.text(ctx, res, a.Data, extractPDFText)
	case mediaType == MediaTypePDF, strings.HasPrefix(mediaType, "image/"):
		res.Kind = KindInline
		res.Data = a.Data
		return res
	case mediaType == MediaTypeDOCX:
		return e.text(ctx, res, a.Data, extractDOCXText)
	default:
		e.log.Warn("dropping unsupported attachment", "filename", a.Filename, "media_type", mediaType)
		return Resource{Kind: KindEmpty}
	}
}

func (e *Extractor) text(ctx context.Context, res Resource, data []byte, fn func([]byte) (string, error)) Resource {
	res.Kind = KindText
	if err := ctx.Err(); err != nil {
		res.Kind, res.Failed = KindEmpty, true
		return res
	}
	text, err := fn(data)
	if err != nil {
		e.log.Warn("attachment text extraction failed",
			"filename", res.Filename,
			"media_type", res.MediaType,
			"error", err,
		)
		res.Kind, res.Failed = KindEmpty, true
		return res
	}
	res.Text = text
	return res
}

// Supported reports whether a media type is accepted for upload.
func Supported(mediaType string) bool {
	mediaType = baseType(mediaType)
	return mediaType == MediaTypePDF || mediaType == MediaTypeDOCX || strings.HasPrefix(mediaType, "image/")
}

// ResolveMediaType returns the declared media type without parameters,
// or a type sniffed from the content when the declaration is missing or
// generic.
func ResolveMediaType(declared string, data []byte) string {
	declared = baseType(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return baseType(mimetype.Detect(data).String())
}

func baseType(mediaType string) string {
	mediaType = strings.TrimSpace(mediaType)
	if mediaType == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(mediaType); err == nil {
		return mt
	}
	return strings.ToLower(mediaType)
}
