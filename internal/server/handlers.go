package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/jonathan/cv-customizer/internal/customizer"
)

// APIKeyHeader carries the caller's model credential. It is never logged.
const APIKeyHeader = "X-API-Key"

// CustomizeRequest represents the request body for /v1/customize.
// Blank fields are rejected by the engine, not here.
type CustomizeRequest struct {
	Document       string `json:"document" validate:"max=1048576"`
	JobDescription string `json:"job_description" validate:"max=262144"`
}

// CustomizeResponse represents the response for /v1/customize
type CustomizeResponse struct {
	Document      string                  `json:"document"`
	Filename      string                  `json:"filename"`
	PromptVersion string                  `json:"prompt_version"`
	Annotations   []customizer.Annotation `json:"annotations"`
}

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status":         "ok",
		"prompt_version": s.engine.PromptVersion(),
	})
}

// handleCustomize returns the customized document as JSON
func (s *Server) handleCustomize(w http.ResponseWriter, r *http.Request) {
	document, err := s.customize(w, r)
	if err != nil {
		s.errorResponse(w, r, err)
		return
	}

	annotations := customizer.ExtractAnnotations(document)
	if annotations == nil {
		annotations = []customizer.Annotation{}
	}

	s.jsonResponse(w, http.StatusOK, CustomizeResponse{
		Document:      document,
		Filename:      customizer.DefaultFilename,
		PromptVersion: s.engine.PromptVersion(),
		Annotations:   annotations,
	})
}

// handleDownload returns the customized document as a LaTeX attachment
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	document, err := s.customize(w, r)
	if err != nil {
		s.errorResponse(w, r, err)
		return
	}

	w.Header().Set("Content-Type", customizer.MIMEType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", customizer.DefaultFilename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(document)); err != nil {
		s.logger.WithError(err).Warn("failed to write download response")
	}
}

// customize decodes and validates the request, then makes one engine call under the request timeout.
func (s *Server) customize(w http.ResponseWriter, r *http.Request) (string, error) {
	var req CustomizeRequest
	body := http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", &ErrBodyTooLarge{Limit: maxErr.Limit}
		}
		return "", &ErrValidation{Field: "body", Message: "invalid JSON: " + err.Error()}
	}

	if err := s.validator.Struct(req); err != nil {
		return "", validationError(err)
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	log := s.logger.WithFields(logrus.Fields{
		"request_id":      requestIDFromContext(r.Context()),
		"document_bytes":  len(req.Document),
		"job_bytes":       len(req.JobDescription),
		"explicit_apikey": r.Header.Get(APIKeyHeader) != "",
	})

	start := time.Now()
	document, err := s.engine.Customize(ctx, req.Document, req.JobDescription, r.Header.Get(APIKeyHeader))
	log = log.WithField("duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		log.WithError(err).Warn("customization failed")
		return "", err
	}

	log.WithField("output_bytes", len(document)).Info("customization complete")
	return document, nil
}

// validationError converts validator errors to ErrValidation, reporting the first field.
func validationError(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		fe := validationErrors[0]
		message := fe.Tag()
		if fe.Tag() == "max" {
			message = fmt.Sprintf("must be at most %s bytes", fe.Param())
		}
		return &ErrValidation{Field: fe.Field(), Message: message}
	}
	return &ErrValidation{Field: "body", Message: "invalid request"}
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Warn("failed to encode JSON response")
	}
}

// errorResponse writes an error JSON response with a status derived from the error kind
func (s *Server) errorResponse(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}

	s.jsonResponse(w, status, ErrorResponse{
		Error:     errorCode(err),
		Message:   message,
		RequestID: requestIDFromContext(r.Context()),
	})
}
