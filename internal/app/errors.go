package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/FireBladesAdi/dental-form-pro/internal/export"
	"github.com/FireBladesAdi/dental-form-pro/internal/intake"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	errClinicNotFound = domainError(http.StatusNotFound, "CLINIC_NOT_FOUND", "Clinic has not been set up", nil)
	errForbidden      = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
)

// intakeStatus maps intake error codes onto HTTP statuses.
var intakeStatus = map[string]int{
	intake.CodeInvalidInput:     http.StatusBadRequest,
	intake.CodePasscodeMismatch: http.StatusForbidden,
	intake.CodeNotFound:         http.StatusNotFound,
	intake.CodeInvalidTemplate:  http.StatusNotFound,
	intake.CodeNoMatch:          http.StatusNotFound,
	intake.CodeAlreadyClaimed:   http.StatusConflict,
	intake.CodeStoreUnavailable: http.StatusServiceUnavailable,
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var intakeErr *intake.Error
	if errors.As(err, &intakeErr) {
		status, ok := intakeStatus[intakeErr.Code]
		if !ok {
			status = http.StatusInternalServerError
		}
		message := intakeErr.Message
		if intakeErr.Code == intake.CodeStoreUnavailable {
			message = "Shared store unavailable"
		}
		return status, intakeErr.Code, message, nil
	}
	switch {
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Unsupported export format", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF export is not available on this server", nil
	case errors.Is(err, export.ErrUploadDisabled):
		return http.StatusServiceUnavailable, "UPLOAD_UNAVAILABLE", "Export storage not configured", nil
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT", "Request timed out", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
