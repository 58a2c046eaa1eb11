// Package errors renders marketplace failures as RFC 7807 Problem Details.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Aidin1998/lotmarket/internal/auth"
	"github.com/Aidin1998/lotmarket/internal/marketplace"
)

// ContentType is the media type of a problem response.
const ContentType = "application/problem+json"

// Problem type URIs
const (
	TypeValidationError    = "https://lotmarket.dev/problems/validation-error"
	TypeUnauthorized       = "https://lotmarket.dev/problems/unauthorized"
	TypeForbidden          = "https://lotmarket.dev/problems/forbidden"
	TypeNotFound           = "https://lotmarket.dev/problems/not-found"
	TypeInternalError      = "https://lotmarket.dev/problems/internal-error"
	TypeInsufficientFunds  = "https://lotmarket.dev/problems/insufficient-funds"
	TypeNotListed          = "https://lotmarket.dev/problems/listing-not-listed"
	TypeNotInitialized     = "https://lotmarket.dev/problems/not-initialized"
	TypeAlreadyInitialized = "https://lotmarket.dev/problems/already-initialized"
)

// Problem titles
const (
	TitleValidationError    = "Validation Error"
	TitleUnauthorized       = "Unauthorized"
	TitleForbidden          = "Forbidden"
	TitleNotFound           = "Not Found"
	TitleInternalError      = "Internal Server Error"
	TitleInsufficientFunds  = "Insufficient Funds"
	TitleNotListed          = "Listing Not Listed"
	TitleNotInitialized     = "Marketplace Not Initialized"
	TitleAlreadyInitialized = "Marketplace Already Initialized"
)

// ValidationError represents a validation error for RFC 7807
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string                 `json:"type"`
	Title    string                 `json:"title"`
	Status   int                    `json:"status"`
	Detail   string                 `json:"detail,omitempty"`
	Instance string                 `json:"instance,omitempty"`
	TraceID  string                 `json:"trace_id,omitempty"`
	Errors   []ValidationError      `json:"errors,omitempty"`
	Extra    map[string]interface{} `json:"-"`
}

// Error implements the error interface
func (p *ProblemDetails) Error() string {
	return p.Detail
}

// WithTraceID adds a trace ID to the problem details
func (p *ProblemDetails) WithTraceID(traceID string) *ProblemDetails {
	p.TraceID = traceID
	return p
}

// WithValidationErrors adds validation errors to the problem details
func (p *ProblemDetails) WithValidationErrors(errs []ValidationError) *ProblemDetails {
	p.Errors = errs
	return p
}

// WithExtra adds extra fields to the problem details (they will be serialized at the top level)
func (p *ProblemDetails) WithExtra(key string, value interface{}) *ProblemDetails {
	if p.Extra == nil {
		p.Extra = make(map[string]interface{})
	}
	p.Extra[key] = value
	return p
}

// MarshalJSON implements custom JSON marshaling to include extra fields at the top level
func (p *ProblemDetails) MarshalJSON() ([]byte, error) {
	result := make(map[string]interface{}, 7+len(p.Extra))
	for k, v := range p.Extra {
		result[k] = v
	}
	result["type"] = p.Type
	result["title"] = p.Title
	result["status"] = p.Status
	if p.Detail != "" {
		result["detail"] = p.Detail
	}
	if p.Instance != "" {
		result["instance"] = p.Instance
	}
	if p.TraceID != "" {
		result["trace_id"] = p.TraceID
	}
	if len(p.Errors) > 0 {
		result["errors"] = p.Errors
	}
	return json.Marshal(result)
}

// NewProblemDetails creates a generic problem details with all fields
func NewProblemDetails(problemType, title string, status int, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:     problemType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	}
}

// NewValidationError creates a validation error problem
func NewValidationError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeValidationError, TitleValidationError, http.StatusBadRequest, detail, instance)
}

// NewUnauthorizedError creates an unauthorized error problem
func NewUnauthorizedError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeUnauthorized, TitleUnauthorized, http.StatusUnauthorized, detail, instance)
}

func NewForbiddenError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeForbidden, TitleForbidden, http.StatusForbidden, detail, instance)
}

func NewNotFoundError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeNotFound, TitleNotFound, http.StatusNotFound, detail, instance)
}

// NewInternalError creates an internal server error problem. The detail is
// never the underlying error text.
func NewInternalError(instance string) *ProblemDetails {
	return NewProblemDetails(TypeInternalError, TitleInternalError, http.StatusInternalServerError,
		"the request could not be completed", instance)
}

// FromError maps err to a problem. Marketplace errors carry their numeric
// code in the "code" extension member.
func FromError(err error, instance string) *ProblemDetails {
	var p *ProblemDetails
	if errors.As(err, &p) {
		return p
	}

	detail := err.Error()
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return NewUnauthorizedError(detail, instance)
	case errors.Is(err, auth.ErrInvalidProof), errors.Is(err, auth.ErrReplayed):
		return NewForbiddenError(detail, instance)
	}

	code := marketplace.CodeOf(err)
	switch {
	case errors.Is(err, marketplace.ErrAlreadyInitialized):
		p = NewProblemDetails(TypeAlreadyInitialized, TitleAlreadyInitialized, http.StatusConflict, detail, instance)
	case errors.Is(err, marketplace.ErrNotInitialized):
		p = NewProblemDetails(TypeNotInitialized, TitleNotInitialized, http.StatusConflict, detail, instance)
	case errors.Is(err, marketplace.ErrNotListed):
		p = NewProblemDetails(TypeNotListed, TitleNotListed, http.StatusConflict, detail, instance)
	case errors.Is(err, marketplace.ErrListingNotFound):
		p = NewNotFoundError(detail, instance)
	case errors.Is(err, marketplace.ErrInsufficientBalance):
		p = NewProblemDetails(TypeInsufficientFunds, TitleInsufficientFunds, http.StatusUnprocessableEntity, detail, instance)
	case marketplace.CategoryOf(err) == marketplace.CategoryValidation:
		p = NewValidationError(detail, instance)
	default:
		return NewInternalError(instance)
	}
	return p.WithExtra("code", code)
}
