package api

import "net/http"

// Error represents an API error response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *Error) Error() string {
	return e.Message
}

// Common error codes
const (
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

// Standard errors
var (
	ErrNotFound = &Error{
		Code:    ErrCodeNotFound,
		Message: "Resource not found",
		Status:  http.StatusNotFound,
	}

	ErrMethodNotAllowed = &Error{
		Code:    ErrCodeMethodNotAllowed,
		Message: "The API is read-only",
		Status:  http.StatusMethodNotAllowed,
	}
)
