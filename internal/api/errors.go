package api

import "net/http"

// RequestError is an API failure with a client-facing message. The envelope
// keeps provider and storage internals out of responses.
type RequestError struct {
	Status  int    `json:"-"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e RequestError) Error() string { return e.Message }

// ValidationError reports a malformed or incomplete request.
func ValidationError(message string) RequestError {
	return RequestError{Status: http.StatusBadRequest, Code: "invalid_request", Message: message}
}

// NotFoundError reports a missing resource.
func NotFoundError(message string) RequestError {
	return RequestError{Status: http.StatusNotFound, Code: "not_found", Message: message}
}

// UnauthorizedError reports a failed authentication check.
func UnauthorizedError(message string) RequestError {
	return RequestError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: message}
}

// ConflictError reports a request that collides with existing state.
func ConflictError(message string) RequestError {
	return RequestError{Status: http.StatusConflict, Code: "conflict", Message: message}
}

// ServiceUnavailableError reports a dependency outage worth retrying.
func ServiceUnavailableError(message string) RequestError {
	return RequestError{Status: http.StatusServiceUnavailable, Code: "unavailable", Message: message}
}

// InternalError reports an unexpected server-side failure without leaking
// its cause.
func InternalError(message string) RequestError {
	return RequestError{Status: http.StatusInternalServerError, Code: "internal", Message: message}
}

// WriteRequestError renders a RequestError as the standard error envelope.
func WriteRequestError(w http.ResponseWriter, reqErr RequestError) {
	if reqErr.Status == 0 {
		reqErr.Status = http.StatusInternalServerError
	}
	writeJSON(w, reqErr.Status, map[string]RequestError{"error": reqErr})
}
