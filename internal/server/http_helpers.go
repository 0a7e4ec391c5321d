package server

import (
	"net/http"

	"fanstream-video/internal/api"
)

// writeMiddlewareError normalises middleware error responses to the API JSON shape.
func writeMiddlewareError(w http.ResponseWriter, status int, message string) {
	api.WriteRequestError(w, api.RequestError{Status: status, Message: message})
}
