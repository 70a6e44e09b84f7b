// Package models holds small DTOs shared across the HTTP surface.
package models

// APIResponse is the envelope every HTTP handler returns, kept in the shape
// the front-end already expects: {success, message, data}.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func SuccessResponse(data interface{}) APIResponse {
	return APIResponse{Success: true, Data: data}
}

func ErrorResponse(err string) APIResponse {
	return APIResponse{Success: false, Error: err}
}

func MessageResponse(message string) APIResponse {
	return APIResponse{Success: true, Message: message}
}
