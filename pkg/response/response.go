package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorBody is the wire shape of every rejected request.
type ErrorBody struct {
	Error string `json:"error"`
}

// AppError represents a structured application error with an HTTP status.
// Credential failures deliberately share one status and one message so the
// response never reveals which validation condition failed.
type AppError struct {
	HTTPStatus int    // HTTP status code (e.g. 401, 409, 500)
	Message    string // Wire-visible error message
}

func (e *AppError) Error() string {
	return e.Message
}

// Pre-defined error constructors

func NewInvalidCredential() *AppError {
	return &AppError{HTTPStatus: http.StatusUnauthorized, Message: "Invalid token"}
}

func NewUnauthorized() *AppError {
	return &AppError{HTTPStatus: http.StatusUnauthorized, Message: "Invalid token"}
}

// NewConflict marks the loser of a concurrent rotation or revocation race.
// It is surfaced to the caller as 401 so a stolen-token replay looks exactly
// like any other invalid token.
func NewConflict() *AppError {
	return &AppError{HTTPStatus: http.StatusUnauthorized, Message: "Invalid token"}
}

func NewBadRequest(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusBadRequest, Message: msg}
}

func NewForbidden(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusForbidden, Message: msg}
}

func NewNotFound(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusNotFound, Message: msg}
}

// NewStorageFailure hides backing-store detail behind a generic body.
func NewStorageFailure() *AppError {
	return &AppError{HTTPStatus: http.StatusInternalServerError, Message: "Internal server error"}
}

func NewServerError() *AppError {
	return &AppError{HTTPStatus: http.StatusInternalServerError, Message: "Internal server error"}
}

// --- Gin response helpers ---

// Success sends a 200 OK response with data.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Created sends a 201 Created response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// Error sends an error response. If err is an *AppError, its status and
// message are used; anything else becomes a generic 500 so internal failure
// detail never leaks into the body.
func Error(c *gin.Context, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, ErrorBody{Error: appErr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, ErrorBody{Error: "Internal server error"})
}

// Convenience error response functions

func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorBody{Error: msg})
}

func Unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, ErrorBody{Error: "Invalid token"})
}

func Forbidden(c *gin.Context, msg string) {
	c.JSON(http.StatusForbidden, ErrorBody{Error: msg})
}

func NotFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, ErrorBody{Error: msg})
}

func ServerError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, ErrorBody{Error: "Internal server error"})
}
