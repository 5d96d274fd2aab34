// Package rpcerr defines the structured error a handler throws to produce
// a specific RpcResponse error code, plus the core's own fixed codes.
package rpcerr

import "fmt"

// Fixed error codes the core itself produces; handler code may also use
// its own codes.
const (
	CodeNotFound       = "NotFound"
	CodeBadRequest     = "BadRequest"
	CodeException      = "Exception"
	CodeNotImplemented = "NotImplemented"
)

// Exception is thrown by handler code to produce a structured
// RpcResponse error instead of the generic "Exception" fallback.
type Exception struct {
	Code    string
	Message string
}

// New creates an Exception with the given code and message.
func New(code, message string) *Exception {
	return &Exception{Code: code, Message: message}
}

// Error implements the error interface.
func (e *Exception) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
