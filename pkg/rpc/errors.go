package rpc

import (
	"fmt"

	"github.com/fortiblox/locksmith/pkg/journal"
)

// JSON-RPC 2.0 standard error codes.
const (
	// ParseError indicates invalid JSON was received.
	ParseError = -32700

	// InvalidRequest indicates the JSON sent is not a valid Request object.
	InvalidRequest = -32600

	// MethodNotFound indicates the method does not exist.
	MethodNotFound = -32601

	// InvalidParams indicates invalid method parameters.
	InvalidParams = -32602

	// InternalError indicates an internal JSON-RPC error.
	InternalError = -32603
)

// Server error codes.
const (
	// TransactionFailed indicates a submitted transaction was rejected by
	// a program. The error data carries a TxError.
	TransactionFailed = -32002

	// NodeUnhealthy indicates the node is unhealthy.
	NodeUnhealthy = -32005

	// MinContextSlotNotReached indicates min context slot not yet reached.
	MinContextSlotNotReached = -32016

	// MethodDisabled indicates a write method turned off by configuration.
	MethodDisabled = -32020

	// HistoryNotAvailable indicates the journal is not available.
	HistoryNotAvailable = -32011
)

// Common error messages.
var (
	ErrParseError          = NewRPCError(ParseError, "Parse error")
	ErrInvalidRequest      = NewRPCError(InvalidRequest, "Invalid Request")
	ErrMethodNotFound      = NewRPCError(MethodNotFound, "Method not found")
	ErrInvalidParams       = NewRPCError(InvalidParams, "Invalid params")
	ErrInternalError       = NewRPCError(InternalError, "Internal error")
	ErrNodeUnhealthy       = NewRPCError(NodeUnhealthy, "Node is unhealthy")
	ErrMethodDisabled      = NewRPCError(MethodDisabled, "Method disabled on this node")
	ErrHistoryNotAvailable = NewRPCError(HistoryNotAvailable, "Transaction history not available")
)

// NewRPCError creates a new RPC error.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
	}
}

// NewRPCErrorWithData creates a new RPC error with additional data.
func NewRPCErrorWithData(code int, message string, data interface{}) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("RPC error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// InvalidParamsError creates an invalid params error with a custom message.
func InvalidParamsError(msg string) *RPCError {
	return NewRPCError(InvalidParams, msg)
}

// InvalidParamsErrorf creates an invalid params error with a formatted message.
func InvalidParamsErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InvalidParams, fmt.Sprintf(format, args...))
}

// InternalServerError creates an internal server error with a custom message.
func InternalServerError(msg string) *RPCError {
	return NewRPCError(InternalError, msg)
}

// InternalServerErrorf creates an internal server error with a formatted message.
func InternalServerErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InternalError, fmt.Sprintf(format, args...))
}

// MinContextSlotError creates an error for min context slot not reached.
func MinContextSlotError(minSlot, currentSlot uint64) *RPCError {
	return NewRPCErrorWithData(MinContextSlotNotReached,
		fmt.Sprintf("Minimum context slot %d has not been reached, current slot is %d", minSlot, currentSlot),
		map[string]uint64{"minSlot": minSlot, "currentSlot": currentSlot})
}

// TransactionFailedError reports a failed journal entry.
func TransactionFailedError(entry *journal.Entry) *RPCError {
	return NewRPCErrorWithData(TransactionFailed,
		fmt.Sprintf("Transaction failed: %s", entry.Error),
		entryToRPC(entry))
}

// txError renders the failure of entry, or nil when it succeeded.
func txError(entry *journal.Entry) *TxError {
	if entry.Success {
		return nil
	}
	out := &TxError{
		Instruction: entry.FailedInstruction,
		Message:     entry.Error,
		CustomCode:  entry.CustomCode,
		Category:    entry.Category,
	}
	if !entry.FailedProgram.IsZero() {
		out.Program = entry.FailedProgram.String()
	}
	return out
}
