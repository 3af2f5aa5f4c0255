package ir

import (
	"errors"
	"fmt"
	"strings"
)

// MappingError is the structured error raised while building the graph.
//
// Every per-record failure is a MappingError; the owning transaction is
// rolled back and the error is returned from the format's Process.
// Registry errors (DUPLICATE_TYPE, REGISTRY_FROZEN) are fatal at startup.
type MappingError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Type is the concrete or context type involved, if any.
	Type string

	// Key is the property, context key, field or external id involved.
	Key string

	// Action is the record's action tag (UNKNOWN_ACTION).
	Action string

	// Handle is the node handle involved (DANGLING_HANDLE, PROP_VIOLATION).
	Handle NodeID
}

// ErrorCode categorizes mapping errors.
type ErrorCode string

const (
	// ErrCodeUnknownType indicates a concrete or context type is not registered.
	ErrCodeUnknownType ErrorCode = "UNKNOWN_TYPE"

	// ErrCodePropViolation indicates an undeclared metadata key, or a
	// required property absent at commit.
	ErrCodePropViolation ErrorCode = "PROP_VIOLATION"

	// ErrCodeDanglingHandle indicates a handle not visible to the transaction.
	ErrCodeDanglingHandle ErrorCode = "DANGLING_HANDLE"

	// ErrCodeUnknownAction indicates a record action with no sub-mapping.
	ErrCodeUnknownAction ErrorCode = "UNKNOWN_ACTION"

	// ErrCodeIdentityConflict indicates an external id reused under another type.
	ErrCodeIdentityConflict ErrorCode = "IDENTITY_CONFLICT"

	// ErrCodeContextKeyMismatch indicates context keys outside the context type.
	ErrCodeContextKeyMismatch ErrorCode = "CONTEXT_KEY_MISMATCH"

	// ErrCodeMissingField indicates a record lacks a field its action needs.
	ErrCodeMissingField ErrorCode = "MISSING_FIELD"

	// ErrCodeTxClosed indicates use of a committed or rolled-back transaction.
	ErrCodeTxClosed ErrorCode = "TX_CLOSED"

	// ErrCodeDuplicateType indicates two different declarations under one name.
	ErrCodeDuplicateType ErrorCode = "DUPLICATE_TYPE"

	// ErrCodeRegistryFrozen indicates registration after startup.
	ErrCodeRegistryFrozen ErrorCode = "REGISTRY_FROZEN"
)

// Error implements the error interface.
func (e *MappingError) Error() string {
	var attrs []string
	if e.Type != "" {
		attrs = append(attrs, "type="+e.Type)
	}
	if e.Key != "" {
		attrs = append(attrs, "key="+e.Key)
	}
	if e.Action != "" {
		attrs = append(attrs, "action="+e.Action)
	}
	if e.Handle != 0 {
		attrs = append(attrs, fmt.Sprintf("handle=%d", e.Handle))
	}
	if len(attrs) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(attrs, ", "))
}

// CodeOf returns the code of the MappingError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var me *MappingError
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

func hasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsUnknownType reports whether err is an UNKNOWN_TYPE error.
func IsUnknownType(err error) bool { return hasCode(err, ErrCodeUnknownType) }

// IsPropViolation reports whether err is a PROP_VIOLATION error.
func IsPropViolation(err error) bool { return hasCode(err, ErrCodePropViolation) }

// IsDanglingHandle reports whether err is a DANGLING_HANDLE error.
func IsDanglingHandle(err error) bool { return hasCode(err, ErrCodeDanglingHandle) }

// IsUnknownAction reports whether err is an UNKNOWN_ACTION error.
func IsUnknownAction(err error) bool { return hasCode(err, ErrCodeUnknownAction) }

// IsIdentityConflict reports whether err is an IDENTITY_CONFLICT error.
func IsIdentityConflict(err error) bool { return hasCode(err, ErrCodeIdentityConflict) }

// IsContextKeyMismatch reports whether err is a CONTEXT_KEY_MISMATCH error.
func IsContextKeyMismatch(err error) bool { return hasCode(err, ErrCodeContextKeyMismatch) }

// IsMissingField reports whether err is a MISSING_FIELD error.
func IsMissingField(err error) bool { return hasCode(err, ErrCodeMissingField) }

// IsTxClosed reports whether err is a TX_CLOSED error.
func IsTxClosed(err error) bool { return hasCode(err, ErrCodeTxClosed) }

// IsDuplicateType reports whether err is a DUPLICATE_TYPE error.
func IsDuplicateType(err error) bool { return hasCode(err, ErrCodeDuplicateType) }

// IsRegistryFrozen reports whether err is a REGISTRY_FROZEN error.
func IsRegistryFrozen(err error) bool { return hasCode(err, ErrCodeRegistryFrozen) }

// NewUnknownTypeError creates an UNKNOWN_TYPE error.
func NewUnknownTypeError(name string) *MappingError {
	return &MappingError{
		Code:    ErrCodeUnknownType,
		Message: fmt.Sprintf("type %q is not registered", name),
		Type:    name,
	}
}

// NewPropViolationError creates a PROP_VIOLATION error.
func NewPropViolationError(typeName, key string, handle NodeID, msg string) *MappingError {
	return &MappingError{
		Code:    ErrCodePropViolation,
		Message: msg,
		Type:    typeName,
		Key:     key,
		Handle:  handle,
	}
}

// NewDanglingHandleError creates a DANGLING_HANDLE error.
func NewDanglingHandleError(handle NodeID) *MappingError {
	return &MappingError{
		Code:    ErrCodeDanglingHandle,
		Message: "handle is not visible to this transaction",
		Handle:  handle,
	}
}

// NewUnknownActionError creates an UNKNOWN_ACTION error.
func NewUnknownActionError(action string) *MappingError {
	return &MappingError{
		Code:    ErrCodeUnknownAction,
		Message: "no mapping for action",
		Action:  action,
	}
}

// NewIdentityConflictError creates an IDENTITY_CONFLICT error.
func NewIdentityConflictError(externalID, existing, requested string) *MappingError {
	return &MappingError{
		Code:    ErrCodeIdentityConflict,
		Message: fmt.Sprintf("external id already bound to type %q", existing),
		Type:    requested,
		Key:     externalID,
	}
}

// NewContextKeyMismatchError creates a CONTEXT_KEY_MISMATCH error.
func NewContextKeyMismatchError(ctxType, key string) *MappingError {
	return &MappingError{
		Code:    ErrCodeContextKeyMismatch,
		Message: "context key is not declared",
		Type:    ctxType,
		Key:     key,
	}
}

// NewMissingFieldError creates a MISSING_FIELD error.
func NewMissingFieldError(action, field string) *MappingError {
	return &MappingError{
		Code:    ErrCodeMissingField,
		Message: "record is missing a required field",
		Key:     field,
		Action:  action,
	}
}

// NewTxClosedError creates a TX_CLOSED error.
func NewTxClosedError(status string) *MappingError {
	return &MappingError{
		Code:    ErrCodeTxClosed,
		Message: "transaction is " + status,
	}
}

// NewDuplicateTypeError creates a DUPLICATE_TYPE error.
func NewDuplicateTypeError(name string) *MappingError {
	return &MappingError{
		Code:    ErrCodeDuplicateType,
		Message: "conflicting declaration for registered type",
		Type:    name,
	}
}

// NewRegistryFrozenError creates a REGISTRY_FROZEN error.
func NewRegistryFrozenError(name string) *MappingError {
	return &MappingError{
		Code:    ErrCodeRegistryFrozen,
		Message: "registry is frozen",
		Type:    name,
	}
}
