package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// DimensionMismatch indicates an OR/AND over probe vectors of unequal width
	DimensionMismatch ErrorCode = "DIMENSION_MISMATCH"
	// UnknownBaseline indicates the baseline build has no recorded methods
	UnknownBaseline ErrorCode = "UNKNOWN_BASELINE"
	// BuildNotFound indicates the target build has no recorded methods
	BuildNotFound ErrorCode = "BUILD_NOT_FOUND"
	// MissingTreeNode indicates coverage that could not be placed in the tree
	MissingTreeNode ErrorCode = "MISSING_TREE_NODE"
	// StorageFailure indicates the storage collaborator failed
	StorageFailure ErrorCode = "STORAGE_FAILURE"
	// InvalidArgument indicates malformed caller input
	InvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// JobNotFound indicates an unknown background job id
	JobNotFound ErrorCode = "JOB_NOT_FOUND"
	// ConfigInvalid indicates the configuration failed validation
	ConfigInvalid ErrorCode = "CONFIG_INVALID"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// OpenDocs suggests opening documentation
	OpenDocs FixActionType = "open-docs"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Safe        bool          `json:"safe,omitempty"`
	Description string        `json:"description,omitempty"`
	URL         string        `json:"url,omitempty"`
}

// Error is a coded error carrying optional details and suggested fixes.
type Error struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// New creates an Error with the default suggested fixes for its code.
func New(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: GetSuggestedFixes(code),
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	UnknownBaseline: {
		{
			Type:        RunCommand,
			Command:     "covdiff ingest <baseline-manifest>",
			Safe:        true,
			Description: "Ingest the baseline build's methods before comparing against it",
		},
	},
	BuildNotFound: {
		{
			Type:        RunCommand,
			Command:     "covdiff ingest <build-manifest>",
			Safe:        true,
			Description: "Ingest the build's methods",
		},
	},
	ConfigInvalid: {
		{
			Type:        RunCommand,
			Command:     "covdiff config show",
			Safe:        true,
			Description: "Inspect the effective configuration",
		},
	},
	StorageFailure: {
		{
			Type:        RunCommand,
			Command:     "covdiff refresh --all",
			Safe:        true,
			Description: "Recompute cached aggregates from recorded executions",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
