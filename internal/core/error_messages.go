package core

// error_messages.go maps technical errors to coded messages for operators.
//
// Codes by category:
//
//	DB001-DB099   store constraints and connectivity
//	VAL001-VAL099 row values
//	FILE001-FILE099 uploaded workbooks
//	IMP001-IMP099 import sessions
//	ERR000        anything else; check the logs for the technical error
//
// Patterns are matched case-insensitively with strings.Contains and the
// first match wins, so specific patterns come before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Store constraints
	{"duplicate key", UserMessage{"A record with this identifier already exists", "Check the file for repeated identifiers", "DB001"}},
	{"unique constraint", UserMessage{"This value must be unique but already exists", "Check the file for repeated identifiers", "DB002"}},
	{"violates unique", UserMessage{"A duplicate value was found", "Review the identifier columns for duplicates", "DB002"}},
	{"foreign key", UserMessage{"Referenced patient does not exist", "Import the patient before linked records", "DB003"}},
	{"check constraint", UserMessage{"A value is outside the allowed list", "Use one of the listed options for the column", "DB008"}},
	{"not null constraint", UserMessage{"A required value is missing", "Fill in the required columns", "DB009"}},
	{"violates not-null", UserMessage{"A required value is missing", "Fill in the required columns", "DB009"}},

	// Store connectivity
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB004"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB005"}},
	{"database is locked", UserMessage{"Database was busy with another import", "Please try again", "DB007"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB007"}},
	{"timeout", UserMessage{"Operation timed out", "Try a smaller file or try again later", "DB006"}},

	// Row values
	{"missing required field", UserMessage{"Required field is empty", "Fill in the identifier and name columns", "VAL003"}},
	{"invalid date", UserMessage{"Invalid date format detected", "Use YYYY-MM-DD or DD/MM/YYYY", "VAL001"}},
	{"invalid number", UserMessage{"Invalid number format detected", "Remove units and use a plain decimal number", "VAL002"}},

	// Workbooks
	{"file too large", UserMessage{"File exceeds the maximum upload size", "Split the workbook into smaller files", "FILE001"}},
	{"unsupported workbook format", UserMessage{"File is not a spreadsheet", "Upload an .xlsx or .csv file", "FILE002"}},
	{"encoding error", UserMessage{"File contains invalid characters", "Save the file as UTF-8", "FILE003"}},
	{"no file provided", UserMessage{"No file was selected", "Please select a workbook to upload", "FILE004"}},
	{"workbook has no data", UserMessage{"The uploaded workbook is empty", "Upload a sheet with a header row and data rows", "FILE005"}},
	{"no date columns", UserMessage{"No date columns were found in the roster", "Use dates such as 01-12 or 1/12/2026 as column headers", "FILE006"}},

	// Sessions
	{"import cancelled", UserMessage{"Import was cancelled", "Rows processed before cancelling were kept", "IMP001"}},
	{"too many imports", UserMessage{"System is busy processing other imports", "Please wait a moment and try again", "IMP002"}},
	{"session not found", UserMessage{"Import session not found", "The session may have expired. Please upload the file again", "IMP003"}},
	{"invalid session state", UserMessage{"This step is not available right now", "Reload the session and continue from its current step", "IMP004"}},
	{"unknown table", UserMessage{"Unknown destination table", "Choose one of the listed tables", "IMP005"}},
	{"unknown field", UserMessage{"Unknown field", "Choose one of the listed fields", "IMP006"}},
	{"custom field already registered", UserMessage{"A custom field with this key already exists", "Choose a different key", "IMP007"}},
	{"custom field not found", UserMessage{"Custom field not found", "Reload the field list", "IMP008"}},
	{"mapping template not found", UserMessage{"Mapping template not found", "Reload the template list", "IMP011"}},
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "IMP009"}},
	{"context deadline exceeded", UserMessage{"Request timed out", "Try a smaller file or check your connection", "IMP010"}},
}

// defaultMessage is returned when no pattern matches.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// A nil error maps to the zero UserMessage.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matched a known pattern.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err, or returns nil for a nil err.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
