package core

// error_messages.go maps technical errors to operator-facing messages.
//
// Each message carries a code operators can quote to support. Codes are
// grouped by category:
//
//	FILE001-FILE099  upload and spreadsheet decoding
//	RUN001-RUN099    run lifecycle and checkpoints
//	UPS001-UPS099    remote upsert target
//	DB001-DB099      database constraints and connectivity
//	RATE001          request throttling
//	ERR000           fallback; check the logs for the technical error
//
// Sentinel errors are matched with errors.Is first. Anything else is
// matched case-insensitively by substring, first pattern wins, so specific
// patterns come before general ones.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type sentinelMessage struct {
	err error
	msg UserMessage
}

var sentinelMessages = []sentinelMessage{
	{ErrFileTooLarge, UserMessage{"File exceeds the maximum upload size", "Split the file into smaller files", "FILE001"}},
	{ErrUnreadableFile, UserMessage{"File could not be read as a spreadsheet", "Download the template and copy your data into it", "FILE002"}},
	{ErrNoRows, UserMessage{"The file has no data rows", "Fill in at least one row below the header", "FILE005"}},
	{ErrCancelled, UserMessage{"Import was cancelled", "Resume from the saved progress or start a new import", "RUN001"}},
	{ErrRunActive, UserMessage{"An import of this type is already running", "Wait for it to finish or cancel it first", "RUN002"}},
	{ErrRunNotFound, UserMessage{"Import session not found", "The session may have expired. Upload the file again", "RUN003"}},
	{ErrCorruptCheckpoint, UserMessage{"Saved progress could not be restored", "Discard the saved progress and upload the file again", "RUN004"}},
	{ErrTooManyRuns, UserMessage{"System is busy processing other imports", "Please wait a moment and try again", "RUN005"}},
	{ErrInvalidPhase, UserMessage{"This action is not available right now", "Refresh the import status and try again", "RUN006"}},
	{ErrUnknownType, UserMessage{"Unknown import type", "Choose one of the listed import types", "RUN007"}},
	{ErrNoCheckpoint, UserMessage{"There is no saved progress to resume", "Upload the file to start a new import", "RUN008"}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Remote target
	{"status 401", UserMessage{"The remote service rejected the credentials", "Check REMOTE_API_KEY", "UPS001"}},
	{"status 403", UserMessage{"The remote service rejected the credentials", "Check REMOTE_API_KEY", "UPS001"}},
	{"status 409", UserMessage{"The remote service reported a conflicting record", "Review the row's key values", "UPS002"}},
	{"status 5", UserMessage{"The remote service is unavailable", "Resume the import later", "UPS003"}},
	{"upsert rejected", UserMessage{"The remote service rejected the row", "Review the row values against the template", "UPS004"}},

	// Database constraints
	{"duplicate key", UserMessage{"A record with this key already exists", "Check for duplicate keys in your file", "DB001"}},
	{"violates unique", UserMessage{"A duplicate value was found", "Review your data for duplicate key values", "DB002"}},
	{"unique constraint", UserMessage{"This value must be unique but already exists", "Check for duplicate entries in your file", "DB002"}},
	{"violates foreign key", UserMessage{"Referenced record does not exist", "Import suppliers before inventory", "DB003"}},
	{"foreign key constraint", UserMessage{"Referenced record does not exist", "Import suppliers before inventory", "DB003"}},
	{"violates not-null", UserMessage{"A required column was empty", "Fill in every required column", "DB008"}},

	// Connectivity
	{"connection refused", UserMessage{"Unable to connect to the database", "Please try again in a few moments", "DB004"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB005"}},
	{"context deadline exceeded", UserMessage{"Request timed out", "Please try again", "DB006"}},
	{"timeout", UserMessage{"Operation timed out", "Please try again later", "DB006"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB007"}},

	// Upload surface
	{"no file provided", UserMessage{"No file was selected", "Please select a spreadsheet to upload", "FILE004"}},
	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
