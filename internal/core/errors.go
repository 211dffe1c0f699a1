package core

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
// Users quote the code to support staff for faster diagnosis.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user
// messages. Matched with strings.Contains, first match wins, so specific
// patterns come before general ones.
var errorPatterns = []errorPattern{
	// File and CSV errors
	{
		pattern: "csv file is empty",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Please upload a CSV file with a header row and data rows",
			Code:    "FILE001",
		},
	},
	{
		pattern: "no data rows",
		msg: UserMessage{
			Message: "The CSV has a header but no data rows",
			Action:  "Add at least one data row below the header",
			Code:    "FILE002",
		},
	},
	{
		pattern: "exceeds maximum size",
		msg: UserMessage{
			Message: "File exceeds the maximum upload size",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE003",
		},
	},
	{
		pattern: "parse csv",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Ensure the file is comma-separated UTF-8 text",
			Code:    "FILE004",
		},
	},

	// Mapping and state errors
	{
		pattern: "mapping must assign a column to displayname",
		msg: UserMessage{
			Message: "No column is mapped to DisplayName",
			Action:  "DisplayName is required; map one CSV column to it",
			Code:    "MAP001",
		},
	},
	{
		pattern: "mapping is required",
		msg: UserMessage{
			Message: "No column mapping was provided",
			Action:  "Provide a mapping inline or reference a saved template",
			Code:    "MAP002",
		},
	},
	{
		pattern: "job is in status",
		msg: UserMessage{
			Message: "The job is not in a state that allows this action",
			Action:  "Check the job status and retry from the right step",
			Code:    "JOB001",
		},
	},
	{
		pattern: "unsupported object type",
		msg: UserMessage{
			Message: "Only customer imports are supported",
			Action:  "Use object type \"customer\"",
			Code:    "JOB002",
		},
	},

	// Provider errors
	{
		pattern: "not connected to quickbooks",
		msg: UserMessage{
			Message: "Your QuickBooks connection is missing",
			Action:  "Connect the account to QuickBooks before importing",
			Code:    "QBO001",
		},
	},
	{
		pattern: "refresh token",
		msg: UserMessage{
			Message: "Your QuickBooks session could not be renewed",
			Action:  "Reconnect the account to QuickBooks",
			Code:    "QBO002",
		},
	},

	// Persistence errors
	{
		pattern: "not found",
		msg: UserMessage{
			Message: "The requested record was not found",
			Action:  "Verify the id and that the record belongs to you",
			Code:    "DB001",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to reach the database",
			Action:  "Please try again in a few moments",
			Code:    "DB002",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "The request timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB003",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "The request was cancelled",
			Action:  "Please try again",
			Code:    "DB004",
		},
	},

	// Rate limiting
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is the ERR000 fallback when no pattern matches. Support
// staff should check application logs for the original technical error.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. It searches
// the known patterns case-insensitively and falls back to ERR000.
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

// FormatUserError creates a formatted error string for display:
// "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether the error matched a specific pattern rather
// than the generic fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
