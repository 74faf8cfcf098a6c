package api

import (
	"errors"
	"net/http"

	"github.com/greatbit/quack/cmd/quack/issuetracker"
	"github.com/greatbit/quack/cmd/quack/testcase"
	"github.com/greatbit/quack/cmd/quack/types"
)

type IssueSeverity string

const (
	SeverityError       IssueSeverity = "error"
	SeverityInformation IssueSeverity = "information"
)

// OperationIssue describes why a request could not be served
type OperationIssue struct {
	Severity IssueSeverity `json:"severity"`
	Code     string        `json:"code"`
	Details  string        `json:"details"`
}

// OperationOutcome is the body of every error response
type OperationOutcome struct {
	Issues []OperationIssue `json:"issues"`
}

// Helper functions for creating common issues
func NewProcessingError(details string) OperationIssue {
	return OperationIssue{Severity: SeverityError, Code: "processing", Details: details}
}

func NewNotFoundIssue(details string) OperationIssue {
	return OperationIssue{Severity: SeverityError, Code: "not-found", Details: details}
}

func NewInvalidParameterIssue(details string) OperationIssue {
	return OperationIssue{Severity: SeverityError, Code: "invalid", Details: details}
}

func NewSecurityIssue(details string) OperationIssue {
	return OperationIssue{Severity: SeverityError, Code: "security", Details: details}
}

func NewForbiddenIssue(details string) OperationIssue {
	return OperationIssue{Severity: SeverityError, Code: "forbidden", Details: details}
}

func NewNotSupportedIssue(details string) OperationIssue {
	return OperationIssue{Severity: SeverityError, Code: "not-supported", Details: details}
}

func NewTooLargeIssue(details string) OperationIssue {
	return OperationIssue{Severity: SeverityError, Code: "too-large", Details: details}
}

// classifyError maps a service error to its status code and issue
func classifyError(err error) (int, OperationIssue) {
	var parseErr *types.ParseError
	var maxBytesErr *http.MaxBytesError

	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge, NewTooLargeIssue(err.Error())
	case errors.As(err, &parseErr), errors.Is(err, testcase.ErrValidation):
		return http.StatusBadRequest, NewInvalidParameterIssue(err.Error())
	case errors.Is(err, testcase.ErrNotFound):
		return http.StatusNotFound, NewNotFoundIssue(err.Error())
	case errors.Is(err, testcase.ErrForbidden):
		return http.StatusForbidden, NewForbiddenIssue(err.Error())
	case errors.Is(err, issuetracker.ErrNotConfigured):
		return http.StatusNotImplemented, NewNotSupportedIssue(err.Error())
	default:
		return http.StatusInternalServerError, NewProcessingError("internal server error")
	}
}
