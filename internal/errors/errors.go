package errors

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type ErrorCode string

const (
	CodeInternal          ErrorCode = "INTERNAL_ERROR"
	CodeFileNotFound      ErrorCode = "FILE_NOT_FOUND"
	CodeUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	CodeEmptyData         ErrorCode = "EMPTY_DATA"
	CodeSchema            ErrorCode = "SCHEMA_ERROR"
	CodeNoInputFiles      ErrorCode = "NO_INPUT_FILES"
	CodeInvalidConfig     ErrorCode = "INVALID_CONFIG"
	CodeIO                ErrorCode = "IO_ERROR"
)

// AppError is the single error type surfaced by pipeline stages. All codes are
// fatal; callers never retry.
type AppError struct {
	Code      ErrorCode
	Message   string
	Details   string
	Cause     error
	Timestamp time.Time
}

func (e *AppError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if e.Details != "" {
		b.WriteString("\n")
		b.WriteString(e.Details)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Cause)
	}
	return b.String()
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// LogValue keeps structured logs flat instead of dumping the whole struct.
func (e *AppError) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("code", string(e.Code)),
		slog.String("message", e.Message),
	}
	if e.Cause != nil {
		attrs = append(attrs, slog.String("cause", e.Cause.Error()))
	}
	return slog.GroupValue(attrs...)
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Cause:     err,
		Timestamp: time.Now().UTC(),
	}
}

func Internal(message string) *AppError {
	return New(CodeInternal, message)
}

func InternalWrap(err error, message string) *AppError {
	return Wrap(err, CodeInternal, message)
}

func FileNotFound(path string) *AppError {
	return New(CodeFileNotFound, fmt.Sprintf("raw data file not found: %s", path))
}

func UnsupportedFormat(ext string) *AppError {
	return New(CodeUnsupportedFormat, fmt.Sprintf("unsupported file type: %q, use .xlsx or .csv", ext))
}

func EmptyData(path string) *AppError {
	return New(CodeEmptyData, fmt.Sprintf("loaded table is empty, check file/sheet: %s", path))
}

// Schema reports required columns that are absent after normalization. Both
// lists are included so an operator can spot naming mismatches.
func Schema(missing, found []string) *AppError {
	e := New(CodeSchema, fmt.Sprintf("missing required columns: [%s]", strings.Join(missing, ", ")))
	e.Details = fmt.Sprintf("found columns: [%s]\nif the source uses different column names, update the required column list",
		strings.Join(found, ", "))
	return e
}

func NoInputFiles(dir, ext string) *AppError {
	return New(CodeNoInputFiles, fmt.Sprintf("no %s files found in directory: %s", ext, dir))
}

func InvalidConfig(err error) *AppError {
	return Wrap(err, CodeInvalidConfig, "invalid configuration")
}

func IOWrap(err error, message string) *AppError {
	return Wrap(err, CodeIO, message)
}

// CodeOf returns the code of the first AppError in err's chain, or
// CodeInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch CodeOf(err) {
	case CodeInvalidConfig:
		return 2
	case CodeFileNotFound, CodeUnsupportedFormat, CodeEmptyData, CodeSchema, CodeNoInputFiles:
		return 3
	default:
		return 1
	}
}
