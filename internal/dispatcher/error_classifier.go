package dispatcher

import (
	"context"
	"errors"
	"strings"

	"github.com/local/pdfweaver/internal/pdfcheck"
	"github.com/local/pdfweaver/internal/weaver"
)

// isFatalError checks if error is fatal and should not be retried
func isFatalError(err error) bool {
	if err == nil {
		return false
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return true
	}

	// Unreadable inputs stay unreadable.
	if weaver.IsProcessing(err) || weaver.IsUnsupported(err) {
		return true
	}

	if errors.Is(err, pdfcheck.ErrPageCount) || errors.Is(err, weaver.ErrNoSelection) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "invalid s3 url") ||
		strings.Contains(errStr, "invalid url") ||
		strings.Contains(errStr, "malformed")
}

// isTransientError checks if error is transient and the job should be retried
func isTransientError(err error) bool {
	if err == nil || isFatalError(err) {
		return false
	}

	if weaver.IsWrite(err) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "eof") ||
		strings.Contains(errStr, "http 5") ||
		strings.Contains(errStr, "http 429") {
		return true
	}

	var stageErr *StageError
	if errors.As(err, &stageErr) {
		switch stageErr.Stage {
		case "fetch", "upload", "status":
			return true
		}
	}
	return false
}
