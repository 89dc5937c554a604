// Package remote talks to the text-to-3D generation service.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/pario-ai/meshbridge/pkg/materialize"
	"github.com/pario-ai/meshbridge/pkg/models"
)

// ErrQuotaExceeded means the service refused the call for quota or rate reasons.
var ErrQuotaExceeded = errors.New("upstream quota exceeded")

// Generator produces a raw result for a generation request.
type Generator interface {
	Generate(ctx context.Context, req models.GenerationRequest) (materialize.RawResult, error)
}

// UpstreamError is a failure reported by the service.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream error (%d): %s", e.StatusCode, e.Message)
	}
	return "upstream error: " + e.Message
}

// quotaMarkers are the message fragments the hosted Spaces use when a caller
// runs out of GPU time. The service exposes no structured error kind for it.
var quotaMarkers = []string{"GPU quota", "exceeded"}

// classifyError maps a failure message and status to an error value.
func classifyError(status int, msg string) error {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = http.StatusText(status)
	}
	if msg == "" {
		msg = "unknown error"
	}
	if status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, msg)
	}
	for _, m := range quotaMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %s", ErrQuotaExceeded, msg)
		}
	}
	return &UpstreamError{StatusCode: status, Message: msg}
}
