package backend

import (
	"fmt"
	"strings"
)

// ErrorKind is the structured failure classification carried by backend
// error payloads. Older backend builds only send prose; ClassifyKind falls
// back to a text match for those so the UI can still pick the right banner.
type ErrorKind string

const (
	KindClarificationNeeded ErrorKind = "clarification_needed"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindInvalidInput        ErrorKind = "invalid_input"
	KindInternal            ErrorKind = "internal"
)

var knownKinds = map[ErrorKind]struct{}{
	KindClarificationNeeded: {},
	KindUpstreamUnavailable: {},
	KindInvalidInput:        {},
	KindInternal:            {},
}

// ClassifyKind resolves the effective error kind for a job or API failure.
// A recognized explicit kind wins; otherwise the legacy substring heuristic
// applies, defaulting to internal.
func ClassifyKind(kind string, message string) ErrorKind {
	if k := ErrorKind(kind); kind != "" {
		if _, ok := knownKinds[k]; ok {
			return k
		}
	}
	if strings.Contains(strings.ToLower(message), "clarification") {
		return KindClarificationNeeded
	}
	return KindInternal
}

// APIError is a non-2xx response from the backend, with whatever detail text
// and structured kind the payload carried.
type APIError struct {
	Status int
	Kind   ErrorKind
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend status %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("backend status %d", e.Status)
}

// ServiceUnavailableError marks the distinguished 502 condition: the AI
// service behind the backend is down. The UI shows a dedicated banner for it
// instead of the generic failure message.
type ServiceUnavailableError struct {
	Detail string
}

func (e *ServiceUnavailableError) Error() string {
	if e.Detail != "" {
		return "ai service unavailable: " + e.Detail
	}
	return "ai service unavailable"
}
