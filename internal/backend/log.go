package backend

import (
	"log"
	"time"
)

// logRequest logs an outbound backend request.
func logRequest(method, path string) {
	log.Printf("[backend] %s %s", method, path)
}

// logResponse logs a backend response.
func logResponse(path string, statusCode int, duration time.Duration) {
	log.Printf("[backend] %s status=%d duration=%dms", path, statusCode, duration.Milliseconds())
}

// logError logs a failed backend operation.
func logError(operation string, err error) {
	log.Printf("[backend] %s error: %v", operation, err)
}
