package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"stride/internal/writequeue"
)

// ImportRaw stores an external data payload verbatim for later processing.
// Raw imports are kept outside the rollback surface; they are source data,
// not coach mutations.
func (c *Coach) ImportRaw(ctx context.Context, source, path, traceID string) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", fmt.Errorf("source is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !json.Valid(data) {
		return "", fmt.Errorf("%s: payload is not valid JSON", path)
	}
	id := uuid.New().String()
	_, err = c.Queue.WithWriteLock(ctx, writequeue.Op{Name: "import.raw", TraceID: traceID}, func(ctx context.Context) (any, error) {
		_, err := c.DB.ExecContext(ctx, `INSERT INTO raw_imports(id,source,payload_json,imported_at) VALUES (?,?,?,?)`,
			id, source, string(data), c.now().UTC().Format(time.RFC3339Nano))
		return map[string]string{"id": id}, err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// SaveTranscript stores a coaching session transcript for audit.
func (c *Coach) SaveTranscript(ctx context.Context, sessionOn, transcript, traceID string) (string, error) {
	if _, err := time.Parse("2006-01-02", sessionOn); err != nil {
		return "", fmt.Errorf("session date must be YYYY-MM-DD: %w", err)
	}
	if strings.TrimSpace(transcript) == "" {
		return "", fmt.Errorf("transcript is empty")
	}
	id := uuid.New().String()
	_, err := c.Queue.WithWriteLock(ctx, writequeue.Op{Name: "transcript.save", TraceID: traceID}, func(ctx context.Context) (any, error) {
		_, err := c.DB.ExecContext(ctx, `INSERT INTO session_transcripts(id,session_on,transcript,created_at) VALUES (?,?,?,?)`,
			id, sessionOn, transcript, c.now().UTC().Format(time.RFC3339Nano))
		return map[string]string{"id": id}, err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}
