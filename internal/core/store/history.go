package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/viflex/platescan/internal/core"
	"github.com/viflex/platescan/internal/metrics"
)

// ErrNotFound is returned when a history entry does not exist.
var ErrNotFound = errors.New("analysis not found")

// DefaultListLimit caps ListAnalyses when no limit is given.
const DefaultListLimit = 50

// Record stores a successful analysis. Only image metadata is persisted.
func (s *Store) Record(ctx context.Context, blob *core.ImageBlob, result *core.AnalysisResult) error {
	return s.record(ctx, blob, result, "")
}

// EndpointRecorder records analyses stamped with the webhook that produced
// them.
type EndpointRecorder struct {
	store    *Store
	endpoint string
}

// RecorderFor returns a recorder that stamps endpoint on every record it
// stores. Each analysis client gets its own so a config reload never
// relabels records made through an older client.
func (s *Store) RecorderFor(endpoint string) *EndpointRecorder {
	return &EndpointRecorder{store: s, endpoint: strings.TrimSpace(endpoint)}
}

// Record implements workflow.Recorder.
func (r *EndpointRecorder) Record(ctx context.Context, blob *core.ImageBlob, result *core.AnalysisResult) error {
	return r.store.record(ctx, blob, result, r.endpoint)
}

func (s *Store) record(ctx context.Context, blob *core.ImageBlob, result *core.AnalysisResult, endpoint string) error {
	if blob == nil || result == nil {
		return errors.New("image and result are required")
	}
	_, err := s.SaveAnalysis(ctx, &core.AnalysisRecord{
		Filename:    blob.Filename,
		MIMEType:    blob.MIMEType,
		ImageBytes:  blob.Size(),
		ImageDigest: blob.Digest(),
		Endpoint:    endpoint,
		Result:      result,
	})
	metrics.RecordHistoryWrite(err == nil)
	return err
}

// SaveAnalysis inserts record, assigning ID and CreatedAt when unset, and
// prunes the oldest entries beyond the configured maximum.
func (s *Store) SaveAnalysis(ctx context.Context, record *core.AnalysisRecord) (*core.AnalysisRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if record == nil || record.Result == nil {
		return nil, errors.New("analysis result is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	saved := *record
	if saved.ID == "" {
		saved.ID = uuid.NewString()
	}
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(saved.Result)
	if err != nil {
		return nil, fmt.Errorf("encode analysis result: %w", err)
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO analyses (id, created_at, filename, mime_type, image_bytes, image_sha256, status, item_count, total_calories, result_json, endpoint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, saved.ID, saved.CreatedAt.UnixMilli(), saved.Filename, saved.MIMEType, saved.ImageBytes, saved.ImageDigest,
		saved.Result.Status, len(saved.Result.Items), saved.Result.Total.Calories, string(payload), saved.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("store analysis: %w", err)
	}

	if s.maxEntries > 0 {
		if err := s.prune(ctx, s.maxEntries); err != nil {
			return nil, err
		}
	}
	return &saved, nil
}

// ListAnalyses returns the newest analyses first.
func (s *Store) ListAnalyses(ctx context.Context, limit int) ([]*core.AnalysisRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, created_at, filename, mime_type, image_bytes, image_sha256, endpoint, result_json
		FROM analyses
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	records := make([]*core.AnalysisRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	return records, nil
}

// GetAnalysis returns one analysis by id.
func (s *Store) GetAnalysis(ctx context.Context, id string) (*core.AnalysisRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	row := s.DB.QueryRowContext(ctx, `
		SELECT id, created_at, filename, mime_type, image_bytes, image_sha256, endpoint, result_json
		FROM analyses
		WHERE id = ?
	`, strings.TrimSpace(id))

	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return record, nil
}

// DeleteAnalysis removes one analysis.
func (s *Store) DeleteAnalysis(ctx context.Context, id string) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	res, err := s.DB.ExecContext(ctx, `DELETE FROM analyses WHERE id = ?`, strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("delete analysis: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) prune(ctx context.Context, keep int) error {
	_, err := s.DB.ExecContext(ctx, `
		DELETE FROM analyses
		WHERE id NOT IN (
			SELECT id FROM analyses ORDER BY created_at DESC, id DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return fmt.Errorf("prune analyses: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*core.AnalysisRecord, error) {
	var (
		record    core.AnalysisRecord
		createdAt int64
		endpoint  sql.NullString
		payload   string
	)
	if err := row.Scan(&record.ID, &createdAt, &record.Filename, &record.MIMEType, &record.ImageBytes,
		&record.ImageDigest, &endpoint, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("read analysis: %w", err)
	}

	var result core.AnalysisResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("decode analysis result: %w", err)
	}

	record.CreatedAt = time.UnixMilli(createdAt).UTC()
	record.Endpoint = endpoint.String
	record.Result = &result
	return &record, nil
}
