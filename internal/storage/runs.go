package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// StartRun records a new run attempt.
func (s *SQLiteStorage) StartRun(run RunRecord) error {
	if !s.enabled || s.db == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	status := run.Status
	if status == "" {
		status = StatusRunning
	}
	startedAt := run.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO runs (attempt_id, run_id, output_file, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, run.AttemptID, run.RunID, run.OutputFile, status, startedAt.UTC().Format(time.RFC3339))
	if err != nil {
		s.logger.Warn("failed to record run start", zap.String("attempt_id", run.AttemptID), zap.Error(err))
	}
	return nil
}

// FinishRun stores the outcome of a run attempt.
func (s *SQLiteStorage) FinishRun(attemptID string, outcome RunOutcome) error {
	if !s.enabled || s.db == nil {
		return nil
	}

	failed := outcome.Failed
	if failed == nil {
		failed = []int{}
	}
	failedJSON, err := json.Marshal(failed)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		UPDATE runs
		SET status = ?, records = ?, failed = ?, message = ?, finished_at = ?
		WHERE attempt_id = ?
	`, outcome.Status, outcome.Records, string(failedJSON), outcome.Message,
		time.Now().UTC().Format(time.RFC3339), attemptID)
	if err != nil {
		s.logger.Warn("failed to record run outcome", zap.String("attempt_id", attemptID), zap.Error(err))
	}
	return nil
}

// ListRuns returns the most recent run attempts, newest first.
func (s *SQLiteStorage) ListRuns(limit int) ([]RunRecord, error) {
	if !s.enabled || s.db == nil {
		return []RunRecord{}, nil
	}
	if limit <= 0 {
		limit = 20
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT attempt_id, run_id, output_file, status, records, failed, message, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var run RunRecord
		var failedJSON, startedStr string
		var finishedStr sql.NullString

		if err := rows.Scan(
			&run.AttemptID,
			&run.RunID,
			&run.OutputFile,
			&run.Status,
			&run.Records,
			&failedJSON,
			&run.Message,
			&startedStr,
			&finishedStr,
		); err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(failedJSON), &run.Failed); err != nil {
			s.logger.Warn("failed to parse failed indices", zap.String("attempt_id", run.AttemptID), zap.Error(err))
		}
		run.StartedAt, _ = time.Parse(time.RFC3339, startedStr)
		if finishedStr.Valid {
			if finished, err := time.Parse(time.RFC3339, finishedStr.String); err == nil {
				run.FinishedAt = &finished
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
