package storage

import (
	"time"

	"go.uber.org/zap"
)

// SaveEmbedding caches the embedding of text computed by model. Existing
// entries are kept: a cached vector is never overwritten.
func (s *SQLiteStorage) SaveEmbedding(model, text string, vector []float32) error {
	if !s.enabled || s.db == nil {
		return nil
	}

	vectorJSON, err := vectorToJSON(vector)
	if err != nil {
		s.logger.Warn("failed to marshal vector", zap.Error(err))
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT OR IGNORE INTO example_embeddings (model, text_hash, vector, created_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err := s.db.Exec(query, model, HashText(text), vectorJSON, time.Now().Format(time.RFC3339)); err != nil {
		s.logger.Warn("failed to save embedding", zap.String("model", model), zap.Error(err))
	}
	return nil
}

// GetEmbedding returns the cached embedding of text, or nil when absent.
func (s *SQLiteStorage) GetEmbedding(model, text string) ([]float32, error) {
	if !s.enabled || s.db == nil {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT vector
		FROM example_embeddings
		WHERE model = ? AND text_hash = ?
	`, model, HashText(text))
	if err != nil {
		s.logger.Warn("failed to query embedding", zap.Error(err))
		return nil, nil
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}

	var vectorJSON string
	if err := rows.Scan(&vectorJSON); err != nil {
		s.logger.Warn("failed to scan embedding", zap.Error(err))
		return nil, nil
	}

	vector, err := jsonToVector(vectorJSON)
	if err != nil {
		s.logger.Warn("failed to parse embedding vector", zap.Error(err))
		return nil, nil
	}
	return vector, nil
}

// EmbeddingStats returns the number of cached vectors per model.
func (s *SQLiteStorage) EmbeddingStats() (map[string]int, error) {
	stats := make(map[string]int)
	if !s.enabled || s.db == nil {
		return stats, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT model, COUNT(*)
		FROM example_embeddings
		GROUP BY model
		ORDER BY model
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var model string
		var count int
		if err := rows.Scan(&model, &count); err != nil {
			return nil, err
		}
		stats[model] = count
	}
	return stats, rows.Err()
}

// ClearEmbeddings removes cached vectors of model, or all when model is "".
func (s *SQLiteStorage) ClearEmbeddings(model string) (int64, error) {
	if !s.enabled || s.db == nil {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := "DELETE FROM example_embeddings"
	var args []any
	if model != "" {
		query += " WHERE model = ?"
		args = append(args, model)
	}

	result, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
