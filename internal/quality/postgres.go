package quality

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"

	"github.com/lib/pq"

	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
	"github.com/kueri-lab/trecpipe/pkg/postgres"
)

// PostgresSource reads scores from the quality_scores table.
type PostgresSource struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db, logger: slog.Default().With("component", "quality-postgres")}
}

func (s *PostgresSource) Name() string { return "postgres" }

func (s *PostgresSource) Lookup(ctx context.Context, keys []Key) ([]Result, error) {
	results := make([]Result, len(keys))
	if len(keys) == 0 {
		return results, nil
	}
	seen := make(map[string]struct{}, len(keys))
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k.DocumentID]; !ok {
			seen[k.DocumentID] = struct{}{}
			ids = append(ids, k.DocumentID)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, score FROM quality_scores WHERE doc_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrResourceUnavailable, "quality.PostgresSource", "querying scores: %v", err)
	}
	defer rows.Close()

	scores := make(map[string]float32, len(ids))
	for rows.Next() {
		var id string
		var score float32
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("scanning score row: %w", err)
		}
		scores[id] = score
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating score rows: %w", err)
	}

	for i, k := range keys {
		if score, ok := scores[k.DocumentID]; ok {
			results[i] = Result{Score: score, Found: true}
		}
	}
	return results, nil
}

// LoadScores upserts every score into quality_scores in one transaction.
// Rows are copied into a staging table first so the load is a single COPY.
func LoadScores(ctx context.Context, client *postgres.Client, scores map[string]float32) (int, error) {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var upserted int64
	err := client.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`CREATE TEMP TABLE quality_scores_stage (doc_id TEXT, score REAL) ON COMMIT DROP`); err != nil {
			return fmt.Errorf("creating staging table: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("quality_scores_stage", "doc_id", "score"))
		if err != nil {
			return fmt.Errorf("preparing copy: %w", err)
		}
		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, id, scores[id]); err != nil {
				stmt.Close()
				return fmt.Errorf("copying score for %s: %w", id, err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			stmt.Close()
			return fmt.Errorf("flushing copy: %w", err)
		}
		if err := stmt.Close(); err != nil {
			return fmt.Errorf("closing copy: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
INSERT INTO quality_scores (doc_id, score)
SELECT doc_id, score FROM quality_scores_stage
ON CONFLICT (doc_id) DO UPDATE SET score = EXCLUDED.score, loaded_at = NOW()`)
		if err != nil {
			return fmt.Errorf("upserting scores: %w", err)
		}
		upserted, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	slog.Default().With("component", "quality-postgres").Info("scores loaded", "count", upserted)
	return int(upserted), nil
}
