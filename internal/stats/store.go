package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kueri-lab/trecpipe/pkg/postgres"
)

// Store persists pass summaries in PostgreSQL so runs can be audited next
// to their evaluation scores. It uses the pass_summaries table from
// postgres.Schema.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "pass-store"),
	}
}

// Save upserts the summary keyed by pass id.
func (s *Store) Save(ctx context.Context, sum Summary) error {
	data, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("marshaling pass summary: %w", err)
	}

	_, err = s.db.DB.ExecContext(ctx,
		`INSERT INTO pass_summaries (pass_id, stage, data, captured_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (pass_id) DO UPDATE SET data = EXCLUDED.data, captured_at = EXCLUDED.captured_at`,
		sum.PassID, sum.Stage, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving pass summary: %w", err)
	}

	s.logger.Info("pass summary saved",
		"pass_id", sum.PassID,
		"stage", sum.Stage,
	)
	return nil
}
