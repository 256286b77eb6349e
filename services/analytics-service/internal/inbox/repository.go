package inbox

import (
	"context"
	"errors"

	"github.com/fomo-app/fomo/libs/db"
	"github.com/jackc/pgx/v5"
)

var errDuplicate = errors.New("duplicate event")

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Process claims eventID and runs fn in the same transaction. It reports false without calling
// fn when the event was already processed; a failing fn releases the claim.
func (r *Repository) Process(ctx context.Context, eventID, eventType string, fn func(pgx.Tx) error) (bool, error) {
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if eventID != "" {
			tag, err := tx.Exec(ctx, `
				INSERT INTO inbox_events (event_id, event_type)
				VALUES ($1, $2)
				ON CONFLICT (event_id) DO NOTHING
			`, eventID, eventType)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return errDuplicate
			}
		}
		return fn(tx)
	})
	if errors.Is(err, errDuplicate) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
