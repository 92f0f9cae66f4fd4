package game

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Annals is the permanent record of finished years: one row per year
// holding the final post-award standings.
type Annals struct {
	db *pgxpool.Pool
}

func NewAnnals(db *pgxpool.Pool) *Annals {
	return &Annals{db: db}
}

// Record stores the standings for a year, replacing any earlier write for
// the same year so a retried settlement cannot duplicate it.
func (a *Annals) Record(ctx context.Context, year int, rankings []AnnalsRow) error {
	raw, err := json.Marshal(rankings)
	if err != nil {
		return fmt.Errorf("annals %d: encode: %w", year, err)
	}
	_, err = a.db.Exec(ctx, `
		INSERT INTO annals (year, results)
		VALUES ($1, $2)
		ON CONFLICT (year) DO UPDATE SET results = EXCLUDED.results
	`, year, raw)
	return err
}

// Results returns the recorded standings for a year, or ErrNotFound when
// the year has never been settled.
func (a *Annals) Results(ctx context.Context, year int) ([]AnnalsRow, error) {
	var raw []byte
	err := a.db.QueryRow(ctx, `SELECT results FROM annals WHERE year = $1`, year).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("annals for %d: %w", year, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var rankings []AnnalsRow
	if err := json.Unmarshal(raw, &rankings); err != nil {
		return nil, fmt.Errorf("annals %d: decode: %w", year, err)
	}
	return rankings, nil
}
