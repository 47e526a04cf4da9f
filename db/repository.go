package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no generation has the requested id.
var ErrNotFound = errors.New("db: generation not found")

// DefaultHistoryLimit caps RecentGenerations when no limit is given.
const DefaultHistoryLimit = 20

// Generation is one stored image generation.
type Generation struct {
	ID         string    `json:"id" yaml:"id"`
	Prompt     string    `json:"prompt" yaml:"prompt"`
	Height     int       `json:"height" yaml:"height"`
	Width      int       `json:"width" yaml:"width"`
	Steps      int       `json:"steps" yaml:"steps"`
	Seed       int64     `json:"seed" yaml:"seed"`
	Device     string    `json:"device" yaml:"device"`
	ImagePath  string    `json:"image_path,omitempty" yaml:"image_path,omitempty"`
	ThumbPath  string    `json:"thumb_path,omitempty" yaml:"thumb_path,omitempty"`
	DurationMS int64     `json:"duration_ms" yaml:"duration_ms"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

const generationColumns = `id, prompt, height, width, steps, seed, device,
	image_path, thumb_path, duration_ms, created_at`

// InsertGeneration stores g. A zero CreatedAt is set to now.
func (d *Database) InsertGeneration(ctx context.Context, g Generation) error {
	conn, release, err := d.conn()
	defer release()
	if err != nil {
		return err
	}

	if g.ID == "" {
		return fmt.Errorf("generation id is required")
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}

	_, err = conn.ExecContext(ctx,
		`INSERT INTO generations (`+generationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Prompt, g.Height, g.Width, g.Steps, g.Seed, g.Device,
		g.ImagePath, g.ThumbPath, g.DurationMS, g.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert generation %s: %w", g.ID, err)
	}
	return nil
}

// GetGeneration returns the generation with id, or ErrNotFound.
func (d *Database) GetGeneration(ctx context.Context, id string) (Generation, error) {
	conn, release, err := d.conn()
	defer release()
	if err != nil {
		return Generation{}, err
	}

	row := conn.QueryRowContext(ctx,
		`SELECT `+generationColumns+` FROM generations WHERE id = ?`, id)
	g, err := scanGeneration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Generation{}, ErrNotFound
	}
	if err != nil {
		return Generation{}, fmt.Errorf("failed to get generation %s: %w", id, err)
	}
	return g, nil
}

// RecentGenerations returns up to limit generations, newest first.
// A limit of 0 or less uses DefaultHistoryLimit.
func (d *Database) RecentGenerations(ctx context.Context, limit int) ([]Generation, error) {
	conn, release, err := d.conn()
	defer release()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := conn.QueryContext(ctx,
		`SELECT `+generationColumns+` FROM generations
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query generations: %w", err)
	}
	defer rows.Close()

	var out []Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generation: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// CountGenerations returns the number of stored generations.
func (d *Database) CountGenerations(ctx context.Context) (int, error) {
	conn, release, err := d.conn()
	defer release()
	if err != nil {
		return 0, err
	}

	var n int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM generations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count generations: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGeneration(s scanner) (Generation, error) {
	var (
		g         Generation
		createdMS int64
	)
	err := s.Scan(&g.ID, &g.Prompt, &g.Height, &g.Width, &g.Steps, &g.Seed, &g.Device,
		&g.ImagePath, &g.ThumbPath, &g.DurationMS, &createdMS)
	if err != nil {
		return Generation{}, err
	}
	g.CreatedAt = time.UnixMilli(createdMS)
	return g, nil
}
