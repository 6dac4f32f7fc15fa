package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stroke is one uploaded batch of sensor data. DeviceID is set when the
// stroke came in through a device token.
type Stroke struct {
	ID        string          `json:"id"`
	DeviceID  *int64          `json:"device_id"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// SaveStroke stores data, which must be valid JSON.
func (s *Store) SaveStroke(ctx context.Context, data json.RawMessage, deviceID *int64) (Stroke, error) {
	if !json.Valid(data) {
		return Stroke{}, fmt.Errorf("stroke data is not valid JSON")
	}

	st := Stroke{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Data:      data,
		CreatedAt: s.Now(),
	}
	var dev any
	if deviceID != nil {
		dev = *deviceID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO strokes (id, device_id, data, created_at) VALUES (?, ?, ?, ?)`,
		st.ID, dev, string(data), st.CreatedAt.Format(timeLayout))
	if err != nil {
		return Stroke{}, fmt.Errorf("insert stroke: %w", err)
	}
	return st, nil
}

// ListStrokes returns strokes oldest first, optionally only those of one device.
func (s *Store) ListStrokes(ctx context.Context, deviceID *int64) ([]Stroke, error) {
	query := `SELECT id, device_id, data, created_at FROM strokes`
	var args []any
	if deviceID != nil {
		query += ` WHERE device_id = ?`
		args = append(args, *deviceID)
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query strokes: %w", err)
	}
	defer rows.Close()

	strokes := []Stroke{}
	for rows.Next() {
		var (
			st      Stroke
			dev     sql.NullInt64
			data    string
			created string
		)
		if err := rows.Scan(&st.ID, &dev, &data, &created); err != nil {
			return nil, fmt.Errorf("scan stroke: %w", err)
		}
		if dev.Valid {
			id := dev.Int64
			st.DeviceID = &id
		}
		st.Data = json.RawMessage(data)
		if st.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		strokes = append(strokes, st)
	}
	return strokes, rows.Err()
}

// LEDState returns the stored LED state, false when never set.
func (s *Store) LEDState(ctx context.Context) (bool, error) {
	var on bool
	err := s.db.QueryRowContext(ctx, `SELECT state FROM led_state WHERE id = 1`).Scan(&on)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query led state: %w", err)
	}
	return on, nil
}

func (s *Store) SetLEDState(ctx context.Context, on bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO led_state (id, state) VALUES (1, ?) ON CONFLICT(id) DO UPDATE SET state = excluded.state`, on)
	if err != nil {
		return fmt.Errorf("update led state: %w", err)
	}
	return nil
}
