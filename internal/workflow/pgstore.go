package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/vehicleflow/model"
)

const pgUniqueViolation = "23505"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS vehicles (
		vin              TEXT PRIMARY KEY,
		current_location TEXT NOT NULL,
		current_step     TEXT NOT NULL,
		attributes       JSONB NOT NULL DEFAULT '{}'::jsonb,
		location_history JSONB NOT NULL DEFAULT '[]'::jsonb,
		version          BIGINT NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL,
		last_moved_at    TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS vehicle_events (
		id            TEXT PRIMARY KEY,
		vin           TEXT NOT NULL REFERENCES vehicles (vin),
		sequence      BIGINT NOT NULL,
		from_location TEXT NOT NULL,
		to_location   TEXT NOT NULL,
		from_step     TEXT NOT NULL,
		to_step       TEXT NOT NULL,
		actor         TEXT NOT NULL,
		reason        TEXT NOT NULL DEFAULT '',
		metadata      JSONB,
		occurred_at   TIMESTAMPTZ NOT NULL,
		UNIQUE (vin, sequence)
	)`,
}

// PgStore is a PostgreSQL-backed Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureSchema creates the vehicles and vehicle_events tables if absent.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateVehicle inserts a new vehicle.
func (s *PgStore) CreateVehicle(ctx context.Context, v model.Vehicle) error {
	attrsJSON, historyJSON, err := marshalVehicleJSON(v)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO vehicles (
			vin, current_location, current_step, attributes, location_history,
			version, created_at, updated_at, last_moved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		v.VIN, v.CurrentLocation, v.CurrentStep, attrsJSON, historyJSON,
		v.Version, v.CreatedAt, v.UpdatedAt, nullableTime(v.LastMovedAt),
	)
	if isUniqueViolation(err) {
		return model.NewConflictError(fmt.Sprintf("vehicle %q already exists", v.VIN))
	}
	if err != nil {
		return fmt.Errorf("insert vehicle: %w", err)
	}
	return nil
}

// GetVehicle retrieves a vehicle by VIN.
func (s *PgStore) GetVehicle(ctx context.Context, vin string) (model.Vehicle, error) {
	return s.getVehicle(ctx, s.pool, vin)
}

// UpdateAttributes merges attrs into the stored attribute bag with optimistic
// locking.
func (s *PgStore) UpdateAttributes(ctx context.Context, vin string, attrs map[string]any, version int64) (model.Vehicle, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Vehicle{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	v, err := s.getVehicle(ctx, tx, vin)
	if err != nil {
		return model.Vehicle{}, err
	}
	if v.Version != version {
		return model.Vehicle{}, model.NewConcurrentModificationError(vin)
	}

	v.Attributes = mergeAttributes(v.Attributes, attrs)
	attrsJSON, err := json.Marshal(v.Attributes)
	if err != nil {
		return model.Vehicle{}, fmt.Errorf("marshal attributes: %w", err)
	}

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE vehicles SET
			attributes = $1,
			version = version + 1,
			updated_at = $2
		WHERE vin = $3 AND version = $4`,
		attrsJSON, now, vin, version,
	)
	if err != nil {
		return model.Vehicle{}, fmt.Errorf("update attributes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.Vehicle{}, model.NewConcurrentModificationError(vin)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Vehicle{}, fmt.Errorf("commit attributes: %w", err)
	}

	v.Version++
	v.UpdatedAt = now
	return v, nil
}

// CommitMove updates the vehicle row and inserts the event in one
// transaction.
func (s *PgStore) CommitMove(ctx context.Context, v model.Vehicle, event model.WorkflowEvent) error {
	historyJSON, err := json.Marshal(v.LocationHistory)
	if err != nil {
		return fmt.Errorf("marshal location history: %w", err)
	}
	metadataJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		UPDATE vehicles SET
			current_location = $1,
			current_step = $2,
			location_history = $3,
			version = version + 1,
			updated_at = $4,
			last_moved_at = $5
		WHERE vin = $6 AND version = $7`,
		v.CurrentLocation, v.CurrentStep, historyJSON,
		v.UpdatedAt, nullableTime(v.LastMovedAt),
		v.VIN, v.Version,
	)
	if err != nil {
		return fmt.Errorf("update vehicle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.getVehicle(ctx, tx, v.VIN); err != nil {
			return err
		}
		return model.NewConcurrentModificationError(v.VIN)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO vehicle_events (
			id, vin, sequence, from_location, to_location,
			from_step, to_step, actor, reason, metadata, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		event.ID, event.VIN, event.Sequence, event.FromLocation, event.ToLocation,
		event.FromStep, event.ToStep, event.Actor, event.Reason, metadataJSON, event.Timestamp,
	)
	if isUniqueViolation(err) {
		return model.NewConcurrentModificationError(v.VIN)
	}
	if err != nil {
		return fmt.Errorf("insert vehicle event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit move: %w", err)
	}
	return nil
}

// History returns the vehicle's events ordered by sequence.
func (s *PgStore) History(ctx context.Context, vin string) ([]model.WorkflowEvent, error) {
	if _, err := s.GetVehicle(ctx, vin); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, vin, sequence, from_location, to_location,
		       from_step, to_step, actor, reason, metadata, occurred_at
		FROM vehicle_events
		WHERE vin = $1
		ORDER BY sequence ASC`,
		vin,
	)
	if err != nil {
		return nil, fmt.Errorf("query vehicle events: %w", err)
	}
	defer rows.Close()

	var events []model.WorkflowEvent
	for rows.Next() {
		var evt model.WorkflowEvent
		var metadataJSON []byte
		if err := rows.Scan(
			&evt.ID, &evt.VIN, &evt.Sequence, &evt.FromLocation, &evt.ToLocation,
			&evt.FromStep, &evt.ToStep, &evt.Actor, &evt.Reason, &metadataJSON, &evt.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan vehicle event: %w", err)
		}
		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &evt.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal event metadata: %w", err)
			}
		}
		evt.Timestamp = evt.Timestamp.UTC()
		events = append(events, evt)
	}
	return events, rows.Err()
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PgStore) getVehicle(ctx context.Context, q rowQuerier, vin string) (model.Vehicle, error) {
	var v model.Vehicle
	var attrsJSON, historyJSON []byte
	var lastMoved *time.Time

	err := q.QueryRow(ctx, `
		SELECT vin, current_location, current_step, attributes, location_history,
		       version, created_at, updated_at, last_moved_at
		FROM vehicles
		WHERE vin = $1`,
		vin,
	).Scan(
		&v.VIN, &v.CurrentLocation, &v.CurrentStep, &attrsJSON, &historyJSON,
		&v.Version, &v.CreatedAt, &v.UpdatedAt, &lastMoved,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Vehicle{}, model.NewEntityNotFoundError(vin)
	}
	if err != nil {
		return model.Vehicle{}, fmt.Errorf("query vehicle: %w", err)
	}

	if attrsJSON != nil {
		if err := json.Unmarshal(attrsJSON, &v.Attributes); err != nil {
			return model.Vehicle{}, fmt.Errorf("unmarshal attributes: %w", err)
		}
	}
	if historyJSON != nil {
		if err := json.Unmarshal(historyJSON, &v.LocationHistory); err != nil {
			return model.Vehicle{}, fmt.Errorf("unmarshal location history: %w", err)
		}
	}
	v.CreatedAt = v.CreatedAt.UTC()
	v.UpdatedAt = v.UpdatedAt.UTC()
	if lastMoved != nil {
		v.LastMovedAt = lastMoved.UTC()
	}
	return v, nil
}

func marshalVehicleJSON(v model.Vehicle) (attrs, history []byte, err error) {
	bag := v.Attributes
	if bag == nil {
		bag = map[string]any{}
	}
	attrs, err = json.Marshal(bag)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal attributes: %w", err)
	}
	visits := v.LocationHistory
	if visits == nil {
		visits = []model.LocationVisit{}
	}
	history, err = json.Marshal(visits)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal location history: %w", err)
	}
	return attrs, history, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
