package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/flight"
)

const pgUniqueViolation = "23505"

// Postgres implements every store port plus flight.Store on a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func marshalMap(m flight.FlightMap) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (p *Postgres) CreateFlight(ctx context.Context, st *flight.State) error {
	inputs, err := marshalMap(st.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}
	working, err := marshalMap(st.Working)
	if err != nil {
		return fmt.Errorf("marshal working: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO wsm.flight
			(flight_id, flight_type, status, step_index, direction,
			 inputs, working, error_code, error_message, submitted, completed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		st.FlightID, st.FlightType, st.Status, st.StepIndex, st.Direction,
		inputs, working, st.ErrorCode, st.ErrorMessage, st.Submitted, st.Completed)
	if isUniqueViolation(err) {
		return flight.ErrFlightExists
	}
	return err
}

func (p *Postgres) UpdateFlight(ctx context.Context, st *flight.State) error {
	working, err := marshalMap(st.Working)
	if err != nil {
		return fmt.Errorf("marshal working: %w", err)
	}
	tag, err := p.pool.Exec(ctx, `
		UPDATE wsm.flight SET
			status = $2, step_index = $3, direction = $4, working = $5,
			error_code = $6, error_message = $7, completed = $8
		WHERE flight_id = $1`,
		st.FlightID, st.Status, st.StepIndex, st.Direction, working,
		st.ErrorCode, st.ErrorMessage, st.Completed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return flight.ErrFlightNotFound
	}
	return nil
}

func scanFlight(row pgx.Row) (*flight.State, error) {
	var (
		st              flight.State
		inputs, working []byte
		errCode, errMsg *string
		completed       *time.Time
	)
	err := row.Scan(&st.FlightID, &st.FlightType, &st.Status, &st.StepIndex,
		&st.Direction, &inputs, &working, &errCode, &errMsg, &st.Submitted, &completed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, flight.ErrFlightNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(inputs, &st.Inputs); err != nil {
		return nil, fmt.Errorf("unmarshal inputs: %w", err)
	}
	if err := json.Unmarshal(working, &st.Working); err != nil {
		return nil, fmt.Errorf("unmarshal working: %w", err)
	}
	if errCode != nil {
		st.ErrorCode = *errCode
	}
	if errMsg != nil {
		st.ErrorMessage = *errMsg
	}
	st.Completed = completed
	return &st, nil
}

const flightColumns = `flight_id, flight_type, status, step_index, direction,
	inputs, working, error_code, error_message, submitted, completed`

func (p *Postgres) GetFlight(ctx context.Context, flightID string) (*flight.State, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+flightColumns+` FROM wsm.flight WHERE flight_id = $1`, flightID)
	return scanFlight(row)
}

func (p *Postgres) ListUnfinished(ctx context.Context) ([]*flight.State, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+flightColumns+`
		FROM wsm.flight
		WHERE status NOT IN ('SUCCESS', 'ERROR', 'FATAL')
		ORDER BY submitted`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*flight.State
	for rows.Next() {
		st, err := scanFlight(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
