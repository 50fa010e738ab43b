package softlaunch

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jrsteele09/go-access-broker/internal/errors"
	"github.com/rs/zerolog/log"
)

// Querier is the part of *pgxpool.Pool the store uses.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore keeps release windows in the soft_launch_release table.
type PostgresStore struct {
	db            Querier
	releaseLength time.Duration
	nowFunc       func() time.Time
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db Querier, releaseLength time.Duration, nowFunc func() time.Time) *PostgresStore {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &PostgresStore{db: db, releaseLength: releaseLength, nowFunc: nowFunc}
}

// NewPool parses dsn, applies maxConns and pings the database.
func NewPool(ctx context.Context, dsn string, maxConns int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid soft launch dsn")
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	cfg.MaxConnIdleTime = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errors.Wrapf(err, "soft launch database unreachable")
	}

	log.Info().Str("host", cfg.ConnConfig.Host).Str("db", cfg.ConnConfig.Database).Msg("connected to soft launch database")
	return pool, nil
}

func (s *PostgresStore) BlockStatus(ctx context.Context, key Key) (BlockStatus, error) {
	if err := key.Validate(); err != nil {
		return BlockStatus{}, err
	}

	const query = `
		SELECT data_inicio, data_fim
		FROM soft_launch_release
		WHERE codigocurso = $1 AND identificadorpersona = $2 AND codigocampus = $3 AND codigoperiodoletivo = $4
		ORDER BY data_fim DESC
		LIMIT 1
	`
	var w Window
	err := s.db.QueryRow(ctx, query, key.CourseCode, key.PersonaID, key.CampusCode, key.PeriodCode).Scan(&w.Start, &w.End)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return statusFor(Window{}, false, today(s.nowFunc())), nil
		}
		return BlockStatus{}, errors.Wrapf(err, "failed to read release window")
	}
	return statusFor(w, true, today(s.nowFunc())), nil
}

func (s *PostgresStore) Release(ctx context.Context, key Key) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	day := today(s.nowFunc())

	const query = `
		INSERT INTO soft_launch_release (codigocurso, identificadorpersona, codigocampus, codigoperiodoletivo, data_inicio, data_fim)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (codigocurso, identificadorpersona, codigocampus, codigoperiodoletivo) DO UPDATE
		SET data_inicio = EXCLUDED.data_inicio,
			data_fim = EXCLUDED.data_fim
	`
	tag, err := s.db.Exec(ctx, query, key.CourseCode, key.PersonaID, key.CampusCode, key.PeriodCode, day, day.Add(s.releaseLength))
	if err != nil {
		return 0, errors.Wrapf(err, "failed to release student")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Block(ctx context.Context, key Key) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	day := today(s.nowFunc())

	const query = `
		UPDATE soft_launch_release
		SET data_fim = $5,
			data_inicio = LEAST(data_inicio, $5)
		WHERE codigocurso = $1 AND identificadorpersona = $2 AND codigocampus = $3 AND codigoperiodoletivo = $4
			AND data_fim > $5
	`
	tag, err := s.db.Exec(ctx, query, key.CourseCode, key.PersonaID, key.CampusCode, key.PeriodCode, day)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to block student")
	}
	return tag.RowsAffected(), nil
}
