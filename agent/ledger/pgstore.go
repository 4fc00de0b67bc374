package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Store persists whole-ledger snapshots.
type Store interface {
	SaveAll(ctx context.Context, entries []Entry) error
	LoadAll(ctx context.Context) ([]Entry, error)
}

type PostgresConfig struct {
	DSN     string        `envconfig:"DSN" split_words:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
	// SnapshotSpec is a robfig/cron spec with seconds.
	SnapshotSpec string `envconfig:"SNAPSHOT_SPEC" split_words:"true" default:"0 */5 * * * *"`
}

func (c PostgresConfig) Enabled() bool {
	return strings.TrimSpace(c.DSN) != ""
}

type entryRow struct {
	bun.BaseModel `bun:"table:pantry_ledger,alias:pl"`

	Name      string    `bun:"name,pk"`
	Position  int       `bun:"position,notnull"`
	Quantity  *int      `bun:"quantity"`
	Unit      string    `bun:"unit,notnull"`
	Status    string    `bun:"status,notnull"`
	Override  bool      `bun:"override,notnull,default:false"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// PostgresStore keeps the ledger in a single table keyed by canonical name.
type PostgresStore struct {
	db      *bun.DB
	timeout time.Duration
}

func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	store := &PostgresStore{db: db, timeout: cfg.Timeout}
	if store.timeout <= 0 {
		store.timeout = 10 * time.Second
	}

	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.db.NewCreateTable().Model((*entryRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create ledger table: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveAll(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows := make([]entryRow, 0, len(entries))
	for i, e := range entries {
		rows = append(rows, entryRow{
			Name:      e.Name,
			Position:  i,
			Quantity:  e.Quantity,
			Unit:      e.Unit,
			Status:    string(e.Status),
			Override:  e.Override,
			UpdatedAt: e.UpdatedAt,
		})
	}

	_, err := s.db.NewInsert().
		Model(&rows).
		On("CONFLICT (name) DO UPDATE").
		Set("position = EXCLUDED.position").
		Set("quantity = EXCLUDED.quantity").
		Set("unit = EXCLUDED.unit").
		Set("status = EXCLUDED.status").
		Set("override = EXCLUDED.override").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert ledger rows: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadAll(ctx context.Context) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []entryRow
	if err := s.db.NewSelect().Model(&rows).Order("position ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("select ledger rows: %w", err)
	}

	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r entryRow) entry() (Entry, error) {
	status, err := ParseStatus(r.Status)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger row %q: %w", r.Name, err)
	}
	return Entry{
		Name:      r.Name,
		Quantity:  r.Quantity,
		Unit:      r.Unit,
		Status:    status,
		Override:  r.Override,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
