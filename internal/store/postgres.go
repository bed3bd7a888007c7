package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/stackbirds/invoiceguard/internal/db"
	"github.com/stackbirds/invoiceguard/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_observation": `INSERT INTO observations (id, vendor_id, item, quantity, unit_price, invoice_number, observed_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"get_observations":   `SELECT vendor_id, item, quantity::text, unit_price::text, invoice_number, observed_at FROM observations WHERE vendor_id = $1 AND item = $2 ORDER BY observed_at ASC, id ASC`,
	"insert_decision":    `INSERT INTO decisions (id, invoice_number, vendor_id, status, record, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"get_decision":       `SELECT record, approved_at, approved_by FROM decisions WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS observations (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	vendor_id      TEXT NOT NULL,
	item           TEXT NOT NULL,
	quantity       NUMERIC NOT NULL,
	unit_price     NUMERIC NOT NULL,
	invoice_number TEXT,
	observed_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS approvals (
	invoice_number TEXT PRIMARY KEY,
	vendor_id      TEXT NOT NULL,
	decision_id    TEXT,
	approved_by    TEXT NOT NULL,
	approved_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS decisions (
	id             TEXT PRIMARY KEY,
	invoice_number TEXT NOT NULL,
	vendor_id      TEXT,
	status         TEXT NOT NULL,
	record         JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	approved_at    TIMESTAMPTZ,
	approved_by    TEXT
);

CREATE INDEX IF NOT EXISTS idx_observations_vendor_item ON observations(vendor_id, item);
CREATE INDEX IF NOT EXISTS idx_observations_invoice ON observations(invoice_number);
CREATE INDEX IF NOT EXISTS idx_decisions_status ON decisions(status);
CREATE INDEX IF NOT EXISTS idx_decisions_vendor ON decisions(vendor_id);
CREATE INDEX IF NOT EXISTS idx_decisions_invoice ON decisions(invoice_number);
CREATE INDEX IF NOT EXISTS idx_decisions_created_at ON decisions(created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveDecision(ctx context.Context, rec *model.DecisionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal decision record")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO decisions (id, invoice_number, vendor_id, status, record, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.InvoiceNumber, rec.VendorID, string(rec.Decision.Status), recordJSON, rec.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert decision")
}

func (s *PostgresStore) GetDecision(ctx context.Context, id string) (*model.DecisionRecord, error) {
	var recordJSON []byte
	var approvedAt *time.Time
	var approvedBy *string

	err := s.pool.QueryRow(ctx,
		`SELECT record, approved_at, approved_by FROM decisions WHERE id = $1`,
		id,
	).Scan(&recordJSON, &approvedAt, &approvedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get decision %s", id)
	}

	return decodeDecisionRecord(recordJSON, approvedAt, approvedBy)
}

func (s *PostgresStore) ListDecisions(ctx context.Context, filter DecisionFilter) ([]model.DecisionRecord, error) {
	query := `SELECT record, approved_at, approved_by FROM decisions WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.VendorID != "" {
		query += fmt.Sprintf(` AND vendor_id = $%d`, argIdx)
		args = append(args, filter.VendorID)
		argIdx++
	}
	if filter.InvoiceNumber != "" {
		query += fmt.Sprintf(` AND invoice_number = $%d`, argIdx)
		args = append(args, filter.InvoiceNumber)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list decisions")
	}
	defer rows.Close()

	var recs []model.DecisionRecord
	for rows.Next() {
		var recordJSON []byte
		var approvedAt *time.Time
		var approvedBy *string

		if err := rows.Scan(&recordJSON, &approvedAt, &approvedBy); err != nil {
			return nil, eris.Wrap(err, "postgres: scan decision")
		}
		rec, err := decodeDecisionRecord(recordJSON, approvedAt, approvedBy)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list decisions iterate")
}

func (s *PostgresStore) RecordObservation(ctx context.Context, obs model.PriceObservation) error {
	if err := validateObservation(obs); err != nil {
		return err
	}
	observedAt := obs.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO observations (id, vendor_id, item, quantity, unit_price, invoice_number, observed_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New().String(), obs.VendorID, obs.Item, obs.Quantity.String(), obs.UnitPrice.String(), obs.InvoiceNumber, observedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert observation %s/%s", obs.VendorID, obs.Item)
}

func (s *PostgresStore) Observations(ctx context.Context, vendorID, item string) ([]model.PriceObservation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT vendor_id, item, quantity::text, unit_price::text, invoice_number, observed_at FROM observations WHERE vendor_id = $1 AND item = $2 ORDER BY observed_at ASC, id ASC`,
		vendorID, item,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query observations")
	}
	defer rows.Close()

	var obs []model.PriceObservation
	for rows.Next() {
		var o model.PriceObservation
		var qty, price string
		var invoice *string

		if err := rows.Scan(&o.VendorID, &o.Item, &qty, &price, &invoice, &o.ObservedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan observation")
		}
		if o.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, eris.Wrapf(err, "postgres: parse quantity %q", qty)
		}
		if o.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, eris.Wrapf(err, "postgres: parse unit price %q", price)
		}
		if invoice != nil {
			o.InvoiceNumber = *invoice
		}
		o.Origin = model.OriginLearned
		obs = append(obs, o)
	}
	return obs, eris.Wrap(rows.Err(), "postgres: observations iterate")
}

func (s *PostgresStore) Stats(ctx context.Context) (model.HistoryStats, error) {
	var st model.HistoryStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(DISTINCT vendor_id) FROM observations),
			(SELECT COUNT(*) FROM (SELECT DISTINCT vendor_id, item FROM observations) AS pairs),
			(SELECT COUNT(*) FROM observations),
			(SELECT COUNT(*) FROM approvals),
			(SELECT COUNT(*) FROM decisions)`,
	).Scan(&st.Vendors, &st.Items, &st.Observations, &st.Approvals, &st.Decisions)
	return st, eris.Wrap(err, "postgres: stats")
}

// RecordApproval inserts the approval row, appends one observation per line
// item, and stamps the originating decision, all in one transaction. A
// duplicate invoice number leaves the history untouched and returns
// ErrAlreadyApproved.
func (s *PostgresStore) RecordApproval(ctx context.Context, approval model.Approval, obs []model.PriceObservation) error {
	if approval.InvoiceNumber == "" {
		return eris.New("store: approval requires an invoice number")
	}
	approvedAt := approval.ApprovedAt
	if approvedAt.IsZero() {
		approvedAt = time.Now().UTC()
	}

	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO approvals (invoice_number, vendor_id, decision_id, approved_by, approved_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (invoice_number) DO NOTHING`,
			approval.InvoiceNumber, approval.VendorID, approval.DecisionID, approval.ApprovedBy, approvedAt.UTC(),
		)
		if err != nil {
			return eris.Wrap(err, "postgres: insert approval")
		}
		if tag.RowsAffected() == 0 {
			return ErrAlreadyApproved
		}

		for _, o := range obs {
			if err := validateObservation(o); err != nil {
				return err
			}
			observedAt := o.ObservedAt
			if observedAt.IsZero() {
				observedAt = approvedAt
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO observations (id, vendor_id, item, quantity, unit_price, invoice_number, observed_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				uuid.New().String(), o.VendorID, o.Item, o.Quantity.String(), o.UnitPrice.String(), o.InvoiceNumber, observedAt.UTC(),
			); err != nil {
				return eris.Wrapf(err, "postgres: insert observation %s/%s", o.VendorID, o.Item)
			}
		}

		if approval.DecisionID != "" {
			if _, err := tx.Exec(ctx,
				`UPDATE decisions SET approved_at = $1, approved_by = $2 WHERE id = $3`,
				approvedAt.UTC(), approval.ApprovedBy, approval.DecisionID,
			); err != nil {
				return eris.Wrapf(err, "postgres: mark decision approved %s", approval.DecisionID)
			}
		}
		return nil
	})
}

func decodeDecisionRecord(recordJSON []byte, approvedAt *time.Time, approvedBy *string) (*model.DecisionRecord, error) {
	var rec model.DecisionRecord
	if err := json.Unmarshal(recordJSON, &rec); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal decision record")
	}
	// Approval columns are written after the record JSON and win over it.
	if approvedAt != nil {
		rec.ApprovedAt = approvedAt
	}
	if approvedBy != nil {
		rec.ApprovedBy = *approvedBy
	}
	return &rec, nil
}
