package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/stackbirds/invoiceguard/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// synchronous=FULL so an approval's observations are on disk before
// RecordApproval returns.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS observations (
	id             TEXT PRIMARY KEY,
	vendor_id      TEXT NOT NULL,
	item           TEXT NOT NULL,
	quantity       TEXT NOT NULL,
	unit_price     TEXT NOT NULL,
	invoice_number TEXT,
	observed_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS approvals (
	invoice_number TEXT PRIMARY KEY,
	vendor_id      TEXT NOT NULL,
	decision_id    TEXT,
	approved_by    TEXT NOT NULL,
	approved_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS decisions (
	id             TEXT PRIMARY KEY,
	invoice_number TEXT NOT NULL,
	vendor_id      TEXT,
	status         TEXT NOT NULL,
	record         TEXT NOT NULL,
	created_at     DATETIME NOT NULL,
	approved_at    DATETIME,
	approved_by    TEXT
);

CREATE INDEX IF NOT EXISTS idx_observations_vendor_item ON observations(vendor_id, item);
CREATE INDEX IF NOT EXISTS idx_observations_invoice ON observations(invoice_number);
CREATE INDEX IF NOT EXISTS idx_decisions_status ON decisions(status);
CREATE INDEX IF NOT EXISTS idx_decisions_vendor ON decisions(vendor_id);
CREATE INDEX IF NOT EXISTS idx_decisions_invoice ON decisions(invoice_number);
CREATE INDEX IF NOT EXISTS idx_decisions_created_at ON decisions(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveDecision(ctx context.Context, rec *model.DecisionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal decision record")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, invoice_number, vendor_id, status, record, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.InvoiceNumber, rec.VendorID, string(rec.Decision.Status), string(recordJSON), rec.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert decision")
}

func (s *SQLiteStore) GetDecision(ctx context.Context, id string) (*model.DecisionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT record, approved_at, approved_by FROM decisions WHERE id = ?`,
		id,
	)
	return scanDecision(row)
}

func (s *SQLiteStore) ListDecisions(ctx context.Context, filter DecisionFilter) ([]model.DecisionRecord, error) {
	query := `SELECT record, approved_at, approved_by FROM decisions WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.VendorID != "" {
		query += ` AND vendor_id = ?`
		args = append(args, filter.VendorID)
	}
	if filter.InvoiceNumber != "" {
		query += ` AND invoice_number = ?`
		args = append(args, filter.InvoiceNumber)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list decisions")
	}
	defer rows.Close()

	var recs []model.DecisionRecord
	for rows.Next() {
		rec, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: list decisions iterate")
}

func (s *SQLiteStore) RecordObservation(ctx context.Context, obs model.PriceObservation) error {
	if err := validateObservation(obs); err != nil {
		return err
	}
	observedAt := obs.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO observations (id, vendor_id, item, quantity, unit_price, invoice_number, observed_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), obs.VendorID, obs.Item, obs.Quantity.String(), obs.UnitPrice.String(), obs.InvoiceNumber, observedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert observation %s/%s", obs.VendorID, obs.Item)
}

func (s *SQLiteStore) Observations(ctx context.Context, vendorID, item string) ([]model.PriceObservation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT vendor_id, item, quantity, unit_price, invoice_number, observed_at FROM observations
		 WHERE vendor_id = ? AND item = ? ORDER BY observed_at ASC, id ASC`,
		vendorID, item,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query observations")
	}
	defer rows.Close()

	var obs []model.PriceObservation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		obs = append(obs, *o)
	}
	return obs, eris.Wrap(rows.Err(), "sqlite: observations iterate")
}

func (s *SQLiteStore) Stats(ctx context.Context) (model.HistoryStats, error) {
	var st model.HistoryStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(DISTINCT vendor_id) FROM observations),
			(SELECT COUNT(*) FROM (SELECT DISTINCT vendor_id, item FROM observations) AS pairs),
			(SELECT COUNT(*) FROM observations),
			(SELECT COUNT(*) FROM approvals),
			(SELECT COUNT(*) FROM decisions)`,
	).Scan(&st.Vendors, &st.Items, &st.Observations, &st.Approvals, &st.Decisions)
	return st, eris.Wrap(err, "sqlite: stats")
}

// RecordApproval inserts the approval row, appends one observation per line
// item, and stamps the originating decision, all in one transaction. A
// duplicate invoice number leaves the history untouched and returns
// ErrAlreadyApproved.
func (s *SQLiteStore) RecordApproval(ctx context.Context, approval model.Approval, obs []model.PriceObservation) error {
	if approval.InvoiceNumber == "" {
		return eris.New("store: approval requires an invoice number")
	}
	approvedAt := approval.ApprovedAt
	if approvedAt.IsZero() {
		approvedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin approval tx")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO approvals (invoice_number, vendor_id, decision_id, approved_by, approved_at) VALUES (?, ?, ?, ?, ?)`,
		approval.InvoiceNumber, approval.VendorID, approval.DecisionID, approval.ApprovedBy, approvedAt.UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert approval")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
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
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO observations (id, vendor_id, item, quantity, unit_price, invoice_number, observed_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), o.VendorID, o.Item, o.Quantity.String(), o.UnitPrice.String(), o.InvoiceNumber, observedAt.UTC(),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert observation %s/%s", o.VendorID, o.Item)
		}
	}

	if approval.DecisionID != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE decisions SET approved_at = ?, approved_by = ? WHERE id = ?`,
			approvedAt.UTC(), approval.ApprovedBy, approval.DecisionID,
		); err != nil {
			return eris.Wrapf(err, "sqlite: mark decision approved %s", approval.DecisionID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit approval")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanDecision(row scannable) (*model.DecisionRecord, error) {
	var recordJSON string
	var approvedAt sql.NullTime
	var approvedBy sql.NullString

	err := row.Scan(&recordJSON, &approvedAt, &approvedBy)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan decision")
	}

	var rec model.DecisionRecord
	if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal decision record")
	}
	// Approval columns are written after the record JSON and win over it.
	if approvedAt.Valid {
		t := approvedAt.Time
		rec.ApprovedAt = &t
	}
	if approvedBy.Valid {
		rec.ApprovedBy = approvedBy.String
	}
	return &rec, nil
}

func scanObservation(row scannable) (*model.PriceObservation, error) {
	var o model.PriceObservation
	var qty, price string
	var invoice sql.NullString

	if err := row.Scan(&o.VendorID, &o.Item, &qty, &price, &invoice, &o.ObservedAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan observation")
	}

	var err error
	if o.Quantity, err = decimal.NewFromString(qty); err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse quantity %q", qty)
	}
	if o.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse unit price %q", price)
	}
	if invoice.Valid {
		o.InvoiceNumber = invoice.String
	}
	o.Origin = model.OriginLearned
	return &o, nil
}
