package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/example/medsupply-storefront/internal/domain/cart"
	"github.com/lib/pq"
)

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// PostgresBackend stores the line items of one namespace in a shared table.
type PostgresBackend struct {
	db        *sql.DB
	table     string
	namespace string
}

// NewPostgresBackend returns a backend over table for namespace. The table
// must have been created by Migrate.
func NewPostgresBackend(db *sql.DB, table, namespace string) (*PostgresBackend, error) {
	if !identifierPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresBackend{
		db:        db,
		table:     table,
		namespace: namespace,
	}, nil
}

// Update runs fn inside a transaction holding the namespace's advisory lock,
// so concurrent units for the same namespace are serialized.
func (b *PostgresBackend) Update(ctx context.Context, fn func(cart.Tx) error) error {
	sqlTx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return cart.Unavailable(err)
	}
	defer sqlTx.Rollback()

	if _, err := sqlTx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", b.lockKey()); err != nil {
		return fmt.Errorf("acquire cart lock: %w", err)
	}

	if err := fn(&postgresTx{ctx: ctx, tx: sqlTx, backend: b}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (b *PostgresBackend) View(ctx context.Context, fn func(cart.Tx) error) error {
	sqlTx, err := b.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return cart.Unavailable(err)
	}
	defer sqlTx.Rollback()

	return fn(&postgresTx{ctx: ctx, tx: sqlTx, backend: b, readOnly: true})
}

func (b *PostgresBackend) Isolated() bool {
	return true
}

// Close is a no-op; the *sql.DB is shared between namespaces and owned by the caller.
func (b *PostgresBackend) Close() error {
	return nil
}

func (b *PostgresBackend) lockKey() string {
	return b.table + ":" + b.namespace
}

func (b *PostgresBackend) quotedTable() string {
	return pq.QuoteIdentifier(b.table)
}

const lineItemColumns = `id, product_id, sub_product_id, name, image, quantity, size, shape, added_at, updated_at`

type postgresTx struct {
	ctx      context.Context
	tx       *sql.Tx
	backend  *PostgresBackend
	readOnly bool
}

func (t *postgresTx) Get(id string) (cart.LineItem, bool, error) {
	row := t.tx.QueryRowContext(t.ctx,
		`SELECT `+lineItemColumns+` FROM `+t.backend.quotedTable()+`
		 WHERE namespace = $1 AND id = $2`,
		t.backend.namespace, id,
	)
	item, err := scanLineItem(row)
	if err == sql.ErrNoRows {
		return cart.LineItem{}, false, nil
	}
	if err != nil {
		return cart.LineItem{}, false, err
	}
	return item, true, nil
}

func (t *postgresTx) BySubProduct(subProductID string) ([]cart.LineItem, error) {
	return t.query(
		`SELECT `+lineItemColumns+` FROM `+t.backend.quotedTable()+`
		 WHERE namespace = $1 AND sub_product_id = $2`,
		t.backend.namespace, subProductID,
	)
}

func (t *postgresTx) List() ([]cart.LineItem, error) {
	return t.query(
		`SELECT `+lineItemColumns+` FROM `+t.backend.quotedTable()+`
		 WHERE namespace = $1
		 ORDER BY added_at ASC, id ASC`,
		t.backend.namespace,
	)
}

func (t *postgresTx) Put(item cart.LineItem) error {
	if t.readOnly {
		return errReadOnly
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO `+t.backend.quotedTable()+` (namespace, `+lineItemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			name = EXCLUDED.name,
			image = EXCLUDED.image,
			updated_at = EXCLUDED.updated_at
	`,
		t.backend.namespace,
		item.ID,
		item.ProductID,
		item.SubProductID,
		item.Name,
		item.Image,
		item.Quantity,
		item.Size,
		item.Shape,
		item.AddedAt,
		item.UpdatedAt,
	)
	return err
}

func (t *postgresTx) Delete(id string) error {
	if t.readOnly {
		return errReadOnly
	}
	_, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM `+t.backend.quotedTable()+` WHERE namespace = $1 AND id = $2`,
		t.backend.namespace, id,
	)
	return err
}

func (t *postgresTx) DeleteAll() error {
	if t.readOnly {
		return errReadOnly
	}
	_, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM `+t.backend.quotedTable()+` WHERE namespace = $1`,
		t.backend.namespace,
	)
	return err
}

func (t *postgresTx) query(q string, args ...any) ([]cart.LineItem, error) {
	rows, err := t.tx.QueryContext(t.ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []cart.LineItem
	for rows.Next() {
		item, err := scanLineItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLineItem(row rowScanner) (cart.LineItem, error) {
	var item cart.LineItem
	err := row.Scan(
		&item.ID,
		&item.ProductID,
		&item.SubProductID,
		&item.Name,
		&item.Image,
		&item.Quantity,
		&item.Size,
		&item.Shape,
		&item.AddedAt,
		&item.UpdatedAt,
	)
	return item, err
}

// ConnectPostgres establishes a connection to PostgreSQL
func ConnectPostgres(ctx context.Context, connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, cart.Unavailable(err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, cart.Unavailable(err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}
