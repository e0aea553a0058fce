package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"rentory/internal/domain"
	"rentory/internal/store"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates missing tables and indexes. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) WithinUnitOfWork(ctx context.Context, fn func(uow store.UnitOfWork) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&unitOfWork{tx: tx}); err != nil {
		return classify(err)
	}
	return classify(tx.Commit())
}

func (s *Store) GetSupplier(ctx context.Context, id string) (*domain.Supplier, error) {
	var v domain.Supplier
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, name, active, created_at FROM suppliers WHERE id = $1 AND active = true
	`, id).Scan(&v.ID, &v.Code, &v.Name, &v.Active, &v.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var v domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, name, active, created_at FROM customers WHERE id = $1 AND active = true
	`, id).Scan(&v.ID, &v.Code, &v.Name, &v.Active, &v.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

func (s *Store) GetLocation(ctx context.Context, id string) (*domain.Location, error) {
	var v domain.Location
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, name, active, created_at FROM locations WHERE id = $1 AND active = true
	`, id).Scan(&v.ID, &v.Code, &v.Name, &v.Active, &v.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	var v domain.Item
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sku, name, active, created_at FROM items WHERE id = $1 AND active = true
	`, id).Scan(&v.ID, &v.SKU, &v.Name, &v.Active, &v.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

func (s *Store) CreateSupplier(ctx context.Context, v domain.Supplier) (*domain.Supplier, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, code, name, active, created_at) VALUES ($1,$2,$3,$4,$5)
	`, v.ID, v.Code, v.Name, v.Active, v.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return &v, nil
}

func (s *Store) CreateCustomer(ctx context.Context, v domain.Customer) (*domain.Customer, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, code, name, active, created_at) VALUES ($1,$2,$3,$4,$5)
	`, v.ID, v.Code, v.Name, v.Active, v.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return &v, nil
}

func (s *Store) CreateLocation(ctx context.Context, v domain.Location) (*domain.Location, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO locations (id, code, name, active, created_at) VALUES ($1,$2,$3,$4,$5)
	`, v.ID, v.Code, v.Name, v.Active, v.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return &v, nil
}

func (s *Store) CreateItem(ctx context.Context, v domain.Item) (*domain.Item, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, sku, name, active, created_at) VALUES ($1,$2,$3,$4,$5)
	`, v.ID, v.SKU, v.Name, v.Active, v.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return &v, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, code, name, active, created_at FROM suppliers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make([]domain.Supplier, 0, 32)
	for rows.Next() {
		var v domain.Supplier
		if err := rows.Scan(&v.ID, &v.Code, &v.Name, &v.Active, &v.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, code, name, active, created_at FROM customers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make([]domain.Customer, 0, 32)
	for rows.Next() {
		var v domain.Customer
		if err := rows.Scan(&v.ID, &v.Code, &v.Name, &v.Active, &v.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func (s *Store) ListLocations(ctx context.Context) ([]domain.Location, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, code, name, active, created_at FROM locations ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make([]domain.Location, 0, 16)
	for rows.Next() {
		var v domain.Location
		if err := rows.Scan(&v.ID, &v.Code, &v.Name, &v.Active, &v.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, sku, name, active, created_at FROM items ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make([]domain.Item, 0, 64)
	for rows.Next() {
		var v domain.Item
		if err := rows.Scan(&v.ID, &v.SKU, &v.Name, &v.Active, &v.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func (s *Store) FindTransactionByID(ctx context.Context, id string) (*domain.TransactionHeader, error) {
	return findTransaction(ctx, s.db, id, false)
}

func (s *Store) ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]domain.TransactionHeader, error) {
	limit := filter.Limit
	if limit < 1 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, headerSelect+`
		WHERE ($1 = '' OR transaction_type = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, string(filter.Type), limit)
	if err != nil {
		return nil, err
	}
	headers := make([]domain.TransactionHeader, 0, limit)
	for rows.Next() {
		h, err := scanHeader(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		headers = append(headers, *h)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range headers {
		lines, err := loadLines(ctx, s.db, headers[i].ID)
		if err != nil {
			return nil, err
		}
		headers[i].Lines = lines
	}
	return headers, nil
}

func (s *Store) GetStockLevel(ctx context.Context, key domain.StockKey) (*domain.StockLevel, error) {
	row := s.db.QueryRowContext(ctx, levelSelect+` WHERE item_id = $1 AND location_id = $2`, key.ItemID, key.LocationID)
	level, err := scanLevel(row)
	if err != nil {
		return nil, notFound(err)
	}
	return level, nil
}

func (s *Store) ListStockLevels(ctx context.Context, filter store.StockFilter) ([]domain.StockLevel, error) {
	rows, err := s.db.QueryContext(ctx, levelSelect+`
		WHERE ($1 = '' OR item_id::text = $1) AND ($2 = '' OR location_id::text = $2)
		ORDER BY item_id, location_id
	`, filter.ItemID, filter.LocationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	levels := make([]domain.StockLevel, 0, 64)
	for rows.Next() {
		level, err := scanLevel(rows)
		if err != nil {
			return nil, err
		}
		levels = append(levels, *level)
	}
	return levels, rows.Err()
}

func (s *Store) ListMovements(ctx context.Context, filter store.MovementFilter) ([]domain.StockMovement, error) {
	limit := filter.Limit
	if limit < 1 || limit > 1000 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, movementSelect+`
		WHERE ($1 = '' OR item_id::text = $1) AND ($2 = '' OR location_id::text = $2)
		ORDER BY created_at DESC, sequence DESC
		LIMIT $3
	`, filter.ItemID, filter.LocationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMovements(rows)
}

func (s *Store) ListStockKeys(ctx context.Context) ([]domain.StockKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_id, location_id FROM stock_levels ORDER BY item_id, location_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := make([]domain.StockKey, 0, 64)
	for rows.Next() {
		var key domain.StockKey
		if err := rows.Scan(&key.ItemID, &key.LocationID); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// classify maps postgres failures that a retry can fix to store errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
	case "23505":
		if pgErr.ConstraintName == "transaction_headers_transaction_number_key" {
			return fmt.Errorf("%w: %s", store.ErrDuplicateNumber, pgErr.Detail)
		}
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
	case "23514":
		if strings.HasPrefix(pgErr.ConstraintName, "stock_") {
			return fmt.Errorf("%w: %s", store.ErrInvariantViolation, pgErr.ConstraintName)
		}
	}
	return err
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullDate(val *domain.Date) any {
	if val == nil {
		return nil
	}
	return val.Time
}
