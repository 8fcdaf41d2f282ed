package seed

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/duckmesh/querypilot/internal/schema"
)

type Summary struct {
	Users  int
	Orders int
}

type Service struct {
	cfg       Config
	db        *sql.DB
	log       *slog.Logger
	generator *Generator
}

func NewService(cfg Config, db *sql.DB, logger *slog.Logger) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if _, ok := ddlFor(cfg.Dialect); !ok {
		return nil, fmt.Errorf("unsupported dialect %q", cfg.Dialect)
	}
	if cfg.Users <= 0 || cfg.MaxOrdersPerUser <= 0 || cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("users, orders per user, and batch size must be positive")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{cfg: cfg, db: db, log: logger, generator: NewGenerator(cfg.Seed)}, nil
}

// Run creates the demo tables and fills them in one transaction.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	ddl, _ := ddlFor(s.cfg.Dialect)
	if s.cfg.Reset {
		for _, table := range []string{"orders", "users"} {
			if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
				return Summary{}, fmt.Errorf("drop %s: %w", table, err)
			}
		}
	}
	for _, statement := range ddl {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return Summary{}, fmt.Errorf("create demo tables: %w", err)
		}
	}

	users := make([]User, 0, s.cfg.Users)
	orders := make([]Order, 0, s.cfg.Users)
	for i := 0; i < s.cfg.Users; i++ {
		user := s.generator.NextUser()
		users = append(users, user)
		orders = append(orders, s.generator.OrdersFor(user, s.cfg.MaxOrdersPerUser)...)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Summary{}, fmt.Errorf("begin seed transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	userRows := make([][]any, 0, len(users))
	for _, user := range users {
		userRows = append(userRows, []any{user.ID, user.Name, user.Email, user.Country, user.CreatedAt})
	}
	if err := s.insert(ctx, tx, "users", []string{"id", "name", "email", "country", "created_at"}, userRows); err != nil {
		return Summary{}, err
	}
	orderRows := make([][]any, 0, len(orders))
	for _, order := range orders {
		orderRows = append(orderRows, []any{order.ID, order.UserID, order.Product, order.Status, order.Amount, order.OrderedAt})
	}
	if err := s.insert(ctx, tx, "orders", []string{"id", "user_id", "product", "status", "amount", "ordered_at"}, orderRows); err != nil {
		return Summary{}, err
	}
	if err := tx.Commit(); err != nil {
		return Summary{}, fmt.Errorf("commit seed transaction: %w", err)
	}

	summary := Summary{Users: len(users), Orders: len(orders)}
	s.log.Info("seeded demo database",
		slog.String("dialect", string(s.cfg.Dialect)),
		slog.Int("users", summary.Users),
		slog.Int("orders", summary.Orders),
		slog.Int64("seed", s.cfg.Seed),
	)
	return summary, nil
}

func (s *Service) insert(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) error {
	for start := 0; start < len(rows); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(rows))
		statement, args := buildInsert(s.cfg.Dialect, table, columns, rows[start:end])
		if _, err := tx.ExecContext(ctx, statement, args...); err != nil {
			return fmt.Errorf("insert %s rows %d-%d: %w", table, start, end-1, err)
		}
	}
	return nil
}

func buildInsert(dialect schema.Dialect, table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(columns, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j, value := range row {
			if j > 0 {
				b.WriteString(", ")
			}
			args = append(args, value)
			if dialect == schema.DialectPostgres {
				b.WriteString("$" + strconv.Itoa(len(args)))
			} else {
				b.WriteByte('?')
			}
		}
		b.WriteByte(')')
	}
	return b.String(), args
}

func ddlFor(dialect schema.Dialect) ([]string, bool) {
	switch dialect {
	case schema.DialectPostgres:
		return []string{
			`CREATE TABLE IF NOT EXISTS users (id BIGINT PRIMARY KEY, name TEXT NOT NULL, email TEXT NOT NULL UNIQUE, country TEXT NOT NULL, created_at TIMESTAMPTZ NOT NULL)`,
			`CREATE TABLE IF NOT EXISTS orders (id BIGINT PRIMARY KEY, user_id BIGINT NOT NULL REFERENCES users(id), product TEXT NOT NULL, status TEXT NOT NULL, amount NUMERIC(10,2) NOT NULL, ordered_at TIMESTAMPTZ NOT NULL)`,
			`CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders (user_id)`,
		}, true
	case schema.DialectMySQL, schema.DialectMariaDB:
		return []string{
			`CREATE TABLE IF NOT EXISTS users (id BIGINT PRIMARY KEY, name VARCHAR(255) NOT NULL, email VARCHAR(255) NOT NULL UNIQUE, country VARCHAR(2) NOT NULL, created_at DATETIME NOT NULL)`,
			`CREATE TABLE IF NOT EXISTS orders (id BIGINT PRIMARY KEY, user_id BIGINT NOT NULL, product VARCHAR(255) NOT NULL, status VARCHAR(32) NOT NULL, amount DECIMAL(10,2) NOT NULL, ordered_at DATETIME NOT NULL, INDEX idx_orders_user_id (user_id), FOREIGN KEY (user_id) REFERENCES users(id))`,
		}, true
	case schema.DialectDuckDB:
		return []string{
			`CREATE TABLE IF NOT EXISTS users (id BIGINT PRIMARY KEY, name VARCHAR NOT NULL, email VARCHAR NOT NULL UNIQUE, country VARCHAR NOT NULL, created_at TIMESTAMP NOT NULL)`,
			`CREATE TABLE IF NOT EXISTS orders (id BIGINT PRIMARY KEY, user_id BIGINT NOT NULL REFERENCES users(id), product VARCHAR NOT NULL, status VARCHAR NOT NULL, amount DECIMAL(10,2) NOT NULL, ordered_at TIMESTAMP NOT NULL)`,
		}, true
	default:
		return nil, false
	}
}
