package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"quiz-room-service/internal/domain"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Connect opens a bun handle over pgdriver for dsn.
func Connect(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

func sqlState(err error) string {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C')
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return sqlState(err) == codeUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	return sqlState(err) == codeForeignKeyViolation
}

// storeErr marks connection loss, serialization failures and deadlocks as
// transient so callers may retry.
func storeErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	state := sqlState(err)
	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn), errors.As(err, &netErr):
		return domain.Unavailable(op, err)
	case len(state) == 5 && state[:2] == "08":
		return domain.Unavailable(op, err)
	case state == "40001", state == "40P01", state == "53300", state == "57P01":
		return domain.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
