package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// classifyError classifies an error into a label used for metrics and log
// fields.
//
// Labels: "none", "timeout", "network", "rate_limit", "context_cancelled",
// "context_deadline", "dns", "mysql_deadlock", "mysql_error",
// "pg_serialization", "pg_error", "unknown".
func classifyError(err error) string {
	if err == nil {
		return "none"
	}

	if errors.Is(err, context.Canceled) {
		return "context_cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "context_deadline"
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1205, 1213:
			return "mysql_deadlock"
		case 2006, 2013:
			return "network"
		default:
			return "mysql_error"
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001" || pgErr.Code == "40P01":
			return "pg_serialization"
		case strings.HasPrefix(pgErr.Code, "08"):
			return "network"
		default:
			return "pg_error"
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) ||
			errors.Is(opErr.Err, syscall.ECONNRESET) ||
			errors.Is(opErr.Err, syscall.ENETUNREACH) ||
			errors.Is(opErr.Err, syscall.EHOSTUNREACH) {
			return "network"
		}
		return "network"
	}

	errMsg := strings.ToLower(err.Error())

	if strings.Contains(errMsg, "rate limit") ||
		strings.Contains(errMsg, "too many requests") {
		return "rate_limit"
	}

	if strings.Contains(errMsg, "timeout") ||
		strings.Contains(errMsg, "deadline exceeded") ||
		strings.Contains(errMsg, "timed out") ||
		strings.Contains(errMsg, "i/o timeout") {
		return "timeout"
	}

	if strings.Contains(errMsg, "connection") || strings.Contains(errMsg, "network") {
		return "network"
	}

	return "unknown"
}
