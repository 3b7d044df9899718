package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// Common retry-related errors.
var (
	// ErrMaxRetriesExceeded is returned when all retry attempts are exhausted.
	ErrMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")

	// ErrNonRetryable marks an error as explicitly non-retryable.
	ErrNonRetryable = errors.New("error is not retryable")
)

// DefaultErrorChecker retries every non-nil error except ErrNonRetryable and
// errors whose stdlib Temporary() method reports false; network errors and
// timeouts are retryable whatever Temporary() reports.
type DefaultErrorChecker struct{}

// IsRetryable implements RetryableErrorChecker.
func (c *DefaultErrorChecker) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrNonRetryable) {
		return false
	}

	if isTransientNetworkError(err) {
		return true
	}

	if isTimeoutError(err) {
		return true
	}

	type temporary interface {
		Temporary() bool
	}
	if te, ok := err.(temporary); ok {
		return te.Temporary()
	}

	return true
}

func isTransientNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return true
		}
		if errors.Is(opErr.Err, syscall.ECONNRESET) {
			return true
		}
		if errors.Is(opErr.Err, syscall.ENETUNREACH) {
			return true
		}
		if errors.Is(opErr.Err, syscall.EHOSTUNREACH) {
			return true
		}
	}

	return false
}

func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}

	errMsg := err.Error()
	timeoutIndicators := []string{
		"timeout",
		"deadline exceeded",
		"context deadline exceeded",
		"i/o timeout",
		"timed out",
	}

	for _, indicator := range timeoutIndicators {
		if strings.Contains(strings.ToLower(errMsg), indicator) {
			return true
		}
	}

	type timeout interface {
		Timeout() bool
	}
	if te, ok := err.(timeout); ok {
		return te.Timeout()
	}

	return false
}

// MySQLTransientChecker classifies errors surfaced by the SOURCE/REPLICA
// (go-sql-driver/mysql) pools. Deadlocks, lock-wait timeouts and
// server-shutdown codes are retryable; everything else (syntax errors,
// constraint violations, access-denied) is not.
type MySQLTransientChecker struct{}

// NewMySQLTransientChecker returns a ready-to-use checker.
func NewMySQLTransientChecker() *MySQLTransientChecker {
	return &MySQLTransientChecker{}
}

// IsRetryable implements RetryableErrorChecker.
func (c *MySQLTransientChecker) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1205, // ER_LOCK_WAIT_TIMEOUT
			1213, // ER_LOCK_DEADLOCK
			1040, // ER_CON_COUNT_ERROR
			1053, // ER_SERVER_SHUTDOWN
			2006, // CR_SERVER_GONE_ERROR
			2013: // CR_SERVER_LOST
			return true
		}
		return false
	}

	return (&DefaultErrorChecker{}).IsRetryable(err)
}

// PgTransientChecker classifies errors surfaced by the ANALYTICS (pgx) pool
// using the Postgres SQLSTATE class.
type PgTransientChecker struct{}

// NewPgTransientChecker returns a ready-to-use checker.
func NewPgTransientChecker() *PgTransientChecker {
	return &PgTransientChecker{}
}

// IsRetryable implements RetryableErrorChecker.
func (c *PgTransientChecker) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"53300", // too_many_connections
			"57P03": // cannot_connect_now
			return true
		}
		if strings.HasPrefix(pgErr.Code, "08") { // connection_exception class
			return true
		}
		return false
	}

	return (&DefaultErrorChecker{}).IsRetryable(err)
}

// ChainedErrorChecker chains multiple checkers; retryable if ANY says so.
type ChainedErrorChecker struct {
	Checkers []RetryableErrorChecker
}

// IsRetryable implements RetryableErrorChecker.
func (c *ChainedErrorChecker) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	for _, checker := range c.Checkers {
		if checker.IsRetryable(err) {
			return true
		}
	}

	return false
}

// NeverRetryChecker always returns false.
type NeverRetryChecker struct{}

// IsRetryable implements RetryableErrorChecker.
func (c *NeverRetryChecker) IsRetryable(err error) bool {
	return false
}

// AlwaysRetryChecker retries every non-nil error.
type AlwaysRetryChecker struct{}

// IsRetryable implements RetryableErrorChecker.
func (c *AlwaysRetryChecker) IsRetryable(err error) bool {
	return err != nil
}
