package stages

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/srleom/miniclue/internal/pipeline/dispatch"
	"github.com/srleom/miniclue/internal/pipeline/document"
	"github.com/srleom/miniclue/internal/pipeline/envelope"
	"github.com/srleom/miniclue/internal/pipeline/generation"
)

// ErrNotReady means upstream results are not committed yet. The delivery is
// retried without recording an error on the lecture.
var ErrNotReady = errors.New("upstream results not ready")

var errPermanent = errors.New("permanent")

// permanent marks err as one that no redelivery can fix.
func permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", errPermanent, err)
}

func isPermanent(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, errPermanent),
		dispatch.IsPermanent(err),
		errors.Is(err, envelope.ErrMalformed),
		generation.IsPermanent(err),
		errors.Is(err, document.ErrNotPDF),
		errors.Is(err, document.ErrNoPages):
		return true
	}
	return isPermanentDBError(err)
}

// Data exceptions (class 22) and integrity violations (class 23) will fail
// the same way on every delivery. Unique violations are left retryable since
// they come from concurrent inserts racing on the same key.
func isPermanentDBError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return false
	}
	if pgErr.Code == "23505" {
		return false
	}
	class := pgErr.Code[:2]
	return class == "22" || class == "23"
}
