package apperr

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
)

// Handle logs an application error with its goerr context promoted to
// structured attributes, so scanner names, file paths and finding IDs
// attached via goerr.V become queryable log fields.
func Handle(ctx context.Context, err error) {
	logger := ctxlog.From(ctx)

	attrs := []any{slog.Any("error", err)}
	for k, v := range goerr.Values(err) {
		attrs = append(attrs, slog.Any(k, v))
	}

	logger.Error("application error", attrs...)
}
