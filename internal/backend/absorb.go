package backend

import (
	"context"
	"errors"
	"log/slog"
)

// Absorb returns nil when err matches sentinel, logging msg at debug.
// Clients use it to make create idempotent and delete-of-missing a no-op.
func Absorb(ctx context.Context, err, sentinel error, msg string, attrs ...slog.Attr) error {
	if err == nil || !errors.Is(err, sentinel) {
		return err
	}
	attrs = append(attrs, slog.String("reason", err.Error()))
	slog.LogAttrs(ctx, slog.LevelDebug, msg, attrs...)
	return nil
}
