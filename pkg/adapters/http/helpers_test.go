package http_test

import (
	"log/slog"

	"github.com/aretw0/conductor/internal/logging"
)

func slogDiscard() *slog.Logger { return logging.NewNop() }
