package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/meetlog/internal/dom"
)

// ErrNotFound is returned when no region strategy matches.
var ErrNotFound = errors.New("chat region not found")

// Locator finds the chat region. It is stateless; retrying is the caller's
// concern.
type Locator struct {
	strategies []dom.Selector
	logger     *slog.Logger
}

// NewLocator creates a locator that tries strategies in order.
func NewLocator(strategies []dom.Selector, logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locator{strategies: strategies, logger: logger}
}

// Locate returns the first region matched by a strategy, or ErrNotFound.
// A query error on one strategy does not stop the remaining ones.
func (l *Locator) Locate(ctx context.Context, doc dom.Document) (dom.Node, error) {
	var queryErr error
	for _, sel := range l.strategies {
		node, err := doc.Query(ctx, sel)
		if err != nil {
			queryErr = errors.Join(queryErr, fmt.Errorf("query %s: %w", sel, err))
			continue
		}
		if node != nil {
			l.logger.Debug("[CAPTURE] Found chat region", "selector", sel.CSS())
			return node, nil
		}
	}
	if queryErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, queryErr)
	}
	return nil, ErrNotFound
}
