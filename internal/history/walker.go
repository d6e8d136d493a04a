// Package history walks the paginated update-history view of a case and
// extracts fee-bearing entries.
//
// The walker only advances through explicit numbered or "next" controls. A
// control that would load every entry on one page is never activated, and a
// view detected as that aggregate page is not extracted.
package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/jamibilling/rdn-billing/internal/classifier"
	"github.com/jamibilling/rdn-billing/internal/htmlpage"
	"github.com/jamibilling/rdn-billing/internal/models"
	"github.com/jamibilling/rdn-billing/pkg/logger"
)

// Navigator drives the live history view. browser.Session implements it.
type Navigator interface {
	// OpenHistory navigates from the case page to the first history page.
	OpenHistory(ctx context.Context) error
	// Snapshot returns the rendered HTML of the current view.
	Snapshot(ctx context.Context) (string, error)
	// Activate clicks c and waits for the next view to settle.
	Activate(ctx context.Context, c Control) error
}

// State is the walker position.
type State int

const (
	NotNavigated State = iota
	OnFirstPage
	OnPage
	Done
)

func (s State) String() string {
	switch s {
	case NotNavigated:
		return "not_navigated"
	case OnFirstPage:
		return "on_first_page"
	case OnPage:
		return "on_page"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// ErrHistoryUnavailable is returned when the history view cannot be opened
// or its first page cannot be read.
var ErrHistoryUnavailable = errors.New("update history unavailable")

// Config tunes the walker.
type Config struct {
	MaxPages int
	Dedup    DedupPolicy
}

// DefaultConfig returns the stock walker configuration.
func DefaultConfig() Config {
	return Config{MaxPages: 20, Dedup: DefaultDedupPolicy()}
}

// Progress is reported after each extracted page.
type Progress struct {
	Page    int
	Records int
	Total   int
}

// Result is the outcome of one walk.
type Result struct {
	Updates          []models.UpdateRecord
	PagesVisited     []int
	SkippedAggregate int
	StopReason       StopReason
	FinalState       State
	Warnings         []string
}

// Walker is safe for concurrent use; each Walk uses its own Navigator.
type Walker struct {
	cfg       Config
	extractor *Extractor
	log       *logger.Logger
}

// NewWalker creates a walker.
func NewWalker(cfg Config, c *classifier.Classifier, log *logger.Logger) *Walker {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultConfig().MaxPages
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Walker{cfg: cfg, extractor: NewExtractor(c), log: log.WithComponent("history")}
}

// Walk opens the history view and visits its pages strictly in sequence.
// Failures after the first page end the walk and are reported as warnings;
// the entries collected so far are kept. Cancellation returns the partial
// result together with the context error.
func (w *Walker) Walk(ctx context.Context, nav Navigator, progress func(Progress)) (Result, error) {
	res := Result{FinalState: NotNavigated}

	if err := nav.OpenHistory(ctx); err != nil {
		res.FinalState = Done
		return res, fmt.Errorf("%w: %w", ErrHistoryUnavailable, err)
	}
	state := OnFirstPage

	var collected []models.UpdateRecord
	pageNum := 1
	reentered := false

	finish := func(reason StopReason) Result {
		res.StopReason = reason
		res.FinalState = Done
		res.Updates = SortByDate(Dedup(collected, w.cfg.Dedup))
		w.log.Info("history walk finished",
			"pages", len(res.PagesVisited),
			"entries", len(collected),
			"kept", len(res.Updates),
			"stop_reason", string(reason),
		)
		return res
	}

	for {
		if err := ctx.Err(); err != nil {
			return finish(StopNone), err
		}

		raw, err := nav.Snapshot(ctx)
		if err != nil {
			if state == OnFirstPage {
				res.FinalState = Done
				return res, fmt.Errorf("%w: %w", ErrHistoryUnavailable, err)
			}
			res.Warnings = append(res.Warnings, fmt.Sprintf("page %d: snapshot failed: %v", pageNum, err))
			return finish(StopSnapshotFailed), nil
		}
		page, err := htmlpage.Parse(raw, "")
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("page %d: %v", pageNum, err))
			return finish(StopSnapshotFailed), nil
		}

		if OnAggregateView(page) {
			res.SkippedAggregate++
			w.log.Warn("landed on aggregate history view, skipping extraction", "page", pageNum)

			// A first page reached through a deep link can still be read
			// by switching to its numbered view.
			if state == OnFirstPage && !reentered {
				reentered = true
				if c, ok := numberedControl(Pagination(page), pageNum); ok {
					if err := nav.Activate(ctx, c); err == nil {
						continue
					}
				}
			}
		} else {
			recs := w.extractor.Extract(page, pageNum)
			collected = append(collected, recs...)
			res.PagesVisited = append(res.PagesVisited, pageNum)

			w.log.Debug("history page extracted", "page", pageNum, "entries", len(recs), "state", state.String())
			if progress != nil {
				progress(Progress{Page: pageNum, Records: len(recs), Total: len(collected)})
			}
		}

		if pageNum >= w.cfg.MaxPages {
			return finish(StopPageLimit), nil
		}

		next, stop := NextControl(page, pageNum+1)
		if stop != StopNone {
			return finish(stop), nil
		}

		if err := nav.Activate(ctx, next); err != nil {
			if ctx.Err() != nil {
				return finish(StopNone), ctx.Err()
			}
			res.Warnings = append(res.Warnings, fmt.Sprintf("page %d: activating %s control failed: %v", pageNum+1, next.Kind, err))
			return finish(StopActivateFailed), nil
		}

		pageNum++
		state = OnPage
	}
}
