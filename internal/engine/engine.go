// =============================================================================
// Class Payment Reconciler - Reconciliation Engine
// =============================================================================
//
// The engine runs one reconciliation pass over the workbook and owns every
// operation that changes the master sheet.
//
// PASS STAGES (see stages.go):
//   1. LoadSources       read ledgers, rules, discounts, master and edits
//   2. Match             resolve rules and pair attendance with payments
//   3. ClassifyDiscounts classify the memo of every matched payment
//   4. ComputeSplits     price each row and split its revenue
//   5. BuildMasterRows   assemble rows with keys and verification status
//   6. Merge             fold the rows into stored master data, apply edits
//   7. Persist           write master, invoices and cleared edits at once
//
// The whole output is built in memory before anything is written, and the
// write goes through one batch so a failure leaves the workbook untouched.
// Only one mutating operation runs at a time per Engine.
//
// =============================================================================

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ginjaninja78/class-payment-reconciler/internal/config"
	"github.com/ginjaninja78/class-payment-reconciler/internal/logging"
	"github.com/ginjaninja78/class-payment-reconciler/internal/matcher"
	"github.com/ginjaninja78/class-payment-reconciler/internal/repository"
	"github.com/ginjaninja78/class-payment-reconciler/internal/sheetstore"
	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
	"github.com/ginjaninja78/class-payment-reconciler/internal/validation"
	"github.com/ginjaninja78/class-payment-reconciler/pkg/utils"
)

var (
	// ErrRunInProgress is returned when another mutating operation holds the
	// engine.
	ErrRunInProgress = errors.New("a reconciliation run is already in progress")

	// ErrInvalidDateRange is returned when From is after To.
	ErrInvalidDateRange = errors.New("invalid date range: from is after to")

	// ErrUnknownKey is returned when an edit names a row that does not exist.
	ErrUnknownKey = errors.New("no master row with that unique key")
)

// Engine orchestrates reconciliation over one store.
type Engine struct {
	store     sheetstore.Store
	repos     *repository.Set
	cfg       *config.Config
	validator *validation.Validator
	matcher   *matcher.Matcher
	logger    logrus.FieldLogger

	// now is replaceable so tests get stable timestamps.
	now func() time.Time

	mu sync.Mutex
}

// New creates an engine over store.
func New(store sheetstore.Store, cfg *config.Config, logger logrus.FieldLogger) *Engine {
	v := validation.New()
	return &Engine{
		store:     store,
		repos:     repository.New(store, cfg, v),
		cfg:       cfg,
		validator: v,
		matcher:   matcher.New(matcher.OptionsFromConfig(cfg.Matching)),
		logger:    logger.WithField("module", "engine"),
		now:       time.Now,
	}
}

// Repositories exposes the typed repositories for read-only commands.
func (e *Engine) Repositories() *repository.Set {
	return e.repos
}

// SetClock replaces the clock used for timestamps.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// RunOptions control a reconciliation pass.
type RunOptions struct {
	// Range limits which attendance events are recomputed. Rows outside it
	// are left as stored. A zero range covers everything.
	Range types.DateRange

	// ForceReverify recomputes rows that were manually verified.
	ForceReverify bool

	// DryRun runs every stage except Persist.
	DryRun bool
}

// RunResult is the outcome of Run.
type RunResult struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	DryRun     bool

	Summary  Summary
	Rows     []types.MasterRow
	Invoices []types.InvoiceBalance
	Issues   []utils.IssueLogEntry
}

// stage is one named step of a pass.
type stage struct {
	name string
	run  func(ctx context.Context, p *Pass) error
}

// Run executes a full reconciliation pass.
//
// RETURNS:
//   - The result, including the summary and the merged master rows.
//   - ErrRunInProgress, ErrInvalidDateRange, a context error, or a wrapped
//     storage error. Per-row problems never fail the run; they are returned
//     as issues.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if !e.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer e.mu.Unlock()

	if !opts.Range.Valid() {
		return nil, ErrInvalidDateRange
	}

	p := &Pass{
		ID:        uuid.NewString(),
		StartedAt: e.now(),
		Options:   opts,
	}
	log := e.logger.WithField("run_id", p.ID)
	log.WithFields(logrus.Fields{
		"force_reverify": opts.ForceReverify,
		"dry_run":        opts.DryRun,
	}).Info("Reconciliation started")

	stages := []stage{
		{"load", func(ctx context.Context, p *Pass) error {
			src, err := e.LoadSources(ctx)
			if err != nil {
				return err
			}
			p.Sources = src
			p.Issues = append(p.Issues, src.Issues...)
			return nil
		}},
		{"match", func(_ context.Context, p *Pass) error { return e.Match(p) }},
		{"discounts", func(_ context.Context, p *Pass) error { return e.ClassifyDiscounts(p) }},
		{"splits", func(_ context.Context, p *Pass) error { return e.ComputeSplits(p) }},
		{"build", func(_ context.Context, p *Pass) error { return e.BuildMasterRows(p) }},
		{"merge", func(_ context.Context, p *Pass) error { return e.Merge(p) }},
		{"persist", e.Persist},
	}

	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("run cancelled before %s: %w", st.name, err)
		}
		started := time.Now()
		if err := st.run(ctx, p); err != nil {
			logging.LogError(log, "engine", "Run", st.name, opts.Range, err)
			return nil, fmt.Errorf("%s: %w", st.name, err)
		}
		log.WithFields(logrus.Fields{
			"stage":    st.name,
			"duration": time.Since(started).String(),
		}).Debug("Stage complete")
	}

	res := &RunResult{
		RunID:      p.ID,
		StartedAt:  p.StartedAt,
		FinishedAt: e.now(),
		DryRun:     opts.DryRun,
		Rows:       p.Merged,
		Invoices:   p.Invoices,
		Issues:     p.Issues,
	}
	res.Summary = Summarize(p.Merged, opts.Range)
	res.Summary.NewRecordsAdded = p.MergeStats.Added
	res.Summary.UpdatedRecords = p.MergeStats.Updated
	res.Summary.PreservedRecords = p.Preserved
	res.Summary.EditsApplied = p.Edits.Applied
	res.Summary.UnconsumedPayments = len(p.Matches.Unconsumed)
	res.Summary.Issues = len(p.Issues)

	log.WithFields(logrus.Fields{
		"total":    res.Summary.TotalRecords,
		"verified": res.Summary.VerifiedRecords,
		"added":    res.Summary.NewRecordsAdded,
		"issues":   res.Summary.Issues,
	}).Info("Reconciliation finished")
	return res, nil
}

// lock takes the engine for a mutating operation other than Run.
func (e *Engine) lock() (func(), error) {
	if !e.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	return e.mu.Unlock, nil
}
