package reconcile

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/pricekit/repricer/pkg/marketplace"
	"github.com/pricekit/repricer/pkg/metrics"
	"github.com/pricekit/repricer/pkg/models"
	"github.com/pricekit/repricer/pkg/pricing"
	"github.com/pricekit/repricer/pkg/resilience"
	"github.com/pricekit/repricer/pkg/session"
	"github.com/pricekit/repricer/pkg/tracing"
)

const (
	// DefaultMaxConcurrency is the default number of concurrent lookups.
	DefaultMaxConcurrency = 1
	// MaxLookupConcurrency caps concurrent lookups regardless of config.
	MaxLookupConcurrency = 3
	// DefaultDelayMin is the lower bound of the jittered inter-item delay.
	DefaultDelayMin = 500 * time.Millisecond
	// DefaultDelayMax is the upper bound of the jittered inter-item delay.
	DefaultDelayMax = 1500 * time.Millisecond
)

// WorkerConfig holds worker configuration
type WorkerConfig struct {
	MaxConcurrency int
	DelayMin       time.Duration
	DelayMax       time.Duration
}

// DefaultWorkerConfig returns default worker configuration
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		MaxConcurrency: DefaultMaxConcurrency,
		DelayMin:       DefaultDelayMin,
		DelayMax:       DefaultDelayMax,
	}
}

// Worker processes the working set of one run. Lookups may overlap up to
// MaxConcurrency; item processing, price updates and emission run on a single
// collector goroutine in catalog order, so updates are globally serialized
// and processedCount increases monotonically.
type Worker struct {
	lookup   marketplace.CompetitorLookup
	updates  marketplace.UpdateAPI
	guard    *session.Guard
	executor *resilience.Executor
	sink     ResultSink
	cfg      WorkerConfig
	logger   ectologger.Logger
}

// NewWorker creates a new reconciliation worker
func NewWorker(
	cfg WorkerConfig,
	lookup marketplace.CompetitorLookup,
	updates marketplace.UpdateAPI,
	guard *session.Guard,
	executor *resilience.Executor,
	sink ResultSink,
	logger ectologger.Logger,
) *Worker {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.MaxConcurrency > MaxLookupConcurrency {
		cfg.MaxConcurrency = MaxLookupConcurrency
	}
	if cfg.DelayMin < 0 {
		cfg.DelayMin = 0
	}
	if cfg.DelayMax < cfg.DelayMin {
		cfg.DelayMax = cfg.DelayMin
	}
	return &Worker{
		lookup:   lookup,
		updates:  updates,
		guard:    guard,
		executor: executor,
		sink:     sink,
		cfg:      cfg,
		logger:   logger,
	}
}

type indexedProduct struct {
	index   int
	product models.Product
}

type lookupOutcome struct {
	index int
	price int64
	err   error
}

// Run processes the working set until exhaustion, cancellation, or a fatal
// session loss with ContinueAfterSessionLoss disabled. It returns the
// terminal status for the run and, for a failed run, the cause.
func (w *Worker) Run(ctx context.Context, handle *RunHandle, workingSet []models.Product, settings models.ReconciliationSettings) (models.RunStatus, error) {
	ctx, span := tracing.StartSpan(ctx, "Worker.Run")
	defer span.End()

	// Internal cancel tears down the lookup pool on any early exit.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Announce the run with a zero-progress event before any item is
	// processed, so sinks see the start even when the run is cancelled
	// before its first result.
	if err := w.sink.OnProgress(ctx, Progress{RunID: handle.RunID(), Total: int64(len(workingSet))}); err != nil {
		w.logger.WithContext(ctx).WithError(err).Warnf("Result sink rejected progress event")
	}

	items := make(chan indexedProduct)
	results := make(chan lookupOutcome, w.cfg.MaxConcurrency)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.MaxConcurrency; i++ {
		wg.Add(1)
		go w.lookupWorker(ctx, items, results, &wg)
	}

	go func() {
		defer close(items)
		for i, product := range workingSet {
			select {
			case items <- indexedProduct{index: i, product: product}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	pending := make(map[int]lookupOutcome)
	updatesEnabled := true
	var runErr error
	next := 0

collect:
	for next < len(workingSet) {
		if handle.Cancelled() || ctx.Err() != nil {
			break
		}

		outcome, ok := pending[next]
		if !ok {
			res, open := <-results
			if !open {
				break
			}
			pending[res.index] = res
			continue
		}
		delete(pending, next)

		product := workingSet[next]
		result := &models.AnalysisResult{
			ID:        uuid.New(),
			RunID:     handle.RunID(),
			ProductID: product.ID,
			CreatedAt: time.Now().UTC(),
		}

		if outcome.err != nil {
			if isCancelled(outcome.err) {
				break
			}
			detail := outcome.err.Error()
			result.Outcome = models.OutcomeLookupFailed
			result.FailureDetail = &detail
			handle.recordItem(bucketFailed)
			w.logger.WithContext(ctx).WithError(outcome.err).WithFields(map[string]any{
				"product_id": product.ID,
			}).Warnf("Competitor lookup failed terminally")
		} else {
			decision := pricing.Decide(&product, outcome.price, settings)
			result.CompetitorPrice = outcome.price
			result.CandidatePrice = decision.CandidatePrice
			result.Margin = decision.Margin
			result.Outcome = decision.Outcome

			switch {
			case decision.Outcome == models.OutcomeUpdateCandidate && settings.AutoApply && updatesEnabled:
				bucket, detail, stop := w.applyUpdate(ctx, &product, decision.CandidatePrice, settings, &updatesEnabled)
				if stop == stopCancelled {
					break collect
				}
				if detail != nil {
					result.FailureDetail = detail
				}
				result.Applied = bucket == bucketUpdated
				handle.recordItem(bucket)
				if stop == stopSessionLoss {
					// Emit this item's result, then stop the run.
					runErr = fmt.Errorf("session lost: %s", *detail)
					w.emit(ctx, handle, result, next+1, int64(len(workingSet)))
					next++
					break collect
				}
			case decision.Outcome == models.OutcomeUpdateCandidate:
				// Report-only: either autoApply is off or updates were
				// disabled after a session loss.
				if !updatesEnabled {
					detail := "update skipped: session unavailable"
					result.FailureDetail = &detail
				}
				handle.recordItem(bucketKeptCurrent)
			case decision.Outcome.Excluded():
				handle.recordItem(bucketExcluded)
			default:
				handle.recordItem(bucketKeptCurrent)
			}
		}

		metrics.RecordItem(string(result.Outcome))
		w.emit(ctx, handle, result, next+1, int64(len(workingSet)))
		next++

		if next < len(workingSet) && !w.interItemDelay(ctx) {
			break
		}
	}

	cancel()

	switch {
	case runErr != nil:
		return models.RunStatusFailed, runErr
	case next < len(workingSet):
		return models.RunStatusCancelled, nil
	default:
		return models.RunStatusCompleted, nil
	}
}

// stopReason tells the collector whether item processing must end the run.
type stopReason int

const (
	stopNone stopReason = iota
	stopCancelled
	stopSessionLoss
)

// applyUpdate validates the session and issues the price update. It returns
// the statistics bucket for the item, an optional failure detail, and whether
// the run must stop (cancellation, or session loss with
// ContinueAfterSessionLoss disabled).
func (w *Worker) applyUpdate(ctx context.Context, product *models.Product, newPrice int64, settings models.ReconciliationSettings, updatesEnabled *bool) (statBucket, *string, stopReason) {
	if err := w.guard.EnsureValid(ctx); err != nil {
		if isCancelled(err) {
			return bucketKeptCurrent, nil, stopCancelled
		}
		*updatesEnabled = false
		w.logger.WithContext(ctx).WithError(err).Errorf("Session lost, disabling updates for the rest of the run")
		detail := "update skipped: " + err.Error()
		stop := stopNone
		if !settings.ContinueAfterSessionLoss {
			stop = stopSessionLoss
		}
		return bucketKeptCurrent, &detail, stop
	}

	err := w.executor.Execute(ctx, "marketplace.update", func(ctx context.Context) error {
		return w.updates.ApplyPrice(ctx, product, newPrice)
	})
	if err != nil {
		if isCancelled(err) {
			return bucketKeptCurrent, nil, stopCancelled
		}
		detail := err.Error()
		w.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"product_id": product.ID,
			"new_price":  newPrice,
		}).Warnf("Price update failed terminally")
		return bucketFailed, &detail, stopNone
	}

	return bucketUpdated, nil, stopNone
}

func (w *Worker) lookupWorker(ctx context.Context, items <-chan indexedProduct, results chan<- lookupOutcome, wg *sync.WaitGroup) {
	defer wg.Done()
	for item := range items {
		product := item.product
		price, err := resilience.ExecuteValue(ctx, w.executor, "marketplace.lookup", func(ctx context.Context) (int64, error) {
			return w.lookup.LookupPrice(ctx, &product)
		})

		select {
		case results <- lookupOutcome{index: item.index, price: price, err: err}:
		case <-ctx.Done():
			return
		}
	}
}

// emit hands one result and one progress event to the sink. Sink errors are
// logged, never fatal to the run.
func (w *Worker) emit(ctx context.Context, handle *RunHandle, result *models.AnalysisResult, processed int, total int64) {
	if err := w.sink.OnItemResult(ctx, result); err != nil {
		w.logger.WithContext(ctx).WithError(err).Warnf("Result sink rejected item result")
	}
	progress := Progress{RunID: handle.RunID(), Processed: int64(processed), Total: total}
	if err := w.sink.OnProgress(ctx, progress); err != nil {
		w.logger.WithContext(ctx).WithError(err).Warnf("Result sink rejected progress event")
	}
}

// interItemDelay sleeps the jittered pacing delay. Returns false when the
// wait was interrupted by cancellation.
func (w *Worker) interItemDelay(ctx context.Context) bool {
	if w.cfg.DelayMax <= 0 {
		return ctx.Err() == nil
	}
	delay := w.cfg.DelayMin
	if spread := w.cfg.DelayMax - w.cfg.DelayMin; spread > 0 {
		delay += time.Duration(rand.Int63n(int64(spread)))
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func isCancelled(err error) bool {
	if err == nil {
		return false
	}
	failure, ok := resilience.AsFailure(err)
	return ok && failure.Kind == resilience.FailureCancelled
}
