package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/hml-forecast-producer/internal/domain"
	"github.com/couchcryptid/hml-forecast-producer/internal/observability"
)

// Fetcher reads the current product catalog.
type Fetcher interface {
	Fetch(ctx context.Context) ([]domain.RawProduct, error)
}

// Store records which product ids have been delivered.
//
// TryReserve must be a single atomic conditional insert: of any number of
// concurrent callers for the same id, exactly one gets true. Commit and
// Release only act while the reservation is still held by the caller and
// return domain.ErrReservationLost otherwise. Connectivity failures wrap
// domain.ErrStoreUnavailable.
type Store interface {
	TryReserve(ctx context.Context, id string) (domain.Reservation, bool, error)
	Commit(ctx context.Context, r domain.Reservation, payload []byte, ttl time.Duration) error
	Release(ctx context.Context, r domain.Reservation) error
}

// Publisher delivers one product to the durable queue and returns only after
// the broker has confirmed it was routed. Failures wrap domain.ErrUnroutable,
// domain.ErrRejected, or domain.ErrConnectionLost.
type Publisher interface {
	Publish(ctx context.Context, p domain.ForecastProduct) error
}

// Pipeline fetches the catalog, orders it by issuance time, and delivers each
// unseen product exactly once across concurrent runs.
type Pipeline struct {
	fetcher     Fetcher
	store       Store
	publisher   Publisher
	logger      *slog.Logger
	metrics     *observability.Metrics
	deliveryTTL time.Duration

	mu       sync.Mutex
	last     Result
	hasLast  bool
	hasReady bool
}

// New creates a Pipeline with the given stages and observability.
func New(f Fetcher, s Store, p Publisher, logger *slog.Logger, metrics *observability.Metrics, deliveryTTL time.Duration) *Pipeline {
	if deliveryTTL <= 0 {
		deliveryTTL = domain.DeliveryTTL
	}
	return &Pipeline{
		fetcher:     f,
		store:       s,
		publisher:   p,
		logger:      logger,
		metrics:     metrics,
		deliveryTTL: deliveryTTL,
	}
}

// CheckReadiness returns nil once a run has completed without a fatal error,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hasReady {
		return errors.New("pipeline has not completed a run yet")
	}
	return nil
}

// LastResult returns the most recent run result, if any.
func (p *Pipeline) LastResult() (Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.hasLast
}

// RunOnce performs one fetch-dedup-publish pass. The returned error is
// non-nil exactly when the result status is StatusFatal.
func (p *Pipeline) RunOnce(ctx context.Context) (Result, error) {
	p.metrics.PipelineRunning.Inc()
	defer p.metrics.PipelineRunning.Dec()

	res := Result{StartedAt: clock.Now()}
	err := p.run(ctx, &res)
	res.Duration = clock.Since(res.StartedAt)

	switch {
	case err != nil:
		res.Status = StatusFatal
		res.Error = err.Error()
	case len(res.Failures) > 0:
		res.Status = StatusPartial
	default:
		res.Status = StatusSuccess
	}

	p.record(res)
	return res, err
}

func (p *Pipeline) run(ctx context.Context, res *Result) error {
	raws, err := p.fetcher.Fetch(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrFetch) {
			err = fmt.Errorf("%w: %w", domain.ErrFetch, err)
		}
		return err
	}
	res.Fetched = len(raws)
	p.metrics.ProductsFetched.Add(float64(len(raws)))

	batch, rejected := domain.NewBatch(raws)
	for _, rerr := range rejected {
		var verr *domain.ValidationError
		id := ""
		if errors.As(rerr, &verr) {
			id = verr.ID
		}
		p.logger.Warn("invalid product listing, skipping", "product_id", id, "error", rerr)
		p.metrics.ValidationErrors.Inc()
		res.Invalid++
		res.Failures = append(res.Failures, newFailure(id, StageValidate, rerr))
	}

	for _, product := range batch {
		if err := p.deliver(ctx, product, res); err != nil {
			return err
		}
	}
	return nil
}

// deliver moves one product through Reserved → Published → Committed, or
// Reserved → PublishFailed → Released. A non-nil return aborts the run.
func (p *Pipeline) deliver(ctx context.Context, product domain.ForecastProduct, res *Result) error {
	payload, err := domain.Serialize(product)
	if err != nil {
		res.Failures = append(res.Failures, newFailure(product.ID, StagePublish, err))
		p.metrics.PublishFailures.WithLabelValues(failureReason(err)).Inc()
		return nil
	}

	start := time.Now()
	r, ok, err := p.store.TryReserve(ctx, product.ID)
	p.observeStore("reserve", start)
	if err != nil {
		return storeError("reserve", product.ID, err)
	}
	if !ok {
		p.logger.Debug("product already delivered or in flight, skipping", "product_id", product.ID)
		p.metrics.DuplicatesSkipped.Inc()
		res.Duplicates++
		return nil
	}

	if err := p.publisher.Publish(ctx, product); err != nil {
		if rerr := p.release(ctx, r); rerr != nil {
			return rerr
		}
		p.metrics.PublishFailures.WithLabelValues(failureReason(err)).Inc()

		if !errors.Is(err, domain.ErrUnroutable) && !errors.Is(err, domain.ErrRejected) {
			return fmt.Errorf("publish %s: %w", product.ID, err)
		}
		p.logger.Warn("publish failed, reservation released",
			"product_id", product.ID,
			"issuance_time", product.IssuanceTime,
			"error", err,
		)
		res.Failures = append(res.Failures, newFailure(product.ID, StagePublish, err))
		return nil
	}

	res.Published++
	p.metrics.ProductsPublished.Inc()

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), domain.FinalizeTimeout)
	defer cancel()
	start = time.Now()
	err = p.store.Commit(commitCtx, r, payload, p.deliveryTTL)
	p.observeStore("commit", start)
	switch {
	case err == nil:
		p.logger.Debug("product delivered", "product_id", product.ID, "issuance_time", product.IssuanceTime)
		return nil
	case errors.Is(err, domain.ErrReservationLost):
		p.logger.Error("published product but reservation was lost before commit",
			"product_id", product.ID, "error", err)
		p.metrics.PublishFailures.WithLabelValues(failureReason(err)).Inc()
		res.Failures = append(res.Failures, newFailure(product.ID, StageCommit, err))
		return nil
	default:
		return storeError("commit", product.ID, err)
	}
}

func (p *Pipeline) release(ctx context.Context, r domain.Reservation) error {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), domain.FinalizeTimeout)
	defer cancel()

	start := time.Now()
	err := p.store.Release(releaseCtx, r)
	p.observeStore("release", start)
	if err == nil || errors.Is(err, domain.ErrReservationLost) {
		return nil
	}
	return storeError("release", r.ID, err)
}

func (p *Pipeline) observeStore(op string, start time.Time) {
	p.metrics.StoreOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (p *Pipeline) record(res Result) {
	p.metrics.Runs.WithLabelValues(string(res.Status)).Inc()
	p.metrics.RunDuration.Observe(res.Duration.Seconds())
	if res.Status == StatusSuccess {
		p.metrics.LastSuccessfulRun.Set(float64(res.StartedAt.Unix()))
	}

	attrs := []any{
		"status", res.Status,
		"fetched", res.Fetched,
		"invalid", res.Invalid,
		"duplicates", res.Duplicates,
		"published", res.Published,
		"failures", len(res.Failures),
		"duration", res.Duration,
	}
	if res.Status == StatusFatal {
		p.logger.Error("run aborted", append(attrs, "error", res.Error)...)
	} else {
		p.logger.Info("run finished", attrs...)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = res
	p.hasLast = true
	if res.Status != StatusFatal {
		p.hasReady = true
	}
}

func storeError(op, id string, err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	return fmt.Errorf("%s %s: %w: %w", op, id, domain.ErrStoreUnavailable, err)
}
