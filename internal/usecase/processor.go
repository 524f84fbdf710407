package usecase

import (
	"context"
	"regexp"
	"time"

	"SigPull/internal/domain/models"
	drepo "SigPull/internal/domain/repository"
	"SigPull/internal/parser"
	"SigPull/internal/service/cache"
	"SigPull/pkg/logger"
)

// defaultAssetPattern is the observed ticker shape: letters followed by
// digits, bounded length. Product heuristic, overridable via config.
var defaultAssetPattern = regexp.MustCompile(`^[A-Z]{4,8}\d{1,2}$`)

// CompletenessFn decides whether a parsed signal carries enough fields to
// publish. The default rule: both buy bounds, or a target plus a stop.
type CompletenessFn func(*models.ParsedSignal) bool

// DefaultCompleteness is the observed completeness heuristic.
func DefaultCompleteness(sig *models.ParsedSignal) bool {
	if sig.HasBuyRange() {
		return true
	}
	return sig.HasTarget() && sig.Stop != nil
}

// Result is the per-message outcome. Failures are values here, never
// errors crossing the batch boundary.
type Result struct {
	Outcome models.Outcome
	Signal  *models.ParsedSignal
	Err     error
}

// Processor runs the parse -> validate -> dedup -> persist pipeline shared
// by every acquisition path.
type Processor struct {
	store     drepo.SignalStore
	metrics   drepo.Metrics
	logger    *logger.Logger
	assetRe   *regexp.Regexp
	complete  CompletenessFn
	seen      *cache.TTLCache
	seenTTL   time.Duration
	signalTyp string
}

// ProcessorOption customizes validation heuristics.
type ProcessorOption func(*Processor)

// WithAssetPattern overrides the ticker shape check.
func WithAssetPattern(re *regexp.Regexp) ProcessorOption {
	return func(p *Processor) { p.assetRe = re }
}

// WithCompleteness overrides the completeness predicate.
func WithCompleteness(fn CompletenessFn) ProcessorOption {
	return func(p *Processor) { p.complete = fn }
}

// WithSignalType sets the type stamped on published signals.
func WithSignalType(t string) ProcessorOption {
	return func(p *Processor) { p.signalTyp = t }
}

// NewProcessor creates the shared pipeline core.
func NewProcessor(store drepo.SignalStore, metrics drepo.Metrics, lgr *logger.Logger, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:     store,
		metrics:   metrics,
		logger:    lgr,
		assetRe:   defaultAssetPattern,
		complete:  DefaultCompleteness,
		seen:      cache.NewTTLCache(),
		seenTTL:   10 * time.Minute,
		signalTyp: models.DefaultSignalType,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessMessage runs one raw message through the pipeline. The store-level
// dedup is the final arbiter; the in-memory seen set only spares the store a
// round-trip for recently handled keys.
func (p *Processor) ProcessMessage(ctx context.Context, raw *models.RawMessage, source models.Source) Result {
	start := time.Now()
	res := p.process(ctx, raw, source)
	p.metrics.RecordOutcome(string(source), string(res.Outcome))
	p.metrics.RecordDuration(string(source), time.Since(start).Seconds())
	return res
}

func (p *Processor) process(ctx context.Context, raw *models.RawMessage, source models.Source) Result {
	content := raw.Content()
	if content == "" {
		return Result{Outcome: models.OutcomeEmptySkipped}
	}

	postedAt := raw.PostedAt
	sig, err := parser.Parse(content, &parser.Overrides{
		Channel:    raw.ChannelID,
		Source:     source,
		SignalType: p.signalTyp,
		EventAt:    &postedAt,
	})
	if err != nil {
		return Result{Outcome: models.OutcomeParseFailed, Err: err}
	}

	if !p.assetRe.MatchString(sig.Asset) {
		return Result{Outcome: models.OutcomeInvalidAsset, Signal: sig}
	}
	if !p.complete(sig) {
		return Result{Outcome: models.OutcomeIncomplete, Signal: sig}
	}

	key := sig.DedupKey()
	if _, hit := p.seen.Get(key); hit {
		return Result{Outcome: models.OutcomeDuplicate, Signal: sig}
	}
	exists, err := p.store.Exists(ctx, sig)
	if err != nil {
		return Result{Outcome: models.OutcomeFailedTransit, Signal: sig, Err: err}
	}
	if exists {
		p.seen.Set(key, struct{}{}, p.seenTTL)
		return Result{Outcome: models.OutcomeDuplicate, Signal: sig}
	}

	inserted, id, err := p.store.InsertIfAbsent(ctx, sig)
	if err != nil {
		return Result{Outcome: models.OutcomeFailedTransit, Signal: sig, Err: err}
	}
	p.seen.Set(key, struct{}{}, p.seenTTL)
	if !inserted {
		return Result{Outcome: models.OutcomeDuplicate, Signal: sig}
	}
	sig.ID = id

	p.logger.Info("signal published",
		logger.String("asset", sig.Asset),
		logger.String("channel", sig.Channel),
		logger.String("source", string(source)),
		logger.String("id", id))
	return Result{Outcome: models.OutcomePublished, Signal: sig}
}

// FlushSeen drops the in-memory seen set. The external delete path removes
// rows the seen set still remembers, so the store must become the arbiter
// again for every key.
func (p *Processor) FlushSeen() {
	p.seen.Flush()
}

// Validate exposes the asset and completeness checks for paths that persist
// outside the raw-message dedup key (full scan).
func (p *Processor) Validate(sig *models.ParsedSignal) models.Outcome {
	if !p.assetRe.MatchString(sig.Asset) {
		return models.OutcomeInvalidAsset
	}
	if !p.complete(sig) {
		return models.OutcomeIncomplete
	}
	return models.OutcomePublished
}
