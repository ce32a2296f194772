package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Redflag/internal/cache"
	"github.com/MikeSquared-Agency/Redflag/internal/config"
	"github.com/MikeSquared-Agency/Redflag/internal/credits"
	"github.com/MikeSquared-Agency/Redflag/internal/hermes"
	"github.com/MikeSquared-Agency/Redflag/internal/metrics"
	"github.com/MikeSquared-Agency/Redflag/internal/scoring"
	"github.com/MikeSquared-Agency/Redflag/internal/store"
)

// Engine is the external surface of the weighting and scoring subsystem. It owns the
// weight catalog and routes every operation through the scoring components and the
// credit gate.
type Engine struct {
	store      store.Store
	hermes     hermes.Client
	cache      cache.SnapshotCache
	metrics    *metrics.Metrics
	cfg        config.ScoringConfig
	logger     *slog.Logger
	catalog    *scoring.Catalog
	normalizer *scoring.Normalizer
	aggregator *scoring.Aggregator
	ranker     *scoring.Ranker
	gate       *credits.Gate
	auditor    *credits.Auditor

	refreshMu  sync.Mutex
	lastReport atomic.Pointer[scoring.NormalizeReport]
	now        func() time.Time
}

// New wires an Engine. hermesClient, snapshotCache and m may be nil.
func New(s store.Store, hermesClient hermes.Client, snapshotCache cache.SnapshotCache, m *metrics.Metrics, cfg config.ScoringConfig, logger *slog.Logger) *Engine {
	var aggOpts []scoring.AggregatorOption
	if m != nil {
		aggOpts = append(aggOpts, scoring.WithGuardHook(m.Guard))
	}
	return &Engine{
		store:   s,
		hermes:  hermesClient,
		cache:   snapshotCache,
		metrics: m,
		cfg:     cfg,
		logger:  logger,
		catalog: scoring.NewCatalog(),
		normalizer: scoring.NewNormalizer(scoring.NormalizerConfig{
			Bounds:        scoring.WeightBounds{Min: cfg.MinWeight, Max: cfg.MaxWeight, Default: cfg.DefaultWeight},
			ImportanceMin: cfg.ImportanceMin,
			ImportanceMax: cfg.ImportanceMax,
			Mode:          scoring.Mode(cfg.Normalization),
		}),
		aggregator: scoring.NewAggregator(cfg.MaxScale, cfg.DefaultWeight, logger, aggOpts...),
		ranker:     scoring.NewRanker(cfg.DefaultWeight, cfg.DefaultTopFlags),
		gate:       credits.NewGate(s, logger),
		auditor:    credits.NewAuditor(s, logger),
		now:        time.Now,
	}
}

// Catalog exposes the live weight catalog for read-only use.
func (e *Engine) Catalog() *scoring.Catalog { return e.catalog }

// LoadCatalog publishes the stored questions at the store's current weights version.
// A cached snapshot computed by another replica replaces it only when it is newer than
// what was loaded, no newer than the store's version, and covers the same questions:
// the database stays authoritative.
func (e *Engine) LoadCatalog(ctx context.Context) (*scoring.WeightSnapshot, error) {
	version, err := e.store.WeightsVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("weights version: %w", err)
	}
	questions, err := e.store.ListQuestions(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	for _, q := range questions {
		if q.Weight <= 0 {
			q.Weight = e.seedWeight(q)
		}
	}
	snap, _ := e.catalog.Publish(questions, version, e.now())

	if cached := e.cachedSnapshot(ctx, snap); cached != nil && e.catalog.Restore(cached) {
		snap = cached
		e.logger.Info("weight snapshot restored from cache", "version", snap.Version)
	}
	e.setVersionGauge(snap)
	e.logger.Info("weight catalog loaded", "questions", snap.Len(), "version", snap.Version)
	return snap, nil
}

// cachedSnapshot returns the shared cache's snapshot when it may replace loaded.
func (e *Engine) cachedSnapshot(ctx context.Context, loaded *scoring.WeightSnapshot) *scoring.WeightSnapshot {
	if e.cache == nil {
		return nil
	}
	cached, err := e.cache.Load(ctx)
	if err != nil {
		e.logger.Warn("weight cache unavailable", "error", err)
		return nil
	}
	if cached == nil || cached.Version <= loaded.Version {
		return nil
	}
	latest, err := e.store.WeightsVersion(ctx)
	if err != nil {
		e.logger.Warn("weights version unavailable, ignoring cache", "error", err)
		return nil
	}
	if cached.Version > latest {
		e.logger.Warn("cached weight snapshot is ahead of the database, ignoring",
			"cached_version", cached.Version, "db_version", latest)
		return nil
	}
	if !cached.SameQuestions(loaded) {
		e.logger.Warn("cached weight snapshot covers different questions, ignoring",
			"cached_version", cached.Version, "cached_questions", cached.Len(), "questions", loaded.Len())
		return nil
	}
	return cached
}

func (e *Engine) seedWeight(q *store.Question) float64 {
	if q.DefaultWeight > 0 {
		return q.DefaultWeight
	}
	return e.cfg.DefaultWeight
}

// --- Questions & importance ---

func (e *Engine) ListQuestions(ctx context.Context) ([]*store.Question, error) {
	questions, err := e.store.ListQuestions(ctx, true)
	if err != nil {
		return nil, err
	}
	if questions == nil {
		questions = []*store.Question{}
	}
	return questions, nil
}

// RateImportance stores a user's importance ratings. Recomputation is left to the
// refresher, which reacts to the emitted event or its schedule.
func (e *Engine) RateImportance(ctx context.Context, userID string, ratings []store.ImportanceRating) error {
	if userID == "" {
		return &scoring.ValidationError{Problems: []string{"user id is required"}}
	}
	if len(ratings) == 0 {
		return &scoring.ValidationError{Problems: []string{"at least one rating is required"}}
	}
	var problems []string
	seen := make(map[string]bool, len(ratings))
	for i, r := range ratings {
		if r.QuestionKey == "" {
			problems = append(problems, fmt.Sprintf("rating %d: missing question key", i))
			continue
		}
		if seen[r.QuestionKey] {
			problems = append(problems, fmt.Sprintf("rating %d: duplicate question %q", i, r.QuestionKey))
		}
		seen[r.QuestionKey] = true
		if r.Importance < e.cfg.ImportanceMin || r.Importance > e.cfg.ImportanceMax {
			problems = append(problems, fmt.Sprintf("rating %d: importance %d outside [%d, %d]",
				i, r.Importance, e.cfg.ImportanceMin, e.cfg.ImportanceMax))
		}
	}
	if len(problems) > 0 {
		return &scoring.ValidationError{Problems: problems}
	}

	if err := e.store.UpsertImportanceRatings(ctx, userID, ratings); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &scoring.ValidationError{Problems: []string{"ratings reference an unknown question"}}
		}
		return err
	}
	e.logger.Info("importance rated", "user_id", userID, "ratings", len(ratings))
	hermes.Emit(e.hermes, e.logger, hermes.SubjectImportanceRated(userID), hermes.ImportanceRatedEvent{
		UserID:    userID,
		Ratings:   len(ratings),
		Timestamp: e.now(),
	})
	return nil
}

// --- Weights ---

// ComputeWeights derives weights from the current ratings without applying them.
func (e *Engine) ComputeWeights(ctx context.Context) (map[string]float64, *scoring.NormalizeReport, error) {
	questions, err := e.store.ListQuestions(ctx, true)
	if err != nil {
		return nil, nil, fmt.Errorf("list questions: %w", err)
	}
	ratings, err := e.store.ListImportanceRatings(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list ratings: %w", err)
	}
	for _, q := range questions {
		if q.Weight <= 0 {
			q.Weight = e.seedWeight(q)
		}
	}
	rep := e.normalizer.Compute(questions, ratings)
	return rep.Weights(), rep, nil
}

// RefreshWeights recomputes, persists and publishes all weights. Each question is
// persisted independently; a question that cannot be stored keeps its previous weight
// in the new snapshot. Readers see the new weights only once the snapshot is published.
func (e *Engine) RefreshWeights(ctx context.Context, trigger string) (*scoring.NormalizeReport, error) {
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()

	start := e.now()
	status := "ok"
	defer func() {
		if e.metrics != nil {
			e.metrics.RecomputeRuns.WithLabelValues(trigger, status).Inc()
			e.metrics.RecomputeDuration.Observe(time.Since(start).Seconds())
		}
	}()

	questions, err := e.store.ListQuestions(ctx, true)
	if err != nil {
		status = "error"
		return nil, fmt.Errorf("list questions: %w", err)
	}
	ratings, err := e.store.ListImportanceRatings(ctx)
	if err != nil {
		status = "error"
		return nil, fmt.Errorf("list ratings: %w", err)
	}
	stored := make(map[string]float64, len(questions))
	for _, q := range questions {
		stored[q.Key] = q.Weight
		if q.Weight <= 0 {
			q.Weight = e.seedWeight(q)
		}
	}

	rep := e.normalizer.Compute(questions, ratings)
	computed := make(map[string]scoring.QuestionWeight, len(rep.Questions))
	for _, qw := range rep.Questions {
		computed[qw.Key] = qw
	}

	for _, q := range questions {
		qw, ok := computed[q.Key]
		if !ok {
			continue
		}
		if qw.Weight == stored[q.Key] {
			q.Weight = qw.Weight
			continue
		}
		if err := e.store.UpdateQuestionWeight(ctx, q.Key, qw.Weight); err != nil {
			e.logger.Error("failed to persist question weight", "question", q.Key, "error", err)
			rep.Failed = append(rep.Failed, q.Key)
			continue
		}
		q.Weight = qw.Weight
	}
	if len(rep.Failed) > 0 {
		status = "partial"
		if e.metrics != nil {
			e.metrics.QuestionFailures.Add(float64(len(rep.Failed)))
		}
	}

	version, err := e.store.NextWeightsVersion(ctx)
	if err != nil {
		status = "error"
		return nil, fmt.Errorf("next weights version: %w", err)
	}
	snap, published := e.catalog.Publish(questions, version, e.now())
	e.lastReport.Store(rep)
	e.setVersionGauge(snap)
	if !published {
		e.logger.Warn("newer weight snapshot already live, skipping publish", "version", version, "live_version", snap.Version)
	}

	if e.cache != nil && published {
		if err := e.cache.Store(ctx, snap); err != nil {
			e.logger.Warn("failed to cache weight snapshot", "version", snap.Version, "error", err)
		}
	}

	changed := len(rep.Changed())
	e.logger.Info("weights recomputed",
		"trigger", trigger,
		"version", snap.Version,
		"mode", rep.Mode,
		"questions", len(rep.Questions),
		"changed", changed,
		"failed", len(rep.Failed),
		"ratings", rep.Ratings,
	)
	hermes.Emit(e.hermes, e.logger, hermes.SubjectWeightsRecomputed, hermes.WeightsRecomputedEvent{
		Version:    snap.Version,
		Mode:       string(rep.Mode),
		Questions:  len(rep.Questions),
		Changed:    changed,
		Failed:     rep.Failed,
		Weights:    snap.WeightsCopy(),
		DurationMs: time.Since(start).Milliseconds(),
		Trigger:    trigger,
		Timestamp:  e.now(),
	})
	return rep, nil
}

// LastReport returns the report of the most recent RefreshWeights run, or nil.
func (e *Engine) LastReport() *scoring.NormalizeReport {
	return e.lastReport.Load()
}

func (e *Engine) setVersionGauge(snap *scoring.WeightSnapshot) {
	if e.metrics != nil {
		e.metrics.WeightsVersion.Set(float64(snap.Version))
	}
}

// --- Analyses ---

// SubmitAnalysis validates and scores an answer set against the current weight
// snapshot and persists it as a locked result carrying that snapshot.
func (e *Engine) SubmitAnalysis(ctx context.Context, userID string, answers []store.Answer) (*ResultView, error) {
	if userID == "" {
		return nil, &scoring.ValidationError{Problems: []string{"user id is required"}}
	}
	snap := e.catalog.Snapshot()
	if err := scoring.ValidateAnswers(answers, e.maxAnswers(snap), snap); err != nil {
		return nil, err
	}

	weights := snap.WeightsCopy()
	categories := snap.CategoriesCopy()
	scores := e.aggregator.Aggregate(answers, weights, categories)

	r := &store.Result{
		UserID:             userID,
		Answers:            append([]store.Answer(nil), answers...),
		Weights:            weights,
		QuestionCategories: categories,
		WeightsVersion:     snap.Version,
		TotalScore:         scores.Total,
		CategoryScores:     scores.Categories,
	}
	if err := e.store.CreateResult(ctx, r); err != nil {
		return nil, fmt.Errorf("create result: %w", err)
	}

	if e.metrics != nil {
		e.metrics.AnalysesSubmitted.Inc()
	}
	e.logger.Info("analysis submitted",
		"result_id", r.ID,
		"user_id", userID,
		"answers", len(answers),
		"weights_version", snap.Version,
	)

	catScores := make(map[string]float64, len(scores.Categories))
	for c, v := range scores.Categories {
		catScores[string(c)] = v
	}
	hermes.Emit(e.hermes, e.logger, hermes.SubjectAnalysisSubmitted(r.ID.String()), hermes.AnalysisSubmittedEvent{
		ResultID:       r.ID.String(),
		UserID:         userID,
		Answers:        len(answers),
		TotalScore:     scores.Total,
		CategoryScores: catScores,
		WeightsVersion: snap.Version,
		Timestamp:      e.now(),
	})
	return e.view(r), nil
}

func (e *Engine) maxAnswers(snap *scoring.WeightSnapshot) int {
	if snap.Len() > 0 && (e.cfg.MaxAnswers <= 0 || snap.Len() < e.cfg.MaxAnswers) {
		return snap.Len()
	}
	return e.cfg.MaxAnswers
}

// Unlock spends a credit to reveal a result and returns the full view with its
// top red flags.
func (e *Engine) Unlock(ctx context.Context, resultID uuid.UUID, userID string) (*UnlockView, error) {
	receipt, err := e.gate.Unlock(ctx, resultID, userID)
	if err != nil {
		e.countUnlock(unlockOutcome(err))
		if errors.Is(err, store.ErrInsufficientCredit) {
			hermes.Emit(e.hermes, e.logger, hermes.SubjectCreditsRefused(userID), hermes.CreditsRefusedEvent{
				ResultID:  resultID.String(),
				UserID:    userID,
				Timestamp: e.now(),
			})
		}
		return nil, err
	}

	switch {
	case receipt.AlreadyUnlocked:
		e.countUnlock("already_unlocked")
	case receipt.Charged:
		e.countUnlock("charged")
	default:
		e.countUnlock("free")
	}

	if !receipt.AlreadyUnlocked {
		ev := hermes.AnalysisUnlockedEvent{
			ResultID:  resultID.String(),
			UserID:    userID,
			Charged:   receipt.Charged,
			Balance:   receipt.Balance,
			Timestamp: e.now(),
		}
		if receipt.Entry != nil {
			ev.EntryID = receipt.Entry.ID.String()
		}
		hermes.Emit(e.hermes, e.logger, hermes.SubjectAnalysisUnlocked(resultID.String()), ev)
	}

	return &UnlockView{
		Result:          e.view(receipt.Result),
		Charged:         receipt.Charged,
		AlreadyUnlocked: receipt.AlreadyUnlocked,
		Balance:         receipt.Balance,
		Entry:           receipt.Entry,
	}, nil
}

func unlockOutcome(err error) string {
	switch {
	case errors.Is(err, store.ErrInsufficientCredit):
		return "insufficient_credit"
	case errors.Is(err, store.ErrNotOwner):
		return "not_owner"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func (e *Engine) countUnlock(outcome string) {
	if e.metrics != nil {
		e.metrics.Unlocks.WithLabelValues(outcome).Inc()
	}
}

// GetResult returns the owner's view of a result. Locked results show their scores but no red flags.
func (e *Engine) GetResult(ctx context.Context, resultID uuid.UUID, userID string) (*ResultView, error) {
	r, err := e.ownedResult(ctx, resultID, userID)
	if err != nil {
		return nil, err
	}
	return e.view(r), nil
}

// GetTopRedFlags returns a page of the result's red flags, ranked against the
// weights stored with the result.
func (e *Engine) GetTopRedFlags(ctx context.Context, resultID uuid.UUID, userID string, offset, limit int) (*scoring.RedFlagPage, error) {
	r, err := e.ownedResult(ctx, resultID, userID)
	if err != nil {
		return nil, err
	}
	return e.ranker.Rank(r, offset, limit)
}

// Breakdown returns the per-answer contributions behind an unlocked result's score.
func (e *Engine) Breakdown(ctx context.Context, resultID uuid.UUID, userID string) (*Breakdown, error) {
	r, err := e.ownedResult(ctx, resultID, userID)
	if err != nil {
		return nil, err
	}
	if !r.Unlocked {
		return nil, scoring.ErrResultLocked
	}
	scores := e.aggregator.Aggregate(r.Answers, r.Weights, r.QuestionCategories)
	return &Breakdown{
		ResultID:       r.ID,
		WeightsVersion: r.WeightsVersion,
		MaxScale:       e.aggregator.MaxScale(),
		TotalScore:     r.TotalScore,
		CategoryScores: r.CategoryScores,
		Contributions:  scores.Contributions,
	}, nil
}

func (e *Engine) ListResults(ctx context.Context, userID string, offset, limit int) ([]*ResultView, error) {
	results, err := e.store.ListResults(ctx, store.ResultFilter{UserID: userID, Offset: offset, Limit: limit})
	if err != nil {
		return nil, err
	}
	views := make([]*ResultView, 0, len(results))
	for _, r := range results {
		v := e.view(r)
		v.RedFlags = nil
		views = append(views, v)
	}
	return views, nil
}

func (e *Engine) ownedResult(ctx context.Context, resultID uuid.UUID, userID string) (*store.Result, error) {
	r, err := e.store.GetResult(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, store.ErrNotFound
	}
	if userID == "" || r.UserID != userID {
		return nil, store.ErrNotOwner
	}
	return r, nil
}

// --- Credits ---

func (e *Engine) Balance(ctx context.Context, userID string) (*store.Account, error) {
	return e.gate.Balance(ctx, userID)
}

func (e *Engine) Ledger(ctx context.Context, userID string, limit int) ([]*store.LedgerEntry, error) {
	return e.gate.Ledger(ctx, userID, limit)
}

// GrantCredits applies a credit grant and emits credits.granted.
func (e *Engine) GrantCredits(ctx context.Context, userID string, typ store.LedgerType, amount int, description string, metadata map[string]interface{}) (*store.Account, *store.LedgerEntry, error) {
	acct, entry, err := e.gate.Grant(ctx, userID, typ, amount, description, metadata)
	if err != nil {
		return nil, nil, err
	}
	if e.metrics != nil {
		e.metrics.CreditsGranted.WithLabelValues(string(typ)).Add(float64(amount))
	}
	hermes.Emit(e.hermes, e.logger, hermes.SubjectCreditsGranted(userID), hermes.CreditsGrantedEvent{
		UserID:    userID,
		Type:      string(typ),
		Amount:    amount,
		Balance:   acct.Credits,
		EntryID:   entry.ID.String(),
		Timestamp: e.now(),
	})
	return acct, entry, nil
}

func (e *Engine) SetUnlimited(ctx context.Context, userID string, unlimited bool) (*store.Account, error) {
	return e.gate.SetUnlimited(ctx, userID, unlimited)
}

// Audit checks every account's ledger. Violations are counted, logged and published;
// balances are never modified.
func (e *Engine) Audit(ctx context.Context) (*credits.AuditReport, error) {
	report, err := e.auditor.Run(ctx)
	if report == nil {
		return nil, err
	}
	if len(report.Inconsistent) > 0 {
		if e.metrics != nil {
			e.metrics.AuditViolations.Add(float64(len(report.Inconsistent)))
		}
		ev := hermes.AuditFailedEvent{Checked: report.Checked, Timestamp: e.now()}
		for _, ce := range report.Inconsistent {
			ev.Inconsistent = append(ev.Inconsistent, hermes.AuditViolation{
				UserID:    ce.UserID,
				Balance:   ce.Balance,
				LedgerSum: ce.LedgerSum,
				Reason:    ce.Reason,
			})
		}
		hermes.Emit(e.hermes, e.logger, hermes.SubjectAuditFailed, ev)
	}
	return report, err
}
