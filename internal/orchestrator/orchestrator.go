// Package orchestrator drives the enrichment pipeline. It consumes the
// stopped-pulse change feed, runs the admission decision, takes the premium
// or the rule path, and lands every pulse in the archive exactly once.
// Workers partition by user so per-user ordering survives the fan-out, and
// cost is committed last so no failure path can debit a budget.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/ai/enricher"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/budget"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/config"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/enrich"
	pserrors "github.com/pulseshrine/pulseshrine-go-rewrite/internal/errors"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/metrics"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/models"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/pulses"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/store"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/tracking"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/users"
)

const dedupSize = 4096

// LLMEnricher is the premium path. Any error demotes the pulse to the rule
// path; the run as a whole still archives.
type LLMEnricher interface {
	Enrich(ctx context.Context, p *models.StoppedPulse) (*enricher.Result, error)
}

// Broadcaster pushes freshly archived pulses to connected clients.
type Broadcaster interface {
	BroadcastArchived(p *models.ArchivedPulse)
}

// Orchestrator owns the pipeline workers.
type Orchestrator struct {
	repo       *pulses.Repository
	controller *budget.Controller
	budget     *budget.Service
	llm        LLMEnricher
	rules      *enrich.Generator
	tracker    *tracking.Tracker
	users      *users.Service
	broadcast  Broadcaster

	workers  int
	deadline time.Duration
	retries  int
	sweep    time.Duration

	// dedup short-circuits redeliveries of recently archived pulses
	// without a storage round-trip.
	dedup *lru.Cache[string, struct{}]
	now   func() time.Time
}

// New wires the orchestrator. broadcast may be nil.
func New(
	repo *pulses.Repository,
	controller *budget.Controller,
	budgetSvc *budget.Service,
	llm LLMEnricher,
	rules *enrich.Generator,
	tracker *tracking.Tracker,
	userSvc *users.Service,
	broadcast Broadcaster,
	cfg config.OrchestratorConfig,
) *Orchestrator {
	dedup, _ := lru.New[string, struct{}](dedupSize)
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	deadline := cfg.Deadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	retries := cfg.RetryAttempts
	if retries < 1 {
		retries = 1
	}
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = 5 * time.Minute
	}
	return &Orchestrator{
		repo:       repo,
		controller: controller,
		budget:     budgetSvc,
		llm:        llm,
		rules:      rules,
		tracker:    tracker,
		users:      userSvc,
		broadcast:  broadcast,
		workers:    workers,
		deadline:   deadline,
		retries:    retries,
		sweep:      sweep,
		dedup:      dedup,
		now:        time.Now,
	}
}

// Run consumes the stopped-pulse feed until the context is cancelled.
// Records are routed to a worker by user id, preserving per-user order
// while different users progress in parallel.
func (o *Orchestrator) Run(ctx context.Context) error {
	changes, cancel := o.repo.Subscribe()
	defer cancel()

	lanes := make([]chan *models.StoppedPulse, o.workers)
	for i := range lanes {
		lanes[i] = make(chan *models.StoppedPulse, 64)
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := range lanes {
		lane := lanes[i]
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case pulse, ok := <-lane:
					if !ok {
						return nil
					}
					o.handle(ctx, pulse)
				}
			}
		})
	}

	g.Go(func() error {
		defer func() {
			for _, lane := range lanes {
				close(lane)
			}
		}()
		// Sweep once on startup so records stopped while the process was
		// down get picked up before any live traffic.
		if err := o.sweepStopped(ctx, lanes); err != nil {
			return err
		}
		ticker := time.NewTicker(o.sweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := o.sweepStopped(ctx, lanes); err != nil {
					return err
				}
			case change, ok := <-changes:
				if !ok {
					return nil
				}
				pulse, ok := o.decode(change)
				if !ok {
					continue
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case lanes[o.lane(pulse.UserID)] <- pulse:
				}
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

const sweepBatch = 256

// sweepStopped re-feeds stopped pulses that never reached the archive:
// records written while the process was down, or left behind when a pulse
// exhausted its retries. Recently stopped pulses are skipped so the sweep
// does not race work still in flight on the live feed; racing is harmless
// anyway because archiving is idempotent by pulse id, skipping just avoids
// the redelivery noise.
func (o *Orchestrator) sweepStopped(ctx context.Context, lanes []chan *models.StoppedPulse) error {
	pending, err := o.repo.ListStopped(ctx, sweepBatch)
	if err != nil {
		log.Warn().Err(err).Msg("Recovery sweep listing failed")
		return nil
	}
	cutoff := o.now().Add(-o.deadline)
	swept := 0
	for _, pulse := range pending {
		if pulse.StoppedAt.After(cutoff) {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case lanes[o.lane(pulse.UserID)] <- pulse:
			swept++
		}
	}
	if swept > 0 {
		log.Info().Int("pulses", swept).Msg("Recovery sweep requeued stopped pulses")
	}
	return nil
}

func (o *Orchestrator) lane(userID string) int {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return int(h.Sum32() % uint32(o.workers))
}

// decode filters the feed down to fresh stopped pulses.
func (o *Orchestrator) decode(change store.Change) (*models.StoppedPulse, bool) {
	if change.Type != store.ChangeInsert || len(change.New) == 0 {
		return nil, false
	}
	var pulse models.StoppedPulse
	if err := json.Unmarshal(change.New, &pulse); err != nil {
		log.Error().Err(err).Str("key", change.Key.String()).Msg("Undecodable stream record, skipping")
		return nil, false
	}
	if pulse.PulseID == "" {
		return nil, false
	}
	return &pulse, true
}

// handle retries transient failures; pulses that exhaust retries are left
// in the stopped table for the recovery sweep.
func (o *Orchestrator) handle(ctx context.Context, pulse *models.StoppedPulse) {
	var err error
	for attempt := 1; attempt <= o.retries; attempt++ {
		if err = o.Process(ctx, pulse); err == nil {
			return
		}
		if ctx.Err() != nil || !pserrors.IsRetryable(err) {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		}
	}
	if err != nil {
		log.Error().Err(err).
			Str("pulse_id", pulse.PulseID).
			Str("user_id", pulse.UserID).
			Msg("Pipeline failed for pulse")
	}
}

// Process runs the full pipeline for one stopped pulse. Idempotent by
// pulse id: a redelivered pulse converges on the already archived record
// without a second debit.
func (o *Orchestrator) Process(ctx context.Context, pulse *models.StoppedPulse) error {
	ctx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()
	started := o.now()

	decision, err := o.controller.Evaluate(ctx, pulse)
	if err != nil {
		return err
	}
	o.tracker.SelectionEvaluated(ctx, pulse.UserID, pulse.PulseID,
		decision.Info.WorthinessScore, decision.Info.DecisionReason,
		decision.EstimatedCost, decision.ModelID)

	// A redelivered pulse is re-evaluated for the ledger but never re-run
	// through the premium path.
	if _, seen := o.dedup.Get(pulse.PulseID); seen {
		metrics.RecordStreamRedelivery()
		return nil
	}

	archived := &models.ArchivedPulse{StoppedPulse: *pulse, AISelectionInfo: &decision.Info}
	var result *enricher.Result

	if decision.Selected {
		o.tracker.EnhancementRequested(ctx, pulse.UserID, pulse.PulseID,
			decision.ModelID, decision.EstimatedCost)
		result, err = o.llm.Enrich(ctx, pulse)
		if err != nil {
			if ctx.Err() != nil {
				return pserrors.Transient("orchestrator.enrich", ctx.Err()).WithPulse(pulse.PulseID)
			}
			o.tracker.EnhancementFailed(ctx, pulse.UserID, pulse.PulseID,
				decision.ModelID, err.Error(), o.now().Sub(started))
			archived.AISelectionInfo.Error = err.Error()
			archived.AISelectionInfo.DecisionReason = fmt.Sprintf("%s; model_error: %v",
				decision.Info.DecisionReason, err)
			log.Warn().Err(err).
				Str("pulse_id", pulse.PulseID).
				Msg("Premium enrichment failed, demoting to rule path")
			result = nil
		}
	}

	if result != nil {
		archived.GenTitle = result.Title
		archived.GenBadge = result.Badge
		archived.AIInsights = result.Insights
		archived.AIEnhanced = true
		archived.AICostCents = result.ActualCost
		archived.AISelectionInfo.ModelID = result.ModelID
		archived.TriggeredRewards = decision.Rewards
	} else {
		archived.GenTitle, archived.GenBadge = o.rules.Enrich(pulse)
	}

	err = o.repo.Archive(ctx, archived)
	switch {
	case err == nil:
	case pserrors.KindOf(err) == pserrors.KindConflict:
		// Redelivery after a successful archive: the first run owns the
		// cost commit.
		metrics.RecordStreamRedelivery()
		o.dedup.Add(pulse.PulseID, struct{}{})
		return nil
	default:
		return err
	}
	o.dedup.Add(pulse.PulseID, struct{}{})

	if result != nil {
		if rewards, _, commitErr := o.budget.CommitEnhancement(ctx, pulse.UserID, result.ActualCost, pulse); commitErr != nil {
			log.Error().Err(commitErr).
				Str("pulse_id", pulse.PulseID).
				Str("user_id", pulse.UserID).
				Msg("Cost commit failed after archive")
		} else {
			archived.TriggeredRewards = rewards
		}
		o.tracker.EnhancementCompleted(ctx, pulse.UserID, pulse.PulseID,
			result.ModelID, result.ActualCost, result.InputTokens, result.OutputTokens,
			o.now().Sub(started))
		metrics.RecordEnrichmentCost(result.ActualCost.Float())
	}

	if statsErr := o.users.RecordPulse(ctx, pulse.UserID, archived.AIEnhanced); statsErr != nil {
		log.Warn().Err(statsErr).Str("user_id", pulse.UserID).Msg("Profile stats update failed")
	}

	if o.broadcast != nil {
		o.broadcast.BroadcastArchived(archived)
	}
	metrics.RecordPulseArchived(archived.AIEnhanced)
	metrics.ObserveEnrichmentDuration(o.now().Sub(started).Seconds())

	log.Info().
		Str("pulse_id", pulse.PulseID).
		Str("user_id", pulse.UserID).
		Bool("ai_enhanced", archived.AIEnhanced).
		Str("gen_title", archived.GenTitle).
		Msg("Pulse archived")
	return nil
}
