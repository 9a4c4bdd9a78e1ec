// Package users manages user profiles and plan resolution. Profiles are
// created lazily on first read with the free plan; an expired paid plan falls
// back to free without mutating the stored record.
package users

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	pserrors "github.com/pulseshrine/pulseshrine-go-rewrite/internal/errors"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/models"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/store"
)

const profileSort = "PROFILE"

// Service reads and updates user profiles.
type Service struct {
	store store.Store
	table string
	now   func() time.Time
}

// NewService registers the users table and returns the service.
func NewService(s store.Store, table string) (*Service, error) {
	if err := s.RegisterTable(store.TableSpec{Name: table}); err != nil {
		return nil, err
	}
	return &Service{store: s, table: table, now: time.Now}, nil
}

func (s *Service) key(userID string) store.Key {
	return store.Key{Part: "USER#" + userID, Sort: profileSort}
}

func defaultProfile(userID string, now time.Time) *models.UserProfile {
	return &models.UserProfile{
		UserID: userID,
		Plan:   models.PlanFree,
		Preferences: models.UserPreferences{
			Notifications: true,
			DailySummary:  false,
		},
		Stats:     models.UserStats{MemberSince: now},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// GetProfile returns the user's profile, creating a free-plan profile on
// first access.
func (s *Service) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	const op = "users.get_profile"

	if userID == "" {
		return nil, pserrors.Validationf(op, "user id must not be empty")
	}

	body, err := s.store.Get(ctx, s.table, s.key(userID))
	if err == nil {
		var p models.UserProfile
		if uerr := json.Unmarshal(body, &p); uerr != nil {
			return nil, pserrors.New(pserrors.KindFatal, op, uerr).WithUser(userID)
		}
		return &p, nil
	}
	if pserrors.KindOf(err) != pserrors.KindNotFound {
		return nil, err
	}

	profile := defaultProfile(userID, s.now().UTC())
	created, err := json.Marshal(profile)
	if err != nil {
		return nil, pserrors.New(pserrors.KindFatal, op, err)
	}
	if err := s.store.PutIfAbsent(ctx, s.table, s.key(userID), created); err != nil {
		if pserrors.IsConditionalFailure(err) {
			// Raced another first access; read what won.
			return s.GetProfile(ctx, userID)
		}
		return nil, err
	}
	log.Debug().Str("user_id", userID).Msg("Created default user profile")
	return profile, nil
}

// Plan resolves the user's effective plan for budgeting. Unknown users get
// the free plan without creating a profile.
func (s *Service) Plan(ctx context.Context, userID string) string {
	body, err := s.store.Get(ctx, s.table, s.key(userID))
	if err != nil {
		return models.PlanFree
	}
	var p models.UserProfile
	if err := json.Unmarshal(body, &p); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Unreadable user profile, assuming free plan")
		return models.PlanFree
	}
	return p.EffectivePlan(s.now())
}

// SetPlan updates the user's plan, optionally with an expiry.
func (s *Service) SetPlan(ctx context.Context, userID, plan string, expires *time.Time) (*models.UserProfile, error) {
	const op = "users.set_plan"

	switch plan {
	case models.PlanFree, models.PlanPremium, models.PlanUnlimited:
	default:
		return nil, pserrors.Validationf(op, "unknown plan %q", plan).WithUser(userID)
	}

	updated, err := s.store.AtomicUpdate(ctx, s.table, s.key(userID), func(old []byte) ([]byte, error) {
		profile := defaultProfile(userID, s.now().UTC())
		if old != nil {
			if err := json.Unmarshal(old, profile); err != nil {
				return nil, pserrors.New(pserrors.KindFatal, op, err).WithUser(userID)
			}
		}
		profile.Plan = plan
		profile.PlanExpires = expires
		profile.UpdatedAt = s.now().UTC()
		return json.Marshal(profile)
	})
	if err != nil {
		return nil, err
	}
	var p models.UserProfile
	if err := json.Unmarshal(updated, &p); err != nil {
		return nil, pserrors.New(pserrors.KindFatal, op, err).WithUser(userID)
	}
	return &p, nil
}

// RecordPulse bumps the profile's lifetime pulse counters. aiEnhanced also
// bumps the enhancement counter. Counter failures are the caller's to log;
// they never gate the pipeline.
func (s *Service) RecordPulse(ctx context.Context, userID string, aiEnhanced bool) error {
	const op = "users.record_pulse"

	_, err := s.store.AtomicUpdate(ctx, s.table, s.key(userID), func(old []byte) ([]byte, error) {
		profile := defaultProfile(userID, s.now().UTC())
		if old != nil {
			if err := json.Unmarshal(old, profile); err != nil {
				return nil, pserrors.New(pserrors.KindFatal, op, err).WithUser(userID)
			}
		}
		profile.Stats.TotalPulses++
		if aiEnhanced {
			profile.Stats.TotalAIEnhancements++
		}
		profile.UpdatedAt = s.now().UTC()
		return json.Marshal(profile)
	})
	return err
}
