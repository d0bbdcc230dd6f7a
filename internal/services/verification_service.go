package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"udensfiltri/internal/config"
	"udensfiltri/internal/metrics"
	"udensfiltri/internal/models"
	"udensfiltri/internal/repositories"
	"udensfiltri/internal/utils"
)

// Verification outcomes. Only "ok" and "locked" are distinguishable to callers.
const (
	OutcomeOK      = "ok"
	OutcomeMissing = "missing"
	OutcomeExpired = "expired"
	OutcomeLocked  = "locked"
	OutcomeInvalid = "invalid"
)

// CodeService issues one-time codes and verifies them.
type CodeService struct {
	repo      repositories.VerificationCodeRepository
	delivery  CodeDelivery
	cfg       config.CodesConfig
	mandatory bool
	timeout   time.Duration
	now       func() time.Time
	log       *zap.Logger
}

func NewCodeService(repo repositories.VerificationCodeRepository, delivery CodeDelivery, cfg config.CodesConfig, dcfg config.DeliveryConfig, log *zap.Logger) *CodeService {
	return &CodeService{
		repo:      repo,
		delivery:  delivery,
		cfg:       cfg,
		mandatory: dcfg.Mandatory,
		timeout:   dcfg.Timeout,
		now:       time.Now,
		log:       log.With(zap.String("component", "verification")),
	}
}

// WithClock replaces the time source.
func (s *CodeService) WithClock(now func() time.Time) *CodeService {
	s.now = now
	return s
}

func (s *CodeService) policy() models.LockoutPolicy {
	return models.LockoutPolicy{MaxAttempts: s.cfg.MaxAttempts, Lockout: s.cfg.Lockout}
}

// Issue creates a new code for (to, purpose) and delivers it. It fails with
// ErrRateLimited when the pair got a code less than MinInterval ago.
func (s *CodeService) Issue(ctx context.Context, to utils.Contact, purpose models.CodePurpose) (*models.VerificationCode, error) {
	code, err := utils.NewNumericCode()
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}
	now := s.now()
	v := &models.VerificationCode{
		Identifier: to.Value,
		Purpose:    purpose,
		Code:       code,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.cfg.TTL),
	}
	created, err := s.repo.CreateUnlessRecent(ctx, v, now.Add(-s.cfg.MinInterval))
	if err != nil {
		metrics.CodesIssued.WithLabelValues(string(purpose), "error").Inc()
		return nil, err
	}
	if !created {
		metrics.CodesIssued.WithLabelValues(string(purpose), "rate_limited").Inc()
		s.log.Info("issue refused: too soon", zap.String("identifier", to.Value), zap.String("purpose", string(purpose)))
		return nil, ErrRateLimited
	}
	metrics.CodesIssued.WithLabelValues(string(purpose), "ok").Inc()

	dctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.delivery.Deliver(dctx, to, purpose, code); err != nil {
		s.log.Error("code delivery failed", zap.String("identifier", to.Value), zap.String("purpose", string(purpose)), zap.Error(err))
		if s.mandatory {
			return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
		}
	}
	s.log.Info("code issued", zap.String("identifier", to.Value), zap.String("purpose", string(purpose)))
	return v, nil
}

// VerifyAndConsume checks submitted against the newest unconsumed code of the
// pair. It returns nil on success, ErrCodeLocked during a lockout and
// ErrCodeInvalidOrExpired for every other failure.
func (s *CodeService) VerifyAndConsume(ctx context.Context, identifier string, purpose models.CodePurpose, submitted string) error {
	outcome, err := s.verify(ctx, identifier, purpose, submitted)
	if err != nil {
		return err
	}
	metrics.CodeVerifications.WithLabelValues(string(purpose), outcome).Inc()
	s.log.Info("code checked", zap.String("identifier", identifier), zap.String("purpose", string(purpose)), zap.String("outcome", outcome))

	switch outcome {
	case OutcomeOK:
		return nil
	case OutcomeLocked:
		return ErrCodeLocked
	}
	return ErrCodeInvalidOrExpired
}

func (s *CodeService) verify(ctx context.Context, identifier string, purpose models.CodePurpose, submitted string) (string, error) {
	now := s.now()
	outcome := OutcomeMissing
	_, err := s.repo.UpdateLatestActive(ctx, identifier, purpose, func(v *models.VerificationCode) bool {
		switch v.State(now) {
		case models.CodeExpired:
			outcome = OutcomeExpired
			return false
		case models.CodeLocked:
			outcome = OutcomeLocked
			return false
		case models.CodeConsumed:
			outcome = OutcomeMissing
			return false
		}
		if subtle.ConstantTimeCompare([]byte(v.Code), []byte(submitted)) != 1 {
			v.RegisterFailure(now, s.policy())
			outcome = OutcomeInvalid
			return true
		}
		v.Consume(now)
		outcome = OutcomeOK
		return true
	})
	if err != nil {
		return "", fmt.Errorf("verify code: %w", err)
	}
	return outcome, nil
}

// IsCodeError reports whether err is one of the opaque code failures.
func IsCodeError(err error) bool {
	return errors.Is(err, ErrCodeInvalidOrExpired) || errors.Is(err, ErrCodeLocked)
}
