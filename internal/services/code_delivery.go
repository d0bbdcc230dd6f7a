package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"udensfiltri/internal/models"
	"udensfiltri/internal/utils"
)

// CodeDelivery hands a freshly issued code to the user.
type CodeDelivery interface {
	Deliver(ctx context.Context, to utils.Contact, purpose models.CodePurpose, code string) error
}

// SMSSender is satisfied by *utils.Client.
type SMSSender interface {
	SendSMS(ctx context.Context, to, text string) (*utils.SendSMSResponse, error)
}

type codeDelivery struct {
	email EmailService
	sms   SMSSender
	log   *zap.Logger
}

// NewCodeDelivery sends email identifiers through email and phones through SMS.
func NewCodeDelivery(email EmailService, sms SMSSender, log *zap.Logger) CodeDelivery {
	return &codeDelivery{email: email, sms: sms, log: log.With(zap.String("component", "delivery"))}
}

func (d *codeDelivery) Deliver(ctx context.Context, to utils.Contact, purpose models.CodePurpose, code string) error {
	switch to.Kind {
	case utils.ContactEmail:
		if err := d.email.SendCode(ctx, to.Value, code, purpose); err != nil {
			return err
		}
	case utils.ContactPhone:
		if _, err := d.sms.SendSMS(ctx, to.Value, fmt.Sprintf("Verification code: %s", code)); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported contact kind %q", to.Kind)
	}
	d.log.Info("code delivered", zap.String("kind", string(to.Kind)), zap.String("purpose", string(purpose)))
	return nil
}
