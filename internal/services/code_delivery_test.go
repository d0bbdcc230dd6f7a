package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"udensfiltri/internal/models"
	"udensfiltri/internal/utils"
)

type codeEmails struct {
	recordingEmails
	codes []string
}

func (c *codeEmails) SendCode(_ context.Context, to, code string, _ models.CodePurpose) error {
	c.codes = append(c.codes, to+":"+code)
	return nil
}

type fakeSMS struct {
	to, text string
	err      error
}

func (f *fakeSMS) SendSMS(_ context.Context, to, text string) (*utils.SendSMSResponse, error) {
	f.to, f.text = to, text
	if f.err != nil {
		return nil, f.err
	}
	return &utils.SendSMSResponse{}, nil
}

func TestCodeDelivery_RoutesByKind(t *testing.T) {
	emails := &codeEmails{}
	sms := &fakeSMS{}
	d := NewCodeDelivery(emails, sms, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, d.Deliver(ctx, utils.Contact{Kind: utils.ContactEmail, Value: "a@example.com"}, models.PurposeRegister, "111111"))
	assert.Equal(t, []string{"a@example.com:111111"}, emails.codes)

	require.NoError(t, d.Deliver(ctx, utils.Contact{Kind: utils.ContactPhone, Value: "+37122000000"}, models.PurposeRegister, "222222"))
	assert.Equal(t, "+37122000000", sms.to)
	assert.Contains(t, sms.text, "222222")

	sms.err = errors.New("gateway down")
	assert.Error(t, d.Deliver(ctx, utils.Contact{Kind: utils.ContactPhone, Value: "+37122000000"}, models.PurposeRegister, "333333"))
	assert.Error(t, d.Deliver(ctx, utils.Contact{Kind: "fax", Value: "1"}, models.PurposeRegister, "1"))
}
