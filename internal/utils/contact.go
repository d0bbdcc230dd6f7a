package utils

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nyaruka/phonenumbers"
)

var ErrInvalidFormat = errors.New("invalid contact format")

type ContactKind string

const (
	ContactEmail ContactKind = "email"
	ContactPhone ContactKind = "phone"
)

// Contact is a canonical identifier: E.164 for phones, lower-cased for emails.
type Contact struct {
	Kind  ContactKind
	Value string
}

type ContactNormalizer struct {
	region   string
	validate *validator.Validate
}

// NewContactNormalizer uses region for phone numbers given without a country prefix.
func NewContactNormalizer(region string) *ContactNormalizer {
	return &ContactNormalizer{
		region:   strings.ToUpper(strings.TrimSpace(region)),
		validate: validator.New(),
	}
}

// Normalize detects the identifier kind: anything containing "@" is an email.
func (n *ContactNormalizer) Normalize(raw string) (Contact, error) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "@") {
		v, err := n.Email(raw)
		return Contact{Kind: ContactEmail, Value: v}, err
	}
	v, err := n.Phone(raw)
	return Contact{Kind: ContactPhone, Value: v}, err
}

func (n *ContactNormalizer) Email(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", ErrInvalidFormat
	}
	if err := n.validate.Var(email, "email"); err != nil {
		return "", ErrInvalidFormat
	}
	return email, nil
}

// Phone rejects numbers that parse but are not valid in their numbering plan.
func (n *ContactNormalizer) Phone(raw string) (string, error) {
	phone := strings.TrimSpace(raw)
	if phone == "" {
		return "", ErrInvalidFormat
	}
	num, err := phonenumbers.Parse(phone, n.region)
	if err != nil {
		return "", ErrInvalidFormat
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", ErrInvalidFormat
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
