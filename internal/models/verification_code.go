package models

import (
	"fmt"
	"time"
)

type CodePurpose string

const (
	PurposeRegister       CodePurpose = "register"
	PurposeChangeEmail    CodePurpose = "change_email"
	PurposeChangePhone    CodePurpose = "change_phone"
	PurposeChangePassword CodePurpose = "change_password"
)

func ParseCodePurpose(s string) (CodePurpose, error) {
	switch p := CodePurpose(s); p {
	case PurposeRegister, PurposeChangeEmail, PurposeChangePhone, PurposeChangePassword:
		return p, nil
	}
	return "", fmt.Errorf("unknown purpose %q", s)
}

// RequiresAuth reports whether a code for this purpose may only be requested
// by a signed-in user.
func (p CodePurpose) RequiresAuth() bool {
	return p != PurposeRegister
}

// VerificationCode: отдельная запись на каждую выдачу кода.
// Rows are never deleted; newer rows for the same (identifier, purpose)
// supersede older ones.
type VerificationCode struct {
	ID             int64       `json:"id"`
	Identifier     string      `json:"identifier"`
	Purpose        CodePurpose `json:"purpose"`
	Code           string      `json:"-"`
	CreatedAt      time.Time   `json:"created_at"`
	ExpiresAt      time.Time   `json:"expires_at"`
	ConsumedAt     *time.Time  `json:"consumed_at,omitempty"`
	FailedAttempts int         `json:"failed_attempts"`
	LockedUntil    *time.Time  `json:"locked_until,omitempty"`
}

type CodeState int

const (
	CodeActive CodeState = iota
	CodeConsumed
	CodeExpired
	CodeLocked
)

func (s CodeState) String() string {
	switch s {
	case CodeActive:
		return "active"
	case CodeConsumed:
		return "consumed"
	case CodeExpired:
		return "expired"
	case CodeLocked:
		return "locked"
	}
	return "unknown"
}

// LockoutPolicy is the brute-force policy applied on a wrong code.
type LockoutPolicy struct {
	MaxAttempts int
	Lockout     time.Duration
}

// State evaluates the record at now. Consumed is terminal; expiry is checked
// before the lock.
func (v *VerificationCode) State(now time.Time) CodeState {
	switch {
	case v.ConsumedAt != nil:
		return CodeConsumed
	case !now.Before(v.ExpiresAt):
		return CodeExpired
	case v.LockedUntil != nil && now.Before(*v.LockedUntil):
		return CodeLocked
	}
	return CodeActive
}

// RegisterFailure counts a wrong submission and (re)locks the record once the
// attempt limit is reached. An existing lock is never cleared or shortened.
func (v *VerificationCode) RegisterFailure(now time.Time, p LockoutPolicy) {
	v.FailedAttempts++
	if v.FailedAttempts < p.MaxAttempts {
		return
	}
	until := now.Add(p.Lockout)
	if v.LockedUntil == nil || until.After(*v.LockedUntil) {
		v.LockedUntil = &until
	}
}

// Consume marks the code used. It returns false if it was already consumed.
func (v *VerificationCode) Consume(now time.Time) bool {
	if v.ConsumedAt != nil {
		return false
	}
	t := now
	v.ConsumedAt = &t
	return true
}
