package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"udensfiltri/internal/models"
	"udensfiltri/internal/repositories"
	"udensfiltri/internal/utils"
)

const minPasswordLen = 8

// dummyHash keeps login timing similar for unknown users.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)

type RegisterInput struct {
	Identifier string
	Password   string
	Code       string
	Email      string
	Phone      string
	FirstName  string
	LastName   string
}

// AccountService implements registration, login and code-protected account
// changes on top of CodeService.
type AccountService struct {
	users repositories.UserRepository
	codes *CodeService
	norm  *utils.ContactNormalizer
	log   *zap.Logger

	generate func(password []byte, cost int) ([]byte, error)
}

func NewAccountService(users repositories.UserRepository, codes *CodeService, norm *utils.ContactNormalizer, log *zap.Logger) *AccountService {
	return &AccountService{
		users: users,
		codes: codes,
		norm:  norm,
		log:   log.With(zap.String("component", "accounts")),

		generate: bcrypt.GenerateFromPassword,
	}
}

func (s *AccountService) HashPassword(password string) (string, error) {
	b, err := s.generate([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// CodeTarget resolves where a code for purpose goes. current is nil for
// anonymous callers.
func (s *AccountService) CodeTarget(purpose models.CodePurpose, identifier string, current *models.User) (utils.Contact, error) {
	if purpose.RequiresAuth() && current == nil {
		return utils.Contact{}, ErrUnauthorized
	}
	switch purpose {
	case models.PurposeRegister:
		return s.normalize("identifier", identifier)
	case models.PurposeChangeEmail:
		email, err := s.norm.Email(identifier)
		if err != nil {
			return utils.Contact{}, invalid("identifier", "enter a valid email address")
		}
		return utils.Contact{Kind: utils.ContactEmail, Value: email}, nil
	case models.PurposeChangePhone:
		phone, err := s.norm.Phone(identifier)
		if err != nil {
			return utils.Contact{}, invalid("identifier", "invalid phone number")
		}
		return utils.Contact{Kind: utils.ContactPhone, Value: phone}, nil
	case models.PurposeChangePassword:
		return ownContact(current)
	}
	return utils.Contact{}, invalid("purpose", "unknown purpose")
}

// RequestCode issues and delivers a code for purpose.
func (s *AccountService) RequestCode(ctx context.Context, purpose models.CodePurpose, identifier string, current *models.User) (*models.VerificationCode, error) {
	to, err := s.CodeTarget(purpose, identifier, current)
	if err != nil {
		return nil, err
	}
	return s.codes.Issue(ctx, to, purpose)
}

func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	id, err := s.normalize("identifier", in.Identifier)
	if err != nil {
		return nil, err
	}
	if len(in.Password) < minPasswordLen {
		return nil, invalid("password", "ensure this field has at least 8 characters")
	}
	user := &models.User{
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		IsActive:  true,
	}
	switch id.Kind {
	case utils.ContactEmail:
		user.Email = &id.Value
		if strings.TrimSpace(in.Phone) != "" {
			phone, err := s.norm.Phone(in.Phone)
			if err != nil {
				return nil, invalid("phone", "invalid phone number")
			}
			user.Phone = &phone
		}
	case utils.ContactPhone:
		user.Phone = &id.Value
		if strings.TrimSpace(in.Email) != "" {
			email, err := s.norm.Email(in.Email)
			if err != nil {
				return nil, invalid("email", "enter a valid email address")
			}
			user.Email = &email
		}
	}
	if err := s.codes.VerifyAndConsume(ctx, id.Value, models.PurposeRegister, in.Code); err != nil {
		return nil, err
	}

	if exists, err := s.contactTaken(ctx, user); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrUserExists
	}
	// хешируем только после того, как код принят
	if user.PasswordHash, err = s.HashPassword(in.Password); err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	if err := s.users.AddToGroup(ctx, user.ID, models.GroupRegularUsers); err != nil {
		s.log.Warn("add to default group failed", zap.Int64("user_id", user.ID), zap.Error(err))
	}
	s.log.Info("user registered", zap.Int64("user_id", user.ID), zap.String("kind", string(id.Kind)))
	return user, nil
}

func (s *AccountService) contactTaken(ctx context.Context, u *models.User) (bool, error) {
	if u.Email != nil {
		if _, err := s.users.GetByEmail(ctx, *u.Email); err == nil {
			return true, nil
		} else if !errors.Is(err, repositories.ErrNotFound) {
			return false, err
		}
	}
	if u.Phone != nil {
		if _, err := s.users.GetByPhone(ctx, *u.Phone); err == nil {
			return true, nil
		} else if !errors.Is(err, repositories.ErrNotFound) {
			return false, err
		}
	}
	return false, nil
}

// Login checks credentials. Every mismatch is ErrInvalidCredentials.
func (s *AccountService) Login(ctx context.Context, identifier, password string) (*models.User, error) {
	id, err := s.norm.Normalize(identifier)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	var user *models.User
	if id.Kind == utils.ContactEmail {
		user, err = s.users.GetByEmail(ctx, id.Value)
	} else {
		user, err = s.users.GetByPhone(ctx, id.Value)
	}
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			return nil, err
		}
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		s.log.Info("login failed: unknown user", zap.String("identifier", id.Value))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.log.Info("login failed: password mismatch", zap.Int64("user_id", user.ID))
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		s.log.Info("login failed: inactive", zap.Int64("user_id", user.ID))
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Me loads an active user by id; anything else is ErrUnauthorized.
func (s *AccountService) Me(ctx context.Context, userID int64) (*models.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrUnauthorized
	}
	return u, nil
}

// UpdateProfile changes only the names that are non-nil.
func (s *AccountService) UpdateProfile(ctx context.Context, userID int64, firstName, lastName *string) (*models.User, error) {
	u, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	if firstName != nil {
		u.FirstName = strings.TrimSpace(*firstName)
	}
	if lastName != nil {
		u.LastName = strings.TrimSpace(*lastName)
	}
	if err := s.users.UpdateProfile(ctx, u.ID, u.FirstName, u.LastName); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *AccountService) ChangeEmail(ctx context.Context, userID int64, newEmail, code string) (*models.User, error) {
	u, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	email, err := s.norm.Email(newEmail)
	if err != nil {
		return nil, invalid("email", "enter a valid email address")
	}
	if err := s.codes.VerifyAndConsume(ctx, email, models.PurposeChangeEmail, code); err != nil {
		return nil, err
	}
	if err := s.users.UpdateEmail(ctx, u.ID, &email); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	u.Email = &email
	s.log.Info("email changed", zap.Int64("user_id", u.ID))
	return u, nil
}

func (s *AccountService) ChangePhone(ctx context.Context, userID int64, newPhone, code string) (*models.User, error) {
	u, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	phone, err := s.norm.Phone(newPhone)
	if err != nil {
		return nil, invalid("new_phone", "invalid phone number")
	}
	if err := s.codes.VerifyAndConsume(ctx, phone, models.PurposeChangePhone, code); err != nil {
		return nil, err
	}
	if err := s.users.UpdatePhone(ctx, u.ID, &phone); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	u.Phone = &phone
	s.log.Info("phone changed", zap.Int64("user_id", u.ID))
	return u, nil
}

func (s *AccountService) ChangePassword(ctx context.Context, userID int64, newPassword, code string) error {
	u, err := s.Me(ctx, userID)
	if err != nil {
		return err
	}
	if len(newPassword) < minPasswordLen {
		return invalid("new_password", "ensure this field has at least 8 characters")
	}
	to, err := ownContact(u)
	if err != nil {
		return err
	}
	if err := s.codes.VerifyAndConsume(ctx, to.Value, models.PurposeChangePassword, code); err != nil {
		return err
	}
	hash, err := s.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, u.ID, hash); err != nil {
		return err
	}
	s.log.Info("password changed", zap.Int64("user_id", u.ID))
	return nil
}

func (s *AccountService) normalize(field, raw string) (utils.Contact, error) {
	if strings.TrimSpace(raw) == "" {
		return utils.Contact{}, invalid(field, "this field is required")
	}
	c, err := s.norm.Normalize(raw)
	if err != nil {
		return utils.Contact{}, invalid(field, "enter a valid email address or phone number")
	}
	return c, nil
}

// ownContact is where change_password codes go: the email, else the phone.
func ownContact(u *models.User) (utils.Contact, error) {
	if e := u.ContactEmail(); e != "" {
		return utils.Contact{Kind: utils.ContactEmail, Value: e}, nil
	}
	if p := u.ContactPhone(); p != "" {
		return utils.Contact{Kind: utils.ContactPhone, Value: p}, nil
	}
	return utils.Contact{}, invalid("", "User email is not set")
}
