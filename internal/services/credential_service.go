package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"nvct-backend/internal/config"
	"nvct-backend/internal/models"
	"nvct-backend/internal/repository"
	"nvct-backend/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// CredentialStore answers the security gate's identity questions
type CredentialStore interface {
	VerifyPassword(ctx context.Context, userID, password string) bool
	IsAdmin(ctx context.Context, userID string) bool
	Contact(ctx context.Context, userID string) (string, error)
}

// defaultAdminCapabilities granted to the bootstrap admin
var defaultAdminCapabilities = []string{
	models.CapabilitySettlementWrite,
	models.CapabilityMultisigOwner,
	models.CapabilityRead,
}

// CredentialService admin accounts with bcrypt password hashes
type CredentialService struct {
	repo repository.AdminUserRepository
	cost int
}

var _ CredentialStore = (*CredentialService)(nil)

// NewCredentialService creates the service. cost 0 uses bcrypt.DefaultCost.
func NewCredentialService(repo repository.AdminUserRepository, cost int) *CredentialService {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &CredentialService{repo: repo, cost: cost}
}

// Bootstrap makes sure the configured admin and accounts exist. A changed password,
// email or address in the configuration replaces the stored one.
func (s *CredentialService) Bootstrap(ctx context.Context, cfg config.AdminConfig) error {
	if cfg.Username == "" || cfg.Password == "" {
		logrus.Warn("⚠️ [Credentials] ADMIN_PASSWORD not set, admin login disabled until an account exists")
	} else if err := s.ensure(ctx, config.AccountConfig{
		Username:     cfg.Username,
		Password:     cfg.Password,
		Email:        cfg.Email,
		Address:      cfg.Address,
		Capabilities: defaultAdminCapabilities,
	}, true); err != nil {
		return err
	}

	for _, account := range cfg.Accounts {
		if account.Username == "" || account.Password == "" {
			logrus.Warnf("⏭️  [Credentials] skipping account %q without password", account.Username)
			continue
		}
		if err := s.ensure(ctx, account, false); err != nil {
			return err
		}
	}
	return nil
}

func (s *CredentialService) ensure(ctx context.Context, account config.AccountConfig, admin bool) error {
	address := ""
	if account.Address != "" {
		parsed, err := utils.ParseAddress(account.Address)
		if err != nil {
			return fmt.Errorf("account %s: invalid address %q: %w", account.Username, account.Address, err)
		}
		address = parsed.Hex()
	}

	user, err := s.repo.GetByUsername(ctx, account.Username)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		hash, err := s.hash(account.Password)
		if err != nil {
			return err
		}
		user = &models.AdminUser{
			ID:           uuid.New().String(),
			Username:     account.Username,
			Email:        account.Email,
			PasswordHash: hash,
			IsAdmin:      admin,
			Capabilities: strings.Join(account.Capabilities, ","),
			Address:      address,
		}
		if err := s.repo.Create(ctx, user); err != nil {
			return fmt.Errorf("failed to create user %s: %w", account.Username, err)
		}
		logrus.WithFields(logrus.Fields{
			"username": account.Username,
			"admin":    admin,
			"address":  address,
		}).Info("✅ [Credentials] account created")
		return nil
	case err != nil:
		return fmt.Errorf("failed to load user %s: %w", account.Username, err)
	}

	changed := false
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(account.Password)) != nil {
		hash, err := s.hash(account.Password)
		if err != nil {
			return err
		}
		user.PasswordHash = hash
		changed = true
	}
	if account.Email != "" && user.Email != account.Email {
		user.Email = account.Email
		changed = true
	}
	if address != "" && user.Address != address {
		user.Address = address
		changed = true
	}
	if admin && !user.IsAdmin {
		user.IsAdmin = true
		changed = true
	}
	if changed {
		if err := s.repo.Update(ctx, user); err != nil {
			return fmt.Errorf("failed to update user %s: %w", account.Username, err)
		}
		logrus.Infof("🔄 [Credentials] account %s updated from configuration", account.Username)
	}
	return nil
}

func (s *CredentialService) hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Authenticate checks username and password and returns the account
func (s *CredentialService) Authenticate(ctx context.Context, username, password string) (*models.AdminUser, error) {
	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidPassword
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidPassword
	}
	return user, nil
}

// VerifyPassword whether password belongs to userID
func (s *CredentialService) VerifyPassword(ctx context.Context, userID, password string) bool {
	_, err := s.Authenticate(ctx, userID, password)
	return err == nil
}

// IsAdmin whether userID is an administrator
func (s *CredentialService) IsAdmin(ctx context.Context, userID string) bool {
	user, err := s.repo.GetByUsername(ctx, userID)
	return err == nil && user.IsAdmin
}

// Contact delivery address for security codes
func (s *CredentialService) Contact(ctx context.Context, userID string) (string, error) {
	user, err := s.repo.GetByUsername(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("no contact for %s: %w", userID, err)
	}
	if user.Email == "" {
		return user.Username, nil
	}
	return user.Email, nil
}

// Address multisig owner address bound to userID; ErrUnknownOwner when none is bound
func (s *CredentialService) Address(ctx context.Context, userID string) (string, error) {
	user, err := s.repo.GetByUsername(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("%w: no account %s", ErrUnknownOwner, userID)
	}
	if err != nil {
		return "", err
	}
	if user.Address == "" {
		return "", fmt.Errorf("%w: no address bound to %s", ErrUnknownOwner, userID)
	}
	return user.Address, nil
}
