package services

import (
	"context"
	"strings"
	"testing"

	"nvct-backend/internal/config"
	"nvct-backend/internal/models"
	"nvct-backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestCredentialBootstrapAndVerify(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryAdminUserRepository()
	service := NewCredentialService(repo, bcrypt.MinCost)

	require.NoError(t, service.Bootstrap(ctx, config.AdminConfig{Username: "admin", Password: "first", Email: "ops@example.com"}))

	assert.True(t, service.VerifyPassword(ctx, "admin", "first"))
	assert.False(t, service.VerifyPassword(ctx, "admin", "second"))
	assert.False(t, service.VerifyPassword(ctx, "nobody", "first"))
	assert.True(t, service.IsAdmin(ctx, "admin"))
	assert.False(t, service.IsAdmin(ctx, "nobody"))

	contact, err := service.Contact(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", contact)

	user, err := service.Authenticate(ctx, "admin", "first")
	require.NoError(t, err)
	assert.Contains(t, user.CapabilityList(), models.CapabilityAdmin)
	assert.NotEqual(t, "first", user.PasswordHash)

	// rotated password from configuration replaces the stored hash
	require.NoError(t, service.Bootstrap(ctx, config.AdminConfig{Username: "admin", Password: "second"}))
	assert.True(t, service.VerifyPassword(ctx, "admin", "second"))
	assert.False(t, service.VerifyPassword(ctx, "admin", "first"))

	_, err = service.Authenticate(ctx, "admin", "first")
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestCredentialBootstrapWithoutPassword(t *testing.T) {
	repo := repository.NewMemoryAdminUserRepository()
	service := NewCredentialService(repo, bcrypt.MinCost)

	require.NoError(t, service.Bootstrap(context.Background(), config.AdminConfig{Username: "admin"}))
	_, err := repo.GetByUsername(context.Background(), "admin")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCredentialAccountsAndOwnerAddress(t *testing.T) {
	ctx := context.Background()
	service := NewCredentialService(repository.NewMemoryAdminUserRepository(), bcrypt.MinCost)
	a, b := addressOf(ownerKeyA), addressOf(ownerKeyB)

	require.NoError(t, service.Bootstrap(ctx, config.AdminConfig{
		Username: "admin",
		Password: "s3cret",
		Address:  strings.ToLower(a.Hex()),
		Accounts: []config.AccountConfig{
			{Username: "owner-b", Password: "b-pass", Address: b.Hex(), Capabilities: []string{models.CapabilityMultisigOwner}},
			{Username: "no-password"},
		},
	}))

	addr, err := service.Address(ctx, "admin")
	require.NoError(t, err)
	// stored checksummed whatever the configured casing
	assert.Equal(t, a.Hex(), addr)

	addr, err = service.Address(ctx, "owner-b")
	require.NoError(t, err)
	assert.Equal(t, b.Hex(), addr)
	assert.False(t, service.IsAdmin(ctx, "owner-b"))
	user, err := service.Authenticate(ctx, "owner-b", "b-pass")
	require.NoError(t, err)
	assert.Equal(t, []string{models.CapabilityMultisigOwner}, user.CapabilityList())

	_, err = service.Address(ctx, "no-password")
	assert.ErrorIs(t, err, ErrUnknownOwner)

	err = service.Bootstrap(ctx, config.AdminConfig{Username: "admin", Password: "s3cret", Address: "0x1234"})
	assert.Error(t, err)
}
