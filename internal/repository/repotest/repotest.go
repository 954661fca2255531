// Package repotest is a conformance suite for repository.Store backends.
//
// Each backend's tests call Run with a constructor returning a fresh, empty
// store; the suite checks the contract documented on repository.UserRepository.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/auth-starter/internal/apperror"
	"github.com/sakif/auth-starter/internal/model"
	"github.com/sakif/auth-starter/internal/repository"
)

// NewStoreFunc returns an empty store. It should register its own cleanup.
type NewStoreFunc func(t *testing.T) repository.Store

// Run executes the full suite against stores produced by newStore.
func Run(t *testing.T, newStore NewStoreFunc) {
	t.Run("CreateAssignsIDAndTimestamp", func(t *testing.T) { testCreate(t, newStore(t)) })
	t.Run("CreateDuplicateEmail", func(t *testing.T) { testDuplicate(t, newStore(t)) })
	t.Run("ConcurrentDuplicateEmail", func(t *testing.T) { testConcurrentDuplicate(t, newStore(t)) })
	t.Run("GetByEmail", func(t *testing.T) { testGetByEmail(t, newStore(t)) })
	t.Run("GetByEmailNotFound", func(t *testing.T) { testGetByEmailNotFound(t, newStore(t)) })
	t.Run("GetByID", func(t *testing.T) { testGetByID(t, newStore(t)) })
	t.Run("GetByIDNotFound", func(t *testing.T) { testGetByIDNotFound(t, newStore(t)) })
	t.Run("Ping", func(t *testing.T) { require.NoError(t, newStore(t).Ping(context.Background())) })
}

// NewUser returns an unsaved user with a placeholder hash.
func NewUser(name, email string) *model.User {
	return &model.User{
		Name:         name,
		Email:        email,
		PasswordHash: "$2a$04$placeholderplaceholderplaceholderplaceholderplaceholde",
	}
}

func testCreate(t *testing.T, s repository.Store) {
	user := NewUser("Jane", "jane@x.com")

	require.NoError(t, s.Create(context.Background(), user))

	assert.NotEmpty(t, user.ID, "Create() did not set user.ID")
	assert.False(t, user.CreatedAt.IsZero(), "Create() did not set user.CreatedAt")
}

func testDuplicate(t *testing.T, s repository.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewUser("Jane", "jane@x.com")))

	dup := NewUser("Other Jane", "jane@x.com")
	err := s.Create(ctx, dup)

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrConflict), "error = %v, want ErrConflict", err)
	assert.Empty(t, dup.ID, "failed Create() must not assign an ID")

	// The first record is untouched.
	got, err := s.GetByEmail(ctx, "jane@x.com")
	require.NoError(t, err)
	assert.Equal(t, "Jane", got.Name)
}

func testConcurrentDuplicate(t *testing.T, s repository.Store) {
	const racers = 8
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.Create(ctx, NewUser(fmt.Sprintf("racer-%d", i), "race@x.com"))
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, apperror.ErrConflict), "losing racer error = %v, want ErrConflict", err)
	}
	assert.Equal(t, 1, succeeded, "exactly one concurrent registration must win")
}

func testGetByEmail(t *testing.T, s repository.Store) {
	ctx := context.Background()
	created := NewUser("Jane", "jane@x.com")
	require.NoError(t, s.Create(ctx, created))

	got, err := s.GetByEmail(ctx, "jane@x.com")
	require.NoError(t, err)

	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "Jane", got.Name)
	assert.Equal(t, "jane@x.com", got.Email)
	assert.Equal(t, created.PasswordHash, got.PasswordHash)
	assert.False(t, got.CreatedAt.IsZero())
}

func testGetByEmailNotFound(t *testing.T, s repository.Store) {
	_, err := s.GetByEmail(context.Background(), "nobody@x.com")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "error = %v, want ErrNotFound", err)
}

func testGetByID(t *testing.T, s repository.Store) {
	ctx := context.Background()
	created := NewUser("Jane", "jane@x.com")
	require.NoError(t, s.Create(ctx, created))

	got, err := s.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "jane@x.com", got.Email)
}

func testGetByIDNotFound(t *testing.T, s repository.Store) {
	_, err := s.GetByID(context.Background(), "nonexistent-id")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "error = %v, want ErrNotFound", err)
}
