package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/meridian-identity/internal/challenge"
	"github.com/prn-tf/meridian-identity/internal/command"
	"github.com/prn-tf/meridian-identity/internal/domain"
	"github.com/prn-tf/meridian-identity/internal/pkg/clock"
	"github.com/prn-tf/meridian-identity/internal/pkg/crypto"
	"github.com/prn-tf/meridian-identity/internal/pkg/fido"
	"github.com/prn-tf/meridian-identity/internal/pkg/totp"
	"github.com/prn-tf/meridian-identity/internal/query"
	"github.com/prn-tf/meridian-identity/internal/repository"
)

var (
	testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	testRP  = fido.RelyingParty{
		ID:     "portal.example.com",
		Name:   "Example Portal",
		Origin: "https://portal.example.com",
	}
)

// fakeStore is an in-memory aggregate store shared by the fake units of
// work it creates. Changes become visible only after SaveEntities.
type fakeStore struct {
	users map[uuid.UUID]*domain.User

	beginErr    error
	saveErr     error
	presenceErr error

	// presenceBlind makes the presence check report absent regardless of
	// store contents, simulating a create race lost after the pre-check.
	presenceBlind bool

	saves  int
	events []domain.Event
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[uuid.UUID]*domain.User)}
}

// seed stores a user directly, bypassing the unit of work.
func (s *fakeStore) seed(user *domain.User) {
	s.users[user.ID] = cloneUser(user)
}

// get returns the committed state of a user.
func (s *fakeStore) get(t *testing.T, id uuid.UUID) *domain.User {
	t.Helper()
	user, ok := s.users[id]
	if !ok {
		t.Fatalf("user %s not in store", id)
	}
	return cloneUser(user)
}

func cloneUser(u *domain.User) *domain.User {
	c := *u
	c.AuthenticationHistory = append([]domain.AuthenticationHistory(nil), u.AuthenticationHistory...)
	c.SecurityTokens = append([]domain.SecurityTokenMapping(nil), u.SecurityTokens...)
	c.AuthenticatorApps = append([]domain.AuthenticatorApp(nil), u.AuthenticatorApps...)
	c.AuthenticatorDevices = append([]domain.AuthenticatorDevice(nil), u.AuthenticatorDevices...)
	c.Roles = append([]domain.UserRole(nil), u.Roles...)
	return &c
}

// Begin implements repository.UnitOfWorkFactory.
func (s *fakeStore) Begin(ctx context.Context) (repository.UnitOfWork, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &fakeUnitOfWork{store: s}, nil
}

type fakeUnitOfWork struct {
	store   *fakeStore
	added   []*domain.User
	updated []*domain.User
	done    bool
}

func (u *fakeUnitOfWork) Users() repository.UserRepository { return &fakeUserRepository{uow: u} }

func (u *fakeUnitOfWork) SaveEntities(ctx context.Context) error {
	if u.done {
		return repository.ErrUnitOfWorkDone
	}
	u.done = true
	u.store.saves++

	if u.store.saveErr != nil {
		return u.store.saveErr
	}

	for _, user := range u.added {
		for id, existing := range u.store.users {
			if id != user.ID && strings.EqualFold(existing.EmailAddress, user.EmailAddress) {
				return repository.ErrUniquenessConflict
			}
		}
	}
	for _, user := range append(u.added, u.updated...) {
		u.store.events = append(u.store.events, user.DrainEvents()...)
		u.store.users[user.ID] = cloneUser(user)
	}
	return nil
}

func (u *fakeUnitOfWork) Rollback(ctx context.Context) error {
	u.done = true
	u.added = nil
	u.updated = nil
	return nil
}

type fakeUserRepository struct {
	uow *fakeUnitOfWork
}

func (r *fakeUserRepository) Find(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user, ok := r.uow.store.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneUser(user), nil
}

func (r *fakeUserRepository) FindByEmailAddress(ctx context.Context, emailAddress string) (*domain.User, error) {
	for _, user := range r.uow.store.users {
		if strings.EqualFold(user.EmailAddress, emailAddress) {
			return cloneUser(user), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeUserRepository) FindBySecurityToken(ctx context.Context, tokenID uuid.UUID, purpose domain.TokenPurpose, asOf time.Time) (*domain.User, error) {
	for _, user := range r.uow.store.users {
		for i := range user.SecurityTokens {
			token := &user.SecurityTokens[i]
			if token.ID == tokenID && token.Purpose == purpose && token.IsUsable(asOf) {
				return cloneUser(user), nil
			}
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeUserRepository) Add(ctx context.Context, user *domain.User) error {
	r.uow.added = append(r.uow.added, user)
	return nil
}

func (r *fakeUserRepository) Update(ctx context.Context, user *domain.User) error {
	r.uow.updated = append(r.uow.updated, user)
	return nil
}

func (r *fakeUserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	delete(r.uow.store.users, id)
	return nil
}

// fakeQueries reads the store directly, like the real query services do.
type fakeQueries struct {
	store *fakeStore
}

func (q *fakeQueries) CheckForPresenceOfUserByEmailAddress(ctx context.Context, emailAddress string) (bool, error) {
	if q.store.presenceErr != nil {
		return false, q.store.presenceErr
	}
	if q.store.presenceBlind {
		return false, nil
	}
	for _, user := range q.store.users {
		if strings.EqualFold(user.EmailAddress, emailAddress) {
			return true, nil
		}
	}
	return false, nil
}

func (q *fakeQueries) GetDetailsOfUserByID(ctx context.Context, id uuid.UUID) (*query.DetailedUserModel, error) {
	user, ok := q.store.users[id]
	if !ok {
		return nil, nil
	}
	return &query.DetailedUserModel{
		ID:           user.ID,
		EmailAddress: user.EmailAddress,
		FirstName:    user.Profile.FirstName,
		LastName:     user.Profile.LastName,
		IsAdmin:      user.IsAdmin,
		IsVerified:   user.IsVerified,
		IsLockable:   user.IsLockable,
		WhenCreated:  user.WhenCreated,
	}, nil
}

func (q *fakeQueries) ListUsers(ctx context.Context, opts query.ListOptions) (*query.ListResult, error) {
	result := &query.ListResult{}
	for _, user := range q.store.users {
		result.Items = append(result.Items, query.UserSummaryModel{
			ID:           user.ID,
			EmailAddress: user.EmailAddress,
			FirstName:    user.Profile.FirstName,
			LastName:     user.Profile.LastName,
			IsAdmin:      user.IsAdmin,
			IsLocked:     user.IsLocked(),
		})
		result.Total++
	}
	return result, nil
}

type testEnv struct {
	handlers   *Handlers
	store      *fakeStore
	challenges *challenge.MemoryStore
	policy     Policy
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := newFakeStore()
	challenges := challenge.NewMemoryStore()
	t.Cleanup(challenges.Stop)

	policy := DefaultPolicy()
	policy.LockoutThreshold = 3

	handlers := NewHandlers(
		store,
		&fakeQueries{store: store},
		challenges,
		totp.NewGenerator(totp.Config{Issuer: "Meridian"}),
		testRP,
		nil,
		clock.Fixed{Instant: testNow},
		policy,
		zerolog.Nop(),
	)
	return &testEnv{handlers: handlers, store: store, challenges: challenges, policy: policy}
}

// seedUser creates a verified, lockable user with the given password and
// commits it to the store.
func (e *testEnv) seedUser(t *testing.T, email, password string) *domain.User {
	t.Helper()
	hash, err := crypto.HashPassword(password)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	user := domain.NewUser(email, "Jane", "Doe", hash, true, testNow.Add(-24*time.Hour))
	user.ConfirmAccount()
	e.store.seed(user)
	return user
}

func requireFailureCode(t *testing.T, result command.Result, want command.ErrorCode) {
	t.Helper()
	if result.Succeeded() {
		t.Fatal("expected failure result")
	}
	if got := result.Error().Code; got != want {
		t.Fatalf("expected code %s, got %s (%s)", want, got, result.Error().Message)
	}
}
