package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avdeev/Courier/internal/core"
	"github.com/avdeev/Courier/internal/domain"
)

// userStoreStub serves fixed accounts keyed by id and username.
type userStoreStub struct {
	users  map[domain.UserID]*domain.User
	hashes map[string]string
}

func newUserStoreStub(users ...*domain.User) *userStoreStub {
	s := &userStoreStub{
		users:  make(map[domain.UserID]*domain.User),
		hashes: make(map[string]string),
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *userStoreStub) CreateUser(ctx context.Context, username, hash, email, displayName string) (*domain.User, error) {
	return nil, errors.New("not implemented")
}

func (s *userStoreStub) UserByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, core.ErrNotFound
}

func (s *userStoreStub) UserByUsername(ctx context.Context, username string) (*domain.User, error) {
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *userStoreStub) PasswordHash(ctx context.Context, username string) (string, error) {
	if h, ok := s.hashes[username]; ok {
		return h, nil
	}
	return "", core.ErrNotFound
}

func TestMintAuthenticateRoundtrip(t *testing.T) {
	alice := &domain.User{ID: 1, Username: "alice"}
	tokens := NewTokens("test-secret", time.Hour, newUserStoreStub(alice))

	signed, err := tokens.Mint(alice)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	got, err := tokens.Authenticate(context.Background(), signed)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != alice.ID || got.Username != "alice" {
		t.Fatalf("resolved wrong user: %+v", got)
	}
}

func TestAuthenticateRejectsGarbage(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour, newUserStoreStub())
	for _, cred := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := tokens.Authenticate(context.Background(), cred); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("credential %q: got %v, want ErrUnauthorized", cred, err)
		}
	}
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	alice := &domain.User{ID: 1, Username: "alice"}
	store := newUserStoreStub(alice)
	minter := NewTokens("secret-a", time.Hour, store)
	verifier := NewTokens("secret-b", time.Hour, store)

	signed, err := minter.Mint(alice)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := verifier.Authenticate(context.Background(), signed); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	alice := &domain.User{ID: 1, Username: "alice"}
	store := newUserStoreStub(alice)
	tokens := NewTokens("test-secret", time.Hour, store)
	tokens.ttl = -time.Minute // already expired at mint time

	signed, err := tokens.Mint(alice)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := tokens.Authenticate(context.Background(), signed); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
}

func TestAuthenticateRejectsDisabledAccount(t *testing.T) {
	alice := &domain.User{ID: 1, Username: "alice"}
	store := newUserStoreStub(alice)
	tokens := NewTokens("test-secret", time.Hour, store)

	signed, err := tokens.Mint(alice)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	alice.Disabled = true
	if _, err := tokens.Authenticate(context.Background(), signed); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
}

func TestAuthenticateRejectsRenamedAccount(t *testing.T) {
	alice := &domain.User{ID: 1, Username: "alice"}
	store := newUserStoreStub(alice)
	tokens := NewTokens("test-secret", time.Hour, store)

	signed, err := tokens.Mint(alice)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	alice.Username = "mallory"
	if _, err := tokens.Authenticate(context.Background(), signed); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
}

func TestLogin(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	alice := &domain.User{ID: 1, Username: "alice"}
	store := newUserStoreStub(alice)
	store.hashes["alice"] = hash
	tokens := NewTokens("test-secret", time.Hour, store)

	got, err := tokens.Login(context.Background(), "alice", "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != 1 {
		t.Fatalf("resolved wrong user: %+v", got)
	}

	if _, err := tokens.Login(context.Background(), "alice", "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong password: got %v, want ErrUnauthorized", err)
	}
	if _, err := tokens.Login(context.Background(), "nobody", "s3cret"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown user: got %v, want ErrUnauthorized", err)
	}
}

func TestHashPasswordRejectsPlaintextReuse(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "hunter2" {
		t.Fatalf("password stored in the clear")
	}
	if !CheckPassword(hash, "hunter2") {
		t.Fatalf("correct password rejected")
	}
	if CheckPassword(hash, "hunter3") {
		t.Fatalf("wrong password accepted")
	}
}
