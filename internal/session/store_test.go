package session

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packageml/packageml/pkg/model"
)

type fakeFetcher struct {
	calls   atomic.Int32
	users   map[string]*model.User
	release chan struct{}
}

func (f *fakeFetcher) Me(ctx context.Context, token string) (*model.User, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if u, ok := f.users[token]; ok {
		return u, nil
	}
	return nil, errors.New("401 unauthorized")
}

func alice() *model.User {
	return &model.User{ID: 1, Email: "a@b.com", IsActive: true}
}

func TestFetchUserDataValidToken(t *testing.T) {
	tokens := NewMemoryTokenStore("T")
	s := NewStore(tokens, &fakeFetcher{users: map[string]*model.User{"T": alice()}})

	require.NoError(t, s.FetchUserData(context.Background(), "T"))
	require.True(t, s.IsAuthenticated())
	require.Equal(t, Authenticated, s.State())
	require.Equal(t, "a@b.com", s.User().Email)

	token, ok := s.Token()
	require.True(t, ok)
	require.Equal(t, "T", token)
}

func TestFetchUserDataInvalidToken(t *testing.T) {
	tokens := NewMemoryTokenStore("bogus")
	s := NewStore(tokens, &fakeFetcher{})

	require.Error(t, s.FetchUserData(context.Background(), "bogus"))
	require.False(t, s.IsAuthenticated())
	require.Equal(t, Anonymous, s.State())
	stored, err := tokens.Load()
	require.NoError(t, err)
	require.Empty(t, stored)
}

func TestResolveWithoutToken(t *testing.T) {
	f := &fakeFetcher{}
	s := NewStore(NewMemoryTokenStore(""), f)
	require.Equal(t, Anonymous, s.Resolve(context.Background()))
	require.EqualValues(t, 0, f.calls.Load())

	_, err := s.Require(context.Background())
	require.ErrorIs(t, err, ErrNoSession)
}

func TestLoginLogout(t *testing.T) {
	tokens := NewMemoryTokenStore("")
	s := NewStore(tokens, &fakeFetcher{})
	require.Equal(t, Anonymous, s.Resolve(context.Background()))

	require.NoError(t, s.Login("T", alice()))
	require.Equal(t, Authenticated, s.State())
	stored, _ := tokens.Load()
	require.Equal(t, "T", stored)

	require.NoError(t, s.Logout())
	require.Equal(t, Anonymous, s.State())
	require.False(t, s.IsAuthenticated())
	stored, _ = tokens.Load()
	require.Empty(t, stored)
	_, ok := s.Token()
	require.False(t, ok)

	require.Error(t, s.Login("", alice()))
}

func TestEnsureResolvedFetchesOnce(t *testing.T) {
	f := &fakeFetcher{
		users:   map[string]*model.User{"T": alice()},
		release: make(chan struct{}),
	}
	s := NewStore(NewMemoryTokenStore("T"), f)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, Resolving, s.EnsureResolved(context.Background()))
		}()
	}
	wg.Wait()
	require.Equal(t, Resolving, s.State())

	close(f.release)
	require.Eventually(t, func() bool {
		return s.State() == Authenticated
	}, time.Second, 5*time.Millisecond)
	require.EqualValues(t, 1, f.calls.Load())
}

func TestLogoutDuringValidationWins(t *testing.T) {
	f := &fakeFetcher{
		users:   map[string]*model.User{"T": alice()},
		release: make(chan struct{}),
	}
	s := NewStore(NewMemoryTokenStore("T"), f)
	done := make(chan error)
	go func() { done <- s.FetchUserData(context.Background(), "T") }()

	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, s.Logout())
	close(f.release)
	require.NoError(t, <-done)

	require.Equal(t, Anonymous, s.State())
	require.False(t, s.IsAuthenticated())
}

func signed(t *testing.T, exp time.Time) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "a@b.com",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("secret"))
	require.NoError(t, err)
	return s
}

func TestExpiredTokenIsNotUsed(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	expired := signed(t, clock.Now().Add(-time.Minute))
	f := &fakeFetcher{users: map[string]*model.User{expired: alice()}}
	tokens := NewMemoryTokenStore(expired)
	s := NewStore(tokens, f, WithClock(clock))

	_, ok := s.Token()
	require.False(t, ok)
	require.Equal(t, Anonymous, s.Resolve(context.Background()))
	require.EqualValues(t, 0, f.calls.Load())
	stored, _ := tokens.Load()
	require.Empty(t, stored)
}

func TestTokenExpired(t *testing.T) {
	now := time.Now()
	require.True(t, TokenExpired(signed(t, now.Add(-time.Second)), now))
	require.False(t, TokenExpired(signed(t, now.Add(time.Hour)), now))
	require.False(t, TokenExpired("opaque-token", now))
}

func TestFileTokenStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token")
	store := NewFileTokenStore(path)

	token, err := store.Load()
	require.NoError(t, err)
	require.Empty(t, token)

	require.NoError(t, store.Save("T"))
	token, err = store.Load()
	require.NoError(t, err)
	require.Equal(t, "T", token)

	// Survives a "reload": a fresh store on the same path sees the token.
	token, err = NewFileTokenStore(path).Load()
	require.NoError(t, err)
	require.Equal(t, "T", token)

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear())
	token, err = store.Load()
	require.NoError(t, err)
	require.Empty(t, token)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "resolving", Resolving.String())
	require.False(t, canTransition(Authenticated, Resolving))
	require.True(t, canTransition(Unresolved, Resolving))
}
