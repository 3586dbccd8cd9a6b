package session

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/packageml/packageml/pkg/logger"
	"github.com/packageml/packageml/pkg/model"
)

// State is where the session is in its lifecycle.
type State int

const (
	// Unresolved is the state at startup, before durable storage has been consulted.
	Unresolved State = iota
	// Resolving means a stored token is being validated against the backend.
	Resolving
	// Authenticated means a validated user profile is held in memory.
	Authenticated
	// Anonymous means there is no valid session.
	Anonymous
)

func (s State) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case Resolving:
		return "resolving"
	case Authenticated:
		return "authenticated"
	case Anonymous:
		return "anonymous"
	default:
		return "invalid"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{Unresolved, Resolving, Authenticated, Anonymous} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return errors.Errorf("unknown session state %q", text)
}

// transitions lists every valid state change.
var transitions = map[State][]State{
	Unresolved:    {Resolving, Anonymous},
	Resolving:     {Authenticated, Anonymous},
	Authenticated: {Anonymous},
	Anonymous:     {Authenticated},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrNoSession is returned by Require when nobody is logged in.
var ErrNoSession = errors.New("not logged in")

// UserFetcher resolves a bearer token to the profile it belongs to ("who am I").
type UserFetcher interface {
	Me(ctx context.Context, token string) (*model.User, error)
}

// Snapshot is a consistent read of the session.
type Snapshot struct {
	State State       `json:"state"`
	User  *model.User `json:"user,omitempty"`
}

// Store holds the current bearer token and user profile. It is created once by the
// application and passed to whatever needs it.
type Store struct {
	// System dependencies.
	tokens  TokenStore
	fetcher UserFetcher
	clock   clockwork.Clock
	log     *logrus.Entry

	// Internal state.
	mu    sync.RWMutex
	state State
	token string
	user  *model.User
	// generation is bumped by Login and Logout so that a validation that started before them
	// cannot overwrite their result.
	generation uint64
	fetches    singleflight.Group
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock used for token expiry checks.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// NewStore returns an unresolved session backed by tokens and validated through fetcher.
func NewStore(tokens TokenStore, fetcher UserFetcher, opts ...Option) *Store {
	s := &Store{
		tokens:  tokens,
		fetcher: fetcher,
		clock:   clockwork.NewRealClock(),
		log:     logger.Component("session"),
		state:   Unresolved,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetFetcher installs the fetcher after construction, for wiring where the fetcher itself
// depends on the store (the gateway reads its token from here).
func (s *Store) SetFetcher(fetcher UserFetcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetcher = fetcher
}

// setStateLocked applies a transition. Invalid transitions are logged and ignored.
func (s *Store) setStateLocked(to State) bool {
	if s.state == to {
		return true
	}
	if !canTransition(s.state, to) {
		s.log.Warnf("ignoring invalid session transition %s -> %s", s.state, to)
		return false
	}
	s.log.Debugf("session %s -> %s", s.state, to)
	s.state = to
	return true
}

// State returns the current lifecycle state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// User returns the in-memory profile, if any.
func (s *Store) User() *model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Snapshot returns the state and user read together.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{State: s.state, User: s.user}
}

// IsAuthenticated is true iff an in-memory user profile is present.
func (s *Store) IsAuthenticated() bool {
	return s.User() != nil
}

// HasDurableToken reports whether durable storage holds a token.
func (s *Store) HasDurableToken() bool {
	token, err := s.tokens.Load()
	if err != nil {
		s.log.WithError(err).Warn("unable to read stored token")
		return false
	}
	return token != ""
}

// Token returns the bearer token to attach to requests. It reports false when there is none or
// when the token is a JWT that has already expired.
func (s *Store) Token() (string, bool) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token == "" {
		loaded, err := s.tokens.Load()
		if err != nil {
			s.log.WithError(err).Warn("unable to read stored token")
			return "", false
		}
		token = loaded
	}
	if token == "" {
		return "", false
	}
	if TokenExpired(token, s.clock.Now()) {
		s.log.Debug("stored token has expired")
		return "", false
	}
	return token, true
}

// Login stores token durably, sets the user profile and marks the session resolved.
func (s *Store) Login(token string, user *model.User) error {
	if token == "" || user == nil {
		return errors.New("login requires a token and a user profile")
	}
	if err := s.tokens.Save(token); err != nil {
		return errors.Wrap(err, "persisting token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	if s.state == Unresolved || s.state == Resolving {
		s.setStateLocked(Anonymous)
	}
	s.token = token
	s.user = user
	s.setStateLocked(Authenticated)
	s.log.WithField("user", user.Email).Info("logged in")
	return nil
}

// Logout clears the durable token and the in-memory user and marks the session resolved.
func (s *Store) Logout() error {
	err := s.tokens.Clear()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.token = ""
	s.user = nil
	s.setStateLocked(Anonymous)
	if err != nil {
		return errors.Wrap(err, "clearing stored token")
	}
	return nil
}

// FetchUserData validates token with the backend. On success the profile is set; on any
// failure the durable token is cleared and the profile stays absent. Either way the session
// is no longer resolving when it returns. Concurrent calls for the same token share one
// request.
func (s *Store) FetchUserData(ctx context.Context, token string) error {
	s.mu.Lock()
	gen := s.generation
	if s.state == Unresolved {
		s.setStateLocked(Resolving)
	}
	fetcher := s.fetcher
	s.mu.Unlock()

	res, err, _ := s.fetches.Do(token, func() (interface{}, error) {
		if fetcher == nil {
			return nil, errors.New("no user fetcher configured")
		}
		if TokenExpired(token, s.clock.Now()) {
			return nil, errors.New("token has expired")
		}
		return fetcher.Me(ctx, token)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		// A login or logout happened meanwhile and owns the state now.
		if err != nil {
			return errors.Wrap(err, "validating session")
		}
		return nil
	}

	var user *model.User
	if err == nil {
		user, _ = res.(*model.User)
		if user == nil {
			err = errors.New("backend returned no user profile")
		}
	}
	if err != nil {
		s.log.WithError(err).Warn("failed to fetch user data, clearing stored token")
		if cErr := s.tokens.Clear(); cErr != nil {
			s.log.WithError(cErr).Error("unable to clear stored token")
		}
		s.token = ""
		s.user = nil
		if s.state == Resolving || s.state == Authenticated {
			s.setStateLocked(Anonymous)
		}
		return errors.Wrap(err, "validating session")
	}

	s.token = token
	s.user = user
	if s.state == Anonymous || s.state == Resolving {
		s.setStateLocked(Authenticated)
	}
	return nil
}

// Resolve runs the startup check: with no stored token the session becomes anonymous, with
// one it is validated. It returns the resulting state. Calling it on a resolved session is a
// no-op.
func (s *Store) Resolve(ctx context.Context) State {
	if state := s.State(); state != Unresolved {
		return state
	}

	token, ok := s.Token()
	if !ok {
		if s.HasDurableToken() {
			// Present but expired.
			if err := s.tokens.Clear(); err != nil {
				s.log.WithError(err).Error("unable to clear expired token")
			}
		}
		s.mu.Lock()
		s.setStateLocked(Anonymous)
		s.mu.Unlock()
		return Anonymous
	}

	_ = s.FetchUserData(ctx, token) //nolint:errcheck // recorded in the state
	return s.State()
}

// EnsureResolved starts resolution in the background when the session is unresolved and
// returns the state immediately afterwards. Exactly one validation is started no matter how
// many callers race here.
func (s *Store) EnsureResolved(ctx context.Context) State {
	s.mu.Lock()
	if s.state != Unresolved {
		state := s.state
		s.mu.Unlock()
		return state
	}
	s.mu.Unlock()

	token, ok := s.Token()
	if !ok {
		return s.Resolve(ctx)
	}

	s.mu.Lock()
	if s.state != Unresolved {
		state := s.state
		s.mu.Unlock()
		return state
	}
	s.setStateLocked(Resolving)
	s.mu.Unlock()

	go func() {
		_ = s.FetchUserData(context.WithoutCancel(ctx), token) //nolint:errcheck
	}()
	return Resolving
}

// Require resolves the session if needed and fails with ErrNoSession when it is anonymous.
func (s *Store) Require(ctx context.Context) (*model.User, error) {
	s.Resolve(ctx)
	if user := s.User(); user != nil {
		return user, nil
	}
	return nil, ErrNoSession
}
