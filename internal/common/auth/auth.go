// internal/common/auth/auth.go
package auth

import (
	"context"
	"errors"
	"sync"
)

var ErrNotAuthenticated = errors.New("NOT_AUTHENTICATED")

// Identity is the signed-in user as seen by the enrollment engine.
type Identity struct {
	Subject string `json:"sub"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Mobile  string `json:"mobile,omitempty"`
}

// TransitionKind classifies a change of the authenticated user.
type TransitionKind string

const (
	SignedIn    TransitionKind = "signed-in"
	SignedOut   TransitionKind = "signed-out"
	ChangedUser TransitionKind = "changed-user"
)

type Transition struct {
	Kind     TransitionKind
	Previous Identity
	Current  Identity
}

// Authenticator is the authentication collaborator of the engine.
type Authenticator interface {
	IsAuthenticated() bool
	CurrentIdentity() (Identity, bool)
	// Token returns a bearer token for backend calls.
	Token(ctx context.Context) (string, error)
	// Invalidate drops credentials the backend rejected. The user stays known,
	// so no signed-out transition is emitted.
	Invalidate()
	Subscribe(fn func(Transition)) func()
}

// TransitionTracker turns raw "who is signed in" observations into transitions.
// Observing the same user twice yields nothing.
type TransitionTracker struct {
	mu      sync.Mutex
	current *Identity
}

// Observe records who is signed in now (nil when nobody is).
func (t *TransitionTracker) Observe(now *Identity) (Transition, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.current
	if now != nil {
		id := *now
		t.current = &id
	} else {
		t.current = nil
	}

	switch {
	case prev == nil && now == nil:
		return Transition{}, false
	case prev == nil:
		return Transition{Kind: SignedIn, Current: *now}, true
	case now == nil:
		return Transition{Kind: SignedOut, Previous: *prev}, true
	case prev.Subject != now.Subject:
		return Transition{Kind: ChangedUser, Previous: *prev, Current: *now}, true
	}
	return Transition{}, false
}

// subscribers is a small listener registry shared by the authenticators.
type subscribers struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func(Transition)
}

func (s *subscribers) add(fn func(Transition)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(Transition))
	}
	s.nextID++
	id := s.nextID
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.fns, id)
	}
}

func (s *subscribers) notify(tr Transition) {
	s.mu.Lock()
	fns := make([]func(Transition), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(tr)
	}
}

// LocalAuthenticator is driven directly by its owner. It backs the embedded
// mode, where the service trusts the caller-supplied identity, and tests.
type LocalAuthenticator struct {
	tracker TransitionTracker
	subs    subscribers

	mu       sync.Mutex
	identity *Identity
	token    string
}

func NewLocalAuthenticator() *LocalAuthenticator {
	return &LocalAuthenticator{}
}

// SignIn makes identity the current user with the given bearer token.
func (a *LocalAuthenticator) SignIn(identity Identity, token string) {
	a.mu.Lock()
	id := identity
	a.identity = &id
	a.token = token
	a.mu.Unlock()

	if tr, ok := a.tracker.Observe(&identity); ok {
		a.subs.notify(tr)
	}
}

// SignOut forgets the current user.
func (a *LocalAuthenticator) SignOut() {
	a.mu.Lock()
	a.identity = nil
	a.token = ""
	a.mu.Unlock()

	if tr, ok := a.tracker.Observe(nil); ok {
		a.subs.notify(tr)
	}
}

func (a *LocalAuthenticator) IsAuthenticated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identity != nil && a.token != ""
}

func (a *LocalAuthenticator) CurrentIdentity() (Identity, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.identity == nil {
		return Identity{}, false
	}
	return *a.identity, true
}

func (a *LocalAuthenticator) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token == "" {
		return "", ErrNotAuthenticated
	}
	return a.token, nil
}

func (a *LocalAuthenticator) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = ""
}

func (a *LocalAuthenticator) Subscribe(fn func(Transition)) func() {
	return a.subs.add(fn)
}

var (
	_ Authenticator = (*LocalAuthenticator)(nil)
	_ Authenticator = (*KeycloakAuthenticator)(nil)
)
