// cmd/enrollment-sync/accounts.go
package main

import (
	"context"
	"errors"

	"enrollment-sync/internal/common/auth"
	sessionapi "enrollment-sync/internal/session-api"
)

// keycloakAccounts signs users in with the password grant.
type keycloakAccounts struct {
	kc *auth.KeycloakAuthenticator
}

func (a keycloakAccounts) SignIn(ctx context.Context, req sessionapi.SignInRequest) (auth.Identity, error) {
	if req.Username == "" || req.Password == "" {
		return auth.Identity{}, errors.New("username and password are required")
	}
	return a.kc.Login(ctx, req.Username, req.Password)
}

func (a keycloakAccounts) SignOut(ctx context.Context) {
	a.kc.Logout(ctx)
}

// embeddedAccounts trusts the identity supplied by the host application.
type embeddedAccounts struct {
	local *auth.LocalAuthenticator
}

func (a embeddedAccounts) SignIn(ctx context.Context, req sessionapi.SignInRequest) (auth.Identity, error) {
	if req.Subject == "" {
		return auth.Identity{}, errors.New("sub is required")
	}
	identity := auth.Identity{Subject: req.Subject, Email: req.Email, Name: req.Name, Mobile: req.Mobile}
	a.local.SignIn(identity, "embedded:"+req.Subject)
	return identity, nil
}

func (a embeddedAccounts) SignOut(ctx context.Context) {
	a.local.SignOut()
}
