// Package identity wraps the provider's OAuth refresh grant. The only
// classification callers care about is invalid_grant: the refresh token
// itself was rejected and no retry will help.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// ErrInvalidGrant means the provider rejected the refresh token. The stored
// credential is dead until the user re-authenticates.
var ErrInvalidGrant = errors.New("identity: refresh token rejected")

type Token struct {
	AccessToken  string
	RefreshToken string
	Scope        string
	ExpiresAt    time.Time
}

type Provider struct {
	conf *oauth2.Config
}

func NewProvider(tokenURL, clientID, clientSecret string) *Provider {
	return &Provider{conf: &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}}
}

func (p *Provider) RefreshAccessToken(ctx context.Context, refreshToken string) (Token, error) {
	if refreshToken == "" {
		return Token{}, fmt.Errorf("%w: no refresh token stored", ErrInvalidGrant)
	}
	source := p.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := source.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
			return Token{}, fmt.Errorf("%w: %s", ErrInvalidGrant, retrieveErr.ErrorDescription)
		}
		return Token{}, err
	}

	refreshed := Token{
		AccessToken: tok.AccessToken,
		ExpiresAt:   tok.Expiry.UTC(),
		// Providers may rotate the refresh token; oauth2 carries the old one
		// forward when they do not.
		RefreshToken: tok.RefreshToken,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		refreshed.Scope = scope
	}
	return refreshed, nil
}
