// Package auth owns the OAuth2 credential: storage, the interactive consent flow and silent refresh.
package auth

import (
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Credential is the persisted form of an OAuth2 token.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry"`
	Scope        []string  `json:"scope,omitempty"`
	TokenType    string    `json:"token_type"`
}

// FromToken converts a token from the provider. The granted scope comes from the token
// response when present, otherwise the requested scopes are recorded.
func FromToken(t *oauth2.Token, requested []string) *Credential {
	c := &Credential{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
		TokenType:    t.TokenType,
		Scope:        requested,
	}
	if granted, ok := t.Extra("scope").(string); ok && granted != "" {
		c.Scope = strings.Fields(granted)
	}
	return c
}

// Token returns the oauth2 form used by transports.
func (c *Credential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		Expiry:       c.Expiry,
		TokenType:    c.TokenType,
	}
}

// Usable reports whether the credential can authorise a request, either directly or via refresh.
func (c *Credential) Usable() bool {
	return c != nil && (c.AccessToken != "" || c.RefreshToken != "")
}
