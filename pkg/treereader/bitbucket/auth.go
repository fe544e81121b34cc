package bitbucket

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

// NewTokenClient returns an *http.Client that sends token as a bearer
// credential, the scheme Bitbucket Server uses for HTTP access tokens.
// An empty token yields an unauthenticated client.
func NewTokenClient(token string) *http.Client {
	if token == "" {
		return &http.Client{}
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	return oauth2.NewClient(context.Background(), ts)
}
