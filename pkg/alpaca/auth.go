package alpaca

import (
	"errors"
	"net/http"
)

type AuthType string

const (
	AuthTypeKey   AuthType = "key"
	AuthTypeOAuth AuthType = "oauth"
)

// Authenticator adds credentials to every outgoing request.
type Authenticator interface {
	AddAuthHeaders(h http.Header) error
}

// KeyAuthenticator uses the account's API key id and secret.
type KeyAuthenticator struct {
	keyID     string
	secretKey string
}

func NewKeyAuthenticator(keyID, secretKey string) *KeyAuthenticator {
	return &KeyAuthenticator{keyID: keyID, secretKey: secretKey}
}

func (k *KeyAuthenticator) AddAuthHeaders(h http.Header) error {
	if k.keyID == "" || k.secretKey == "" {
		return errors.New("alpaca key id and secret key are required")
	}
	h.Set("APCA-API-KEY-ID", k.keyID)
	h.Set("APCA-API-SECRET-KEY", k.secretKey)
	return nil
}

// OAuthAuthenticator uses a bearer token issued to a connected app.
type OAuthAuthenticator struct {
	token string
}

func NewOAuthAuthenticator(token string) *OAuthAuthenticator {
	return &OAuthAuthenticator{token: token}
}

func (o *OAuthAuthenticator) AddAuthHeaders(h http.Header) error {
	if o.token == "" {
		return errors.New("alpaca oauth token is required")
	}
	h.Set("Authorization", "Bearer "+o.token)
	return nil
}

// NewAuthenticator picks the authenticator for authType.
func NewAuthenticator(authType AuthType, keyID, secretKey, oauthToken string) (Authenticator, error) {
	switch authType {
	case AuthTypeOAuth:
		return NewOAuthAuthenticator(oauthToken), nil
	case AuthTypeKey, "":
		return NewKeyAuthenticator(keyID, secretKey), nil
	}
	return nil, errors.New("unknown alpaca auth type " + string(authType))
}
