package gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const (
	maxAuthAttempts = 3
	challengeBytes  = 32
)

// Authenticator checks websocket challenge answers and HTTP secrets
// against the shared secret
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(sharedSecret string) *Authenticator {
	return &Authenticator{secret: []byte(sharedSecret)}
}

// NewChallenge returns a random hex challenge
func NewChallenge() (string, error) {
	buf := make([]byte, challengeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Sign returns the hex HMAC-SHA256 of challenge under secret. Clients use
// it to answer an auth.challenge.
func Sign(secret, challenge string) string {
	return hex.EncodeToString(mac([]byte(secret), challenge))
}

func mac(secret []byte, challenge string) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(challenge))
	return h.Sum(nil)
}

// Verify reports whether signature is the hex HMAC of challenge
func (a *Authenticator) Verify(challenge, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(mac(a.secret, challenge), got)
}

// CheckSecret compares a presented shared secret in constant time
func (a *Authenticator) CheckSecret(presented string) bool {
	return subtle.ConstantTimeCompare(a.secret, []byte(presented)) == 1
}

// Answer applies a client's signature to its outstanding challenge. The
// caller holds the registry lock for client.
func (a *Authenticator) Answer(client *Client, signature string) AuthResult {
	fail := func(msg string) AuthResult {
		return AuthResult{Event: "auth.failure", Message: msg}
	}

	if client.Challenge == "" {
		return fail("No challenge found")
	}
	if !a.Verify(client.Challenge, signature) {
		client.AuthAttempts++
		if client.AuthAttempts >= maxAuthAttempts {
			return fail("Too many failed attempts")
		}
		return fail("Invalid signature")
	}

	client.Authenticated = true
	client.AuthAttempts = 0
	client.Challenge = ""
	return AuthResult{Event: "auth.success", Success: true}
}
