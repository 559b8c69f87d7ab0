package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// PKCEChallenge represents a PKCE (Proof Key for Code Exchange) challenge.
// PKCE binds the code exchange to a client-generated secret so an
// intercepted authorization code is useless on its own.
type PKCEChallenge struct {
	// CodeVerifier is the cryptographically random string, kept secret
	// and only sent to the token endpoint.
	CodeVerifier string

	// CodeChallenge is the SHA256 hash of the verifier (base64url),
	// sent in the authorization request.
	CodeChallenge string

	// CodeChallengeMethod is always "S256"; plain is not acceptable.
	CodeChallengeMethod string
}

// GeneratePKCE generates a new PKCE code verifier and S256 challenge.
// The verifier is 32 random bytes (256 bits), base64url-encoded.
func GeneratePKCE() (*PKCEChallenge, error) {
	verifierBytes := make([]byte, 32)
	if _, err := rand.Read(verifierBytes); err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(verifierBytes)

	hash := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(hash[:])

	return &PKCEChallenge{
		CodeVerifier:        verifier,
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	}, nil
}

// GenerateState generates a random state parameter for CSRF protection.
// 32 random bytes base64url-encode to 43 characters, comfortably above
// the 20-character floor.
func GenerateState() (string, error) {
	stateBytes := make([]byte, 32)
	if _, err := rand.Read(stateBytes); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(stateBytes), nil
}
