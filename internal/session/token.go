package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/osmcloud/auth-gateway/internal/claims"
	"github.com/osmcloud/auth-gateway/internal/serviceerr"
)

// sigAlgs restricts token parsing to the single algorithm we issue with.
var sigAlgs = []jose.SignatureAlgorithm{jose.HS256}

// Signer issues and verifies the signed tokens the gateway hands to
// browsers: the session credential and the pending-auth-state cookie.
// Both are HS256 JWTs under the same server-held secret; the server keeps
// no per-token state, so a token is trusted iff its signature verifies and
// it has not expired.
type Signer struct {
	secret []byte
	signer jose.Signer
	now    func() time.Time
}

func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) < 32 {
		return nil, errors.New("session secret must be at least 32 bytes")
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: secret},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating JOSE signer: %w", err)
	}

	return &Signer{secret: secret, signer: signer, now: time.Now}, nil
}

type sessionClaims struct {
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
}

type stateClaims struct {
	State     string `json:"state"`
	ReturnURL string `json:"return_url"`
}

// IssueSession mints the session token for a mapped identity. The identity
// fields plus issuance and expiry timestamps are the only contents; tokens
// carry no provider credentials.
func (s *Signer) IssueSession(identity claims.Identity, ttl time.Duration) (string, error) {
	now := s.now()

	std := jwt.Claims{
		Subject:  identity.SubjectID,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(ttl)),
	}
	custom := sessionClaims{
		Name:    identity.DisplayName,
		Picture: identity.AvatarURL,
	}

	raw, err := jwt.Signed(s.signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}

	return raw, nil
}

// VerifySession fails closed: any parse error, signature mismatch, elapsed
// expiry, or missing subject yields a session-invalid error and never a
// partially-trusted identity.
func (s *Signer) VerifySession(raw string) (claims.Identity, error) {
	var std jwt.Claims
	var custom sessionClaims
	if err := s.verify(raw, &std, &custom); err != nil {
		return claims.Identity{}, serviceerr.ErrSessionInvalid
	}

	if std.Subject == "" {
		return claims.Identity{}, serviceerr.ErrSessionInvalid
	}

	return claims.Identity{
		SubjectID:   std.Subject,
		DisplayName: custom.Name,
		AvatarURL:   custom.Picture,
	}, nil
}

// IssueState signs a pending authorization attempt into its cookie value.
func (s *Signer) IssueState(pending PendingState) (string, error) {
	std := jwt.Claims{
		IssuedAt: jwt.NewNumericDate(s.now()),
		Expiry:   jwt.NewNumericDate(pending.Expiry),
	}
	custom := stateClaims{
		State:     pending.State,
		ReturnURL: pending.ReturnURL,
	}

	raw, err := jwt.Signed(s.signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("signing state token: %w", err)
	}

	return raw, nil
}

// VerifyState decodes a state cookie back into the pending attempt.
// Tampered or expired cookies yield an invalid-state error.
func (s *Signer) VerifyState(raw string) (PendingState, error) {
	var std jwt.Claims
	var custom stateClaims
	if err := s.verify(raw, &std, &custom); err != nil {
		return PendingState{}, serviceerr.ErrInvalidState
	}

	if custom.State == "" {
		return PendingState{}, serviceerr.ErrInvalidState
	}

	return PendingState{
		State:     custom.State,
		ReturnURL: custom.ReturnURL,
		Expiry:    std.Expiry.Time(),
	}, nil
}

func (s *Signer) verify(raw string, std *jwt.Claims, custom any) error {
	token, err := jwt.ParseSigned(raw, sigAlgs)
	if err != nil {
		return fmt.Errorf("parsing token: %w", err)
	}

	if err := token.Claims(s.secret, std, custom); err != nil {
		return fmt.Errorf("verifying token signature: %w", err)
	}

	// Zero leeway: a token is invalid the moment its expiry elapses.
	if err := std.ValidateWithLeeway(jwt.Expected{Time: s.now()}, 0); err != nil {
		return fmt.Errorf("validating token claims: %w", err)
	}

	return nil
}
