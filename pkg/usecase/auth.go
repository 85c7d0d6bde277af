package usecase

import (
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/domain/interfaces"
)

// tokenIssuer is the iss claim of every token this service mints
const tokenIssuer = "harrier"

// AuthUseCase issues and verifies the HS256 bearer tokens used by the HTTP
// API. Tokens are stateless: verification needs only the shared secret, so
// nothing is persisted.
type AuthUseCase struct {
	secret []byte
}

var _ interfaces.Auth = (*AuthUseCase)(nil)

// NewAuth creates a new AuthUseCase. An empty secret disables token
// operations; callers check Enabled before relying on them.
func NewAuth(secret []byte) *AuthUseCase {
	return &AuthUseCase{secret: secret}
}

// Enabled reports whether a token secret is configured
func (u *AuthUseCase) Enabled() bool {
	return len(u.secret) > 0
}

// IssueToken mints a signed API token for the given subject
func (u *AuthUseCase) IssueToken(subject string, ttl time.Duration) (string, error) {
	if !u.Enabled() {
		return "", goerr.New("token secret is not configured")
	}
	if subject == "" {
		return "", goerr.New("token subject is required")
	}
	if ttl <= 0 {
		return "", goerr.New("token lifetime must be positive", goerr.V("ttl", ttl))
	}

	now := time.Now()
	token, err := jwt.NewBuilder().
		Issuer(tokenIssuer).
		Subject(subject).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Build()
	if err != nil {
		return "", goerr.Wrap(err, "failed to build token",
			goerr.V("subject", subject))
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, u.secret))
	if err != nil {
		return "", goerr.Wrap(err, "failed to sign token",
			goerr.V("subject", subject))
	}

	return string(signed), nil
}

// VerifyToken parses a raw token and validates its signature, expiry and
// issuer against this service
func (u *AuthUseCase) VerifyToken(raw string) (jwt.Token, error) {
	if !u.Enabled() {
		return nil, goerr.New("token secret is not configured")
	}
	if raw == "" {
		return nil, goerr.New("token is empty")
	}

	token, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, u.secret),
		jwt.WithIssuer(tokenIssuer),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to verify token")
	}

	return token, nil
}
