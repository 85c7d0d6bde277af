package usecase_test

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/harrier/pkg/usecase"
)

func TestIssueAndVerifyToken(t *testing.T) {
	auth := usecase.NewAuth([]byte("test-secret"))
	gt.True(t, auth.Enabled())

	raw, err := auth.IssueToken("ci-pipeline", time.Hour)
	gt.NoError(t, err).Required()
	gt.True(t, raw != "")

	token, err := auth.VerifyToken(raw)
	gt.NoError(t, err).Required()
	gt.Equal(t, token.Subject(), "ci-pipeline")
	gt.Equal(t, token.Issuer(), "harrier")
	gt.True(t, token.Expiration().After(time.Now()))
}

func TestIssueTokenValidation(t *testing.T) {
	auth := usecase.NewAuth([]byte("test-secret"))

	t.Run("Empty subject is rejected", func(t *testing.T) {
		_, err := auth.IssueToken("", time.Hour)
		gt.Error(t, err)
	})

	t.Run("Non-positive lifetime is rejected", func(t *testing.T) {
		_, err := auth.IssueToken("ci-pipeline", 0)
		gt.Error(t, err)

		_, err = auth.IssueToken("ci-pipeline", -time.Hour)
		gt.Error(t, err)
	})
}

func TestVerifyTokenRejects(t *testing.T) {
	secret := []byte("test-secret")
	auth := usecase.NewAuth(secret)

	// sign builds a token directly so the test controls every claim
	sign := func(t *testing.T, issuer string, iat, exp time.Time, key []byte) string {
		t.Helper()
		token, err := jwt.NewBuilder().
			Issuer(issuer).
			Subject("ci-pipeline").
			IssuedAt(iat).
			Expiration(exp).
			Build()
		gt.NoError(t, err).Required()
		signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, key))
		gt.NoError(t, err).Required()
		return string(signed)
	}

	now := time.Now()

	t.Run("Garbage token", func(t *testing.T) {
		_, err := auth.VerifyToken("not-a-token")
		gt.Error(t, err)
	})

	t.Run("Empty token", func(t *testing.T) {
		_, err := auth.VerifyToken("")
		gt.Error(t, err)
	})

	t.Run("Wrong secret", func(t *testing.T) {
		raw := sign(t, "harrier", now, now.Add(time.Hour), []byte("other-secret"))
		_, err := auth.VerifyToken(raw)
		gt.Error(t, err)
	})

	t.Run("Expired token", func(t *testing.T) {
		raw := sign(t, "harrier", now.Add(-2*time.Hour), now.Add(-time.Hour), secret)
		_, err := auth.VerifyToken(raw)
		gt.Error(t, err)
	})

	t.Run("Wrong issuer", func(t *testing.T) {
		raw := sign(t, "someone-else", now, now.Add(time.Hour), secret)
		_, err := auth.VerifyToken(raw)
		gt.Error(t, err)
	})

	t.Run("Tampered token", func(t *testing.T) {
		raw, err := auth.IssueToken("ci-pipeline", time.Hour)
		gt.NoError(t, err).Required()

		// Flip a character in the payload segment
		tampered := []byte(raw)
		mid := len(tampered) / 2
		if tampered[mid] == 'a' {
			tampered[mid] = 'b'
		} else {
			tampered[mid] = 'a'
		}
		_, err = auth.VerifyToken(string(tampered))
		gt.Error(t, err)
	})
}

func TestAuthDisabled(t *testing.T) {
	auth := usecase.NewAuth(nil)
	gt.False(t, auth.Enabled())

	_, err := auth.IssueToken("ci-pipeline", time.Hour)
	gt.Error(t, err)

	_, err = auth.VerifyToken("anything")
	gt.Error(t, err)
}
