// Package auth validates the two credential kinds of the service: per-job
// push API keys and dashboard session tokens. They are never interchangeable.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"webup/borgmon"

	jwt "github.com/dgrijalva/jwt-go"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// VerifyCredentials checks the dashboard username/password pair. The
// configured password may be a bcrypt hash or plaintext; both comparisons
// are constant-time.
func VerifyCredentials(settings borgmon.AuthSettings, username, password string) bool {
	if settings.Username == "" || settings.Password == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(settings.Username), []byte(username)) == 1

	var passOK bool
	if strings.HasPrefix(settings.Password, "$2") {
		passOK = bcrypt.CompareHashAndPassword([]byte(settings.Password), []byte(password)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(settings.Password), []byte(password)) == 1
	}

	return userOK && passOK
}

// IssueToken creates a session token for an authenticated dashboard user.
// Validity is purely expiry-based; there is no server-side revocation.
func IssueToken(settings borgmon.AuthSettings, username string, now time.Time) (string, time.Time, error) {
	secret, err := readSecret(settings.SecretFilepath)
	if err != nil {
		return "", time.Time{}, err
	}

	expiresAt := now.Add(settings.TokenTTL)
	claims := jwt.StandardClaims{
		Subject:   username,
		IssuedAt:  now.Unix(),
		ExpiresAt: expiresAt.Unix(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// VerifyToken checks a session token and returns the username it was
// issued to. Expired or malformed tokens yield ErrUnauthorized.
func VerifyToken(settings borgmon.AuthSettings, rawToken string) (string, error) {
	claims := jwt.StandardClaims{}

	token, err := jwt.ParseWithClaims(rawToken, &claims, func(token *jwt.Token) (interface{}, error) {
		// validate the alg is what we expect
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return readSecret(settings.SecretFilepath)
	})
	if err != nil || !token.Valid {
		return "", borgmon.ErrUnauthorized
	}
	if claims.Subject == "" {
		return "", borgmon.ErrUnauthorized
	}
	return claims.Subject, nil
}

// VerifyPushKey checks a push credential against a job's configured API
// keys, in constant time per key. The credential is scoped to that single
// job only.
func VerifyPushKey(job borgmon.Job, key string) bool {
	if key == "" {
		return false
	}
	ok := false
	for _, candidate := range job.APIKeys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			ok = true
		}
	}
	return ok
}

// EnsureSecret makes sure the signing secret file exists, generating a new
// one on first start.
func EnsureSecret(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(buf)), 0600); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"path": path,
	}).Infoln("Generated a new session token secret")
	return nil
}

func readSecret(path string) ([]byte, error) {
	secret, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("secret file not found: %w", err)
	}
	return secret, nil
}
