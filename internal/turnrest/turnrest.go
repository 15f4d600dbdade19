// Package turnrest mints coturn-compatible ephemeral TURN credentials
// (draft-uberti-behave-turn-rest):
//
//	username   = <unix_expiry>:<prefix>:<session_id>
//	credential = base64(hmac_sha1(shared_secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMissingSecret  = errors.New("turnrest: shared secret is required")
	ErrInvalidTTL     = errors.New("turnrest: ttl must be positive")
	ErrInvalidPrefix  = errors.New("turnrest: username prefix must be non-empty and contain no ':'")
	ErrInvalidSession = errors.New("turnrest: session id must be non-empty and contain no ':'")
)

type Config struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string

	// Now defaults to time.Now.
	Now func() time.Time
	// NewSessionID defaults to a random UUID without dashes.
	NewSessionID func() string
}

type Credentials struct {
	Username   string
	Credential string
	Expires    time.Time
}

type Generator struct {
	secret       []byte
	ttlSeconds   int64
	prefix       string
	now          func() time.Time
	newSessionID func() string
}

func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.SharedSecret == "" {
		return nil, ErrMissingSecret
	}
	ttl := int64(cfg.TTL / time.Second)
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	if cfg.UsernamePrefix == "" || strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, ErrInvalidPrefix
	}
	g := &Generator{
		secret:       []byte(cfg.SharedSecret),
		ttlSeconds:   ttl,
		prefix:       cfg.UsernamePrefix,
		now:          cfg.Now,
		newSessionID: cfg.NewSessionID,
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.newSessionID == nil {
		g.newSessionID = func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") }
	}
	return g, nil
}

// Generate mints credentials bound to sessionID.
func (g *Generator) Generate(sessionID string) (Credentials, error) {
	if sessionID == "" || strings.Contains(sessionID, ":") {
		return Credentials{}, ErrInvalidSession
	}
	expiry := g.now().UTC().Unix() + g.ttlSeconds
	username := strconv.FormatInt(expiry, 10) + ":" + g.prefix + ":" + sessionID
	return Credentials{
		Username:   username,
		Credential: Sign(g.secret, username),
		Expires:    time.Unix(expiry, 0).UTC(),
	}, nil
}

// GenerateRandom mints credentials for a fresh session id.
func (g *Generator) GenerateRandom() (Credentials, error) {
	return g.Generate(g.newSessionID())
}

// Sign computes the coturn credential for username.
func Sign(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
