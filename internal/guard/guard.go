// Package guard validates client credentials before a shell is granted and
// constrains the command surface available inside the spawned shell. It fails
// closed: no runner is ever started for credentials the Control API rejects.
package guard

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/crypto/bcrypt"
)

// ErrUnauthorized is returned for missing, malformed, or rejected credentials.
var ErrUnauthorized = errors.New("invalid credentials")

// apiKeyPattern matches the "app.keyId:keySecret" shape of an Ably API key.
var apiKeyPattern = regexp.MustCompile(`^[\w-]+\.[\w-]+:[\w+/=-]+$`)

// Credentials are the raw values presented in a WebSocket handshake.
type Credentials struct {
	APIKey      string
	AccessToken string
}

func (c Credentials) empty() bool {
	return c.APIKey == "" && c.AccessToken == ""
}

// secret returns the value that identifies this credential for scope matching.
func (c Credentials) secret() string {
	if c.AccessToken != "" {
		return c.AccessToken
	}
	return c.APIKey
}

// Identity describes the account a credential belongs to, as reported by the
// Control API.
type Identity struct {
	AccountID string `json:"account_id"`
	UserID    string `json:"user_id"`
}

// Scope is the immutable authorization context a session runs under. It keeps
// the raw credential for injection into the shell environment plus a bcrypt
// fingerprint so resume attempts can be checked without storing comparisons
// in plain form elsewhere.
type Scope struct {
	APIKey      string
	AccessToken string
	Identity    Identity

	fingerprint []byte
}

// Matches reports whether the presented credentials are the ones this scope
// was created with. Resuming a session requires a match.
func (s *Scope) Matches(c Credentials) bool {
	return bcrypt.CompareHashAndPassword(s.fingerprint, []byte(c.secret())) == nil
}

// Guard validates credentials against the Control API and owns the shell
// command policy.
type Guard struct {
	client       *resty.Client
	authDisabled bool
	policy       *Policy
	defaults     Credentials
}

// New creates a Guard. When authDisabled is true the Control API is never
// called and any non-empty credential is accepted (local development only).
// defaults fill in handshakes that carry no credentials at all.
func New(controlAPIURL string, authDisabled bool, policy *Policy, defaults Credentials) *Guard {
	client := resty.New().
		SetBaseURL(controlAPIURL).
		SetTimeout(10 * time.Second).
		SetHeader("User-Agent", "termbridge")
	return &Guard{
		client:       client,
		authDisabled: authDisabled,
		policy:       policy,
		defaults:     defaults,
	}
}

// Policy returns the command-surface policy enforced for spawned shells.
func (g *Guard) Policy() *Policy {
	return g.policy
}

// Authorize validates the presented credentials and returns the scope the
// session will run under. Handshakes with no credentials fall back to the
// configured defaults before being rejected.
func (g *Guard) Authorize(ctx context.Context, creds Credentials) (*Scope, error) {
	if creds.empty() {
		creds = g.defaults
	}
	if creds.empty() {
		return nil, fmt.Errorf("no credentials presented: %w", ErrUnauthorized)
	}
	if creds.APIKey != "" && !apiKeyPattern.MatchString(creds.APIKey) {
		return nil, fmt.Errorf("malformed API key: %w", ErrUnauthorized)
	}

	var identity Identity
	if !g.authDisabled {
		id, err := g.lookupIdentity(ctx, creds)
		if err != nil {
			return nil, err
		}
		identity = id
	}

	fingerprint, err := bcrypt.GenerateFromPassword([]byte(creds.secret()), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("fingerprint credentials: %w", err)
	}

	return &Scope{
		APIKey:      creds.APIKey,
		AccessToken: creds.AccessToken,
		Identity:    identity,
		fingerprint: fingerprint,
	}, nil
}

// lookupIdentity asks the Control API who this credential belongs to. The
// call is treated as opaque: success plus identity info, or rejection.
func (g *Guard) lookupIdentity(ctx context.Context, creds Credentials) (Identity, error) {
	var identity Identity
	req := g.client.R().SetContext(ctx).SetResult(&identity)
	if creds.AccessToken != "" {
		req.SetAuthToken(creds.AccessToken)
	} else {
		req.SetHeader("X-Ably-Key", creds.APIKey)
	}

	resp, err := req.Get("/me")
	if err != nil {
		return Identity{}, fmt.Errorf("control api: %w", err)
	}
	if resp.IsError() {
		return Identity{}, fmt.Errorf("control api rejected credentials (status %d): %w",
			resp.StatusCode(), ErrUnauthorized)
	}
	return identity, nil
}
