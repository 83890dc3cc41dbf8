// Package auth authenticates gateway callers and picks the upstream
// credential each request is forwarded with.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"math/rand"
	"strings"
	"sync"

	"github.com/ncecere/open_image_gateway/internal/models"
	"github.com/ncecere/open_image_gateway/internal/requestctx"
)

// Options configure a Selector. Exactly one of CallerKey or CallerKeyHash
// is expected; the hash wins when both are set.
type Options struct {
	CallerKey     string
	CallerKeyHash string
	UpstreamKeys  []string
	// IntN returns a uniform value in [0, n). Defaults to math/rand/v2.
	IntN func(n int) int
}

// Selector validates caller credentials and draws upstream credentials.
type Selector struct {
	callerKey  []byte
	callerHash string
	upstream   []string
	intn       func(int) int

	// verified remembers digests of secrets that passed argon2 verification
	// so the hash is not recomputed on every request.
	verified sync.Map
}

// NewSelector builds a selector from the configured secrets.
func NewSelector(opts Options) (*Selector, error) {
	callerKey := strings.TrimSpace(opts.CallerKey)
	callerHash := strings.TrimSpace(opts.CallerKeyHash)
	if callerKey == "" && callerHash == "" {
		return nil, errors.New("auth: caller key or caller key hash required")
	}

	upstream := make([]string, 0, len(opts.UpstreamKeys))
	for _, key := range opts.UpstreamKeys {
		if key = strings.TrimSpace(key); key != "" {
			upstream = append(upstream, key)
		}
	}
	if len(upstream) == 0 {
		return nil, errors.New("auth: at least one upstream key required")
	}

	intn := opts.IntN
	if intn == nil {
		intn = rand.Intn
	}
	return &Selector{
		callerKey:  []byte(callerKey),
		callerHash: callerHash,
		upstream:   upstream,
		intn:       intn,
	}, nil
}

// Authorize checks an Authorization header value and, on success, returns
// an auth context carrying a randomly drawn upstream credential.
func (s *Selector) Authorize(header string) (requestctx.AuthContext, error) {
	token := ExtractToken(header)
	if token == "" || !s.matches(token) {
		return requestctx.AuthContext{}, models.NewError(models.KindAuthentication, "invalid api key")
	}
	return requestctx.AuthContext{
		CallerAuthorized:   true,
		CallerID:           Fingerprint(token),
		UpstreamCredential: s.upstream[s.intn(len(s.upstream))],
	}, nil
}

// UpstreamCount reports the size of the upstream credential pool.
func (s *Selector) UpstreamCount() int { return len(s.upstream) }

func (s *Selector) matches(token string) bool {
	if s.callerHash == "" {
		return subtle.ConstantTimeCompare([]byte(token), s.callerKey) == 1
	}
	digest := sha256.Sum256([]byte(token))
	if _, ok := s.verified.Load(digest); ok {
		return true
	}
	ok, err := VerifyKey(token, s.callerHash)
	if err != nil || !ok {
		return false
	}
	s.verified.Store(digest, struct{}{})
	return true
}

// ExtractToken strips a "Bearer" or "Key" scheme (any case) from an
// Authorization header value. A value without a scheme is returned as is.
func ExtractToken(header string) string {
	header = strings.TrimSpace(header)
	scheme, rest, found := strings.Cut(header, " ")
	if !found {
		return header
	}
	switch strings.ToLower(scheme) {
	case "bearer", "key":
		return strings.TrimSpace(rest)
	default:
		return header
	}
}

// Fingerprint returns a short, non-reversible identifier for a secret.
func Fingerprint(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:8])
}
