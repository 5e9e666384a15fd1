// Package auth issues and checks the bearer tokens used by the agent API and by the
// calls to the order backend.
package auth

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

const DefaultTTL = 12 * time.Hour

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

type Claims struct {
	DriverID string `json:"driver_id"`
	TenantID string `json:"tenant_id,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret []byte, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{secret: secret, ttl: ttl, now: time.Now}
}

func (s *Signer) WithClock(now func() time.Time) *Signer {
	if now != nil {
		s.now = now
	}
	return s
}

// Issue подписывает HS256 токен для водителя.
func (s *Signer) Issue(c Claims) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(exp)
	if c.Subject == "" {
		c.Subject = c.DriverID
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "sign token")
	}
	return tok, exp, nil
}

func (s *Signer) Parse(raw string) (*Claims, error) {
	var c Claims
	tok, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidToken, "%v", err)
	}
	if !tok.Valid {
		return nil, ErrInvalidToken
	}
	if c.DriverID == "" {
		return nil, errors.Wrap(ErrInvalidToken, "no driver_id claim")
	}
	return &c, nil
}

func BearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", ErrMissingToken
	}
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tok) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(tok), nil
}

type ctxKey struct{}

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Claims)
	return c, ok && c != nil
}

// Middleware отклоняет запрос без валидного токена, иначе кладёт claims в контекст.
func (s *Signer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := BearerToken(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := s.Parse(raw)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), c)))
	})
}

// ServiceTokens выпускает токен агента для обращений к бэкенду и переиспользует
// его, пока до истечения больше минуты.
type ServiceTokens struct {
	signer *Signer
	claims Claims

	mu  sync.Mutex
	tok string
	exp time.Time
}

func NewServiceTokens(signer *Signer, claims Claims) *ServiceTokens {
	return &ServiceTokens{signer: signer, claims: claims}
}

func (t *ServiceTokens) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tok != "" && t.signer.now().Add(time.Minute).Before(t.exp) {
		return t.tok, nil
	}
	tok, exp, err := t.signer.Issue(t.claims)
	if err != nil {
		return "", err
	}
	t.tok, t.exp = tok, exp
	return tok, nil
}
