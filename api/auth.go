package api

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"websocket-kanban/domain"
)

const (
	defaultTokenTTL     = 24 * time.Hour
	defaultJWKSCacheTTL = 15 * time.Minute
	clockSkew           = time.Minute
)

// AuthConfig configures credential issuing and verification.
type AuthConfig struct {
	Secret   []byte
	TokenTTL time.Duration
	Issuer   string
	Audience string
	// JWKS, when set, additionally accepts RS256 tokens signed by an external
	// identity provider.
	JWKS         *keyfunc.JWKS
	JWKSCacheTTL time.Duration
}

// Auth issues and validates JWT credentials.
type Auth struct {
	JWKS     *keyfunc.JWKS
	Audience string
	Issuer   string
	Secret   []byte
	TokenTTL time.Duration

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
	now         func() time.Time
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates a new Auth instance. It panics when no signing secret is
// provided since nothing could be issued or verified.
func NewAuth(cfg AuthConfig) *Auth {
	if len(cfg.Secret) == 0 {
		panic("api.NewAuth: secret is empty")
	}
	a := &Auth{
		JWKS:        cfg.JWKS,
		Audience:    cfg.Audience,
		Issuer:      cfg.Issuer,
		Secret:      cfg.Secret,
		TokenTTL:    cfg.TokenTTL,
		keyCacheTTL: cfg.JWKSCacheTTL,
		now:         time.Now,
	}
	if a.TokenTTL <= 0 {
		a.TokenTTL = defaultTokenTTL
	}
	if a.keyCacheTTL <= 0 {
		a.keyCacheTTL = defaultJWKSCacheTTL
	}

	methods := []string{jwt.SigningMethodHS256.Alg()}
	if a.JWKS != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	a.parser = jwt.NewParser(jwt.WithValidMethods(methods))
	return a
}

// Issue mints a signed credential for the user.
func (a *Auth) Issue(u domain.User) (string, error) {
	now := a.now()
	claims := jwt.MapClaims{
		"sub":   u.ID,
		"role":  string(u.Role),
		"email": u.Email,
		"name":  u.Name,
		"iat":   now.Unix(),
		"exp":   now.Add(a.TokenTTL).Unix(),
	}
	if a.Issuer != "" {
		claims["iss"] = a.Issuer
	}
	if a.Audience != "" {
		claims["aud"] = a.Audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
}

// IdentityFromAuthHeader extracts the identity from the Authorization header.
func (a *Auth) IdentityFromAuthHeader(h string) (domain.Identity, error) {
	if h == "" {
		return domain.Identity{}, errMissingAuthorization
	}
	token, err := bearerTokenFromString(h)
	if err != nil {
		return domain.Identity{}, err
	}
	return a.IdentityFromBearer(token)
}

// IdentityFromToken validates a bare JWT, as sent in a query parameter.
func (a *Auth) IdentityFromToken(token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, errMissingAuthorization
	}
	return a.IdentityFromBearer(readOnlyBytes(token))
}

// IdentityFromBearer extracts the identity from a bearer token presented as raw bytes.
func (a *Auth) IdentityFromBearer(token []byte) (domain.Identity, error) {
	if len(token) == 0 {
		return domain.Identity{}, errBadAuthorization
	}

	parsedToken, err := a.parser.Parse(readOnlyString(token), a.keyFunc)
	if err != nil {
		return domain.Identity{}, invalidCredential(err)
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return domain.Identity{}, invalidCredential(errors.New("invalid claims"))
	}

	now := a.now()
	if !claims.VerifyExpiresAt(now.Unix(), true) {
		return domain.Identity{}, invalidCredential(errors.New("token expired"))
	}
	skewed := now.Add(clockSkew).Unix()
	if !claims.VerifyNotBefore(skewed, false) {
		return domain.Identity{}, invalidCredential(errors.New("token not valid yet"))
	}
	if !claims.VerifyIssuedAt(skewed, false) {
		return domain.Identity{}, invalidCredential(errors.New("token used before issued"))
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, true) {
		return domain.Identity{}, invalidCredential(errors.New("invalid audience"))
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, true) {
		return domain.Identity{}, invalidCredential(errors.New("invalid issuer"))
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return domain.Identity{}, invalidCredential(errors.New("missing sub"))
	}

	role := domain.RoleUser
	if raw, present := claims["role"]; present {
		s, _ := raw.(string)
		switch domain.Role(s) {
		case domain.RoleAdmin, domain.RoleUser:
			role = domain.Role(s)
		default:
			return domain.Identity{}, invalidCredential(fmt.Errorf("unknown role %q", s))
		}
	}

	return domain.Identity{UserID: sub, Role: role}, nil
}

func (a *Auth) keyFunc(t *jwt.Token) (any, error) {
	switch t.Method.(type) {
	case *jwt.SigningMethodHMAC:
		return a.Secret, nil
	case *jwt.SigningMethodRSA:
		return a.keyForToken(t)
	default:
		return nil, errors.New("invalid signing method")
	}
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if a.now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: a.now().Add(a.keyCacheTTL)})
	}
	return key, nil
}

func invalidCredential(err error) error {
	if errors.Is(err, domain.ErrInvalidCredential) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrInvalidCredential, err)
}
