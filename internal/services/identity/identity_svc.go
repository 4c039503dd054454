package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is a resolved principal: a stable userId plus a display name.
type Identity struct {
	UserID      string
	DisplayName string
}

var ErrIdentityRejected = errors.New("identity rejected")

// IIdentityService resolves a connecting principal before the session layer
// ever sees it. Tokens are HMAC JWTs carrying sub (userId) and name claims;
// anonymous resolution from caller-supplied hints is an explicit opt-in.
type IIdentityService interface {
	Resolve(ctx context.Context, token, userIDHint, nameHint string) (*Identity, error)
}

type identityService struct {
	secret         []byte
	allowAnonymous bool
}

func NewIdentityService(secret string, allowAnonymous bool) IIdentityService {
	return &identityService{secret: []byte(secret), allowAnonymous: allowAnonymous}
}

func (svc *identityService) Resolve(_ context.Context, token, userIDHint, nameHint string) (*Identity, error) {
	if token != "" {
		return svc.resolveToken(token)
	}
	if svc.allowAnonymous && userIDHint != "" {
		name := nameHint
		if name == "" {
			name = userIDHint
		}
		return &Identity{UserID: userIDHint, DisplayName: name}, nil
	}
	return nil, ErrIdentityRejected
}

type claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

func (svc *identityService) resolveToken(token string) (*Identity, error) {
	if len(svc.secret) == 0 {
		return nil, fmt.Errorf("%w: token auth not configured", ErrIdentityRejected)
	}

	cl := &claims{}
	_, err := jwt.ParseWithClaims(token, cl,
		func(t *jwt.Token) (any, error) { return svc.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityRejected, err)
	}
	if cl.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrIdentityRejected)
	}

	name := cl.Name
	if name == "" {
		name = cl.Subject
	}
	return &Identity{UserID: cl.Subject, DisplayName: name}, nil
}
