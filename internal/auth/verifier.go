package auth

import (
	"context"
	"fmt"

	"github.com/weiawesome/melo-live/internal/domain"
	"github.com/weiawesome/melo-live/pkg/jwt"
)

// JWTVerifier validates HS256 access tokens signed by the auth service and
// resolves the identity behind them. Failure is terminal for the connection
// attempt; callers never retry.
type JWTVerifier struct {
	manager *jwt.Manager
}

func NewJWTVerifier(manager *jwt.Manager) *JWTVerifier {
	return &JWTVerifier{manager: manager}
}

func (v *JWTVerifier) Verify(ctx context.Context, credential string) (domain.Identity, error) {
	if credential == "" {
		return domain.Identity{}, fmt.Errorf("%w: no credential presented", domain.ErrAuthFailure)
	}

	claims, err := v.manager.ValidateToken(credential)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrAuthFailure, err)
	}

	if claims.UserID == "" {
		return domain.Identity{}, fmt.Errorf("%w: token has no subject", domain.ErrAuthFailure)
	}

	return domain.Identity{
		UserID:   claims.UserID,
		Username: claims.Username,
		Roles:    claims.Roles,
	}, nil
}
