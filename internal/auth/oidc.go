package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"

	"github.com/fruitsalade/drivegate/internal/logging"
)

// OIDCVerifier validates ID tokens issued by an OIDC provider.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers issuer. An empty clientID skips the audience
// check.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider init: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{
		ClientID:          clientID,
		SkipClientIDCheck: clientID == "",
	})

	logging.Info("OIDC provider initialized",
		zap.String("issuer", issuer),
		zap.String("client_id", clientID))

	return &OIDCVerifier{verifier: verifier}, nil
}

// Verify checks the token signature, issuer, audience and expiry and
// returns its raw claims.
func (o *OIDCVerifier) Verify(ctx context.Context, tokenStr string) (map[string]any, error) {
	idToken, err := o.verifier.Verify(ctx, tokenStr)
	if err != nil {
		return nil, err
	}
	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse oidc claims: %w", err)
	}
	if _, ok := claims["sub"]; !ok {
		claims["sub"] = idToken.Subject
	}
	return claims, nil
}
