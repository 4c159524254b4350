package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/tcriess/geonote-chat/config"
	"github.com/tcriess/geonote-chat/globals"
)

var ErrNoEmail = errors.New("id token has no e-mail claim")

// Authenticate verifies a given OIDC ID-Token using the configured OIDC provider named oidcProvider.
// It returns the user's key (the "email" claim) if verification was successful, or an empty string if no matching
// provider is configured.
func Authenticate(ctx context.Context, idToken, oidcProvider string, cfgs []config.OIDCConfig) (string, error) {
	if idToken == "" || len(cfgs) == 0 {
		return "", nil
	}
	var oidcConf *config.OIDCConfig
	for i := range cfgs {
		if cfgs[i].Name == oidcProvider {
			oidcConf = &cfgs[i]
			break
		}
	}
	if oidcConf == nil {
		globals.AppLogger.Debug("no oidc config found for provider", "provider", oidcProvider)
		return "", nil
	}
	provider, err := oidc.NewProvider(ctx, oidcConf.ProviderUrl)
	if err != nil {
		return "", fmt.Errorf("could not create oidc provider %s: %w", oidcConf.Name, err)
	}
	conf := oidc.Config{}
	if oidcConf.ClientId == "" {
		conf.SkipClientIDCheck = true
	} else {
		conf.ClientID = oidcConf.ClientId
	}
	verifier := provider.Verifier(&conf)
	verifiedIdToken, err := verifier.Verify(ctx, idToken)
	if err != nil {
		return "", fmt.Errorf("could not verify id token: %w", err)
	}

	claims := struct {
		Email string `json:"email"`
	}{}
	err = verifiedIdToken.Claims(&claims)
	if err != nil {
		return "", err
	}
	if claims.Email == "" {
		return "", ErrNoEmail
	}
	globals.AppLogger.Debug("authenticated", "provider", oidcProvider, "email", claims.Email)
	return claims.Email, nil
}
