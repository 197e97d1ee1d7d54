package secrets

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/levenlabs/go-lflag"
)

// ErrAuth is returned when the credential store can't be reached or refuses
// our token.
var ErrAuth = errors.New("failed to authenticate with credential store")

// ErrNotFound is returned when there is no secret at the requested path.
var ErrNotFound = errors.New("secret not found")

// Provider returns the login credentials for an energy system.
type Provider interface {
	// Credentials returns the key/value pairs stored at path. An empty path
	// uses the provider's configured default.
	Credentials(ctx context.Context, path string) (map[string]string, error)
}

// Configured sets up the credential provider based on flags.
func Configured() Provider {
	provider := lflag.String("secrets-provider", "vault", "Credential provider to use (available: vault, none)")
	static := map[string]string{}
	lflag.JSON(&static, "static-credentials", static, "JSON map of credentials used when secrets-provider is none")

	var p struct{ Provider }

	v := configuredVault()

	lflag.Do(func() {
		switch *provider {
		case "vault":
			if err := v.Validate(); err != nil {
				panic(fmt.Sprintf("vault validation failed: %v", err))
			}
			if err := v.Init(); err != nil {
				panic(fmt.Sprintf("vault init failed: %v", err))
			}
			p.Provider = v
		case "none":
			p.Provider = Static(static)
		default:
			panic(fmt.Sprintf("unknown secrets provider: %s", *provider))
		}
	})

	return &p
}

// Static is a Provider that returns the same credentials for every path.
type Static map[string]string

// Credentials returns a copy of the static credentials.
func (s Static) Credentials(ctx context.Context, path string) (map[string]string, error) {
	return maps.Clone(map[string]string(s)), nil
}
