package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	vault "github.com/hashicorp/vault/api"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/powerwatch/pkg/log"
)

// Vault implements the Provider interface by reading a KV version 1 secret
// from HashiCorp Vault.
type Vault struct {
	addr      string
	token     string
	tokenFile string
	mount     string
	path      string

	mu       sync.Mutex
	client   *vault.Client
	verified bool
}

func defaultVaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vault-token"
	}
	return filepath.Join(home, ".vault-token")
}

// configuredVault sets up the vault provider from flags.
func configuredVault() *Vault {
	addr := lflag.String("vault-addr", os.Getenv("VAULT_ADDR"), "Address of the Vault server")
	token := lflag.String("vault-token", os.Getenv("VAULT_TOKEN"), "Vault token (read from vault-token-file when empty)")
	tokenFile := lflag.String("vault-token-file", defaultVaultTokenFile(), "File containing the Vault token")
	mount := lflag.String("vault-kv-mount", "secret", "Mount path of the KV version 1 secrets engine")
	path := lflag.String("vault-secrets-path", os.Getenv("VAULT_SECRETS_PATH"), "Path of the secret holding the energy system login credentials")

	v := &Vault{}

	lflag.Do(func() {
		v.addr = *addr
		v.token = *token
		v.tokenFile = *tokenFile
		v.mount = *mount
		v.path = *path
	})

	return v
}

// NewVault returns a provider for the Vault server at addr. Call Init before
// use.
func NewVault(addr, token, mount, path string) *Vault {
	return &Vault{
		addr:  addr,
		token: token,
		mount: mount,
		path:  path,
	}
}

// Validate checks if the provider is properly configured.
func (v *Vault) Validate() error {
	if v.addr == "" {
		return errors.New("vault-addr (or VAULT_ADDR) is required")
	}
	if v.mount == "" {
		return errors.New("vault-kv-mount is required")
	}
	return nil
}

// Init creates the Vault client. The token comes from the token flag and
// falls back to the token file.
func (v *Vault) Init() error {
	token := v.token
	if token == "" && v.tokenFile != "" {
		b, err := os.ReadFile(v.tokenFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to read vault token file %s: %w", v.tokenFile, err)
		}
		token = strings.TrimSpace(string(b))
	}
	if token == "" {
		return fmt.Errorf("%w: no vault token (set vault-token or %s)", ErrAuth, v.tokenFile)
	}

	cfg := vault.DefaultConfig()
	if cfg.Error != nil {
		return fmt.Errorf("failed to build vault config: %w", cfg.Error)
	}
	cfg.Address = v.addr
	cfg.MaxRetries = 0
	client, err := vault.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to create vault client (addr=%s): %w", v.addr, err)
	}
	client.SetToken(token)

	v.mu.Lock()
	v.client = client
	v.verified = false
	v.mu.Unlock()
	return nil
}

// verify checks the token once with a self lookup.
func (v *Vault) verify(ctx context.Context) error {
	if v.verified {
		return nil
	}
	secret, err := v.client.Auth().Token().LookupSelfWithContext(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "vault token lookup failed", slog.String("addr", v.addr), slog.Any("error", err))
		return fmt.Errorf("%w: can not authenticate with token to %s: %w", ErrAuth, v.addr, err)
	}
	if secret == nil || secret.Data == nil {
		return fmt.Errorf("%w: can not authenticate with token to %s", ErrAuth, v.addr)
	}
	log.Ctx(ctx).DebugContext(ctx, "authenticated with vault", slog.String("addr", v.addr), slog.Any("displayName", secret.Data["display_name"]))
	v.verified = true
	return nil
}

// Credentials reads the secret at path (or the configured secrets path) and
// returns its values as strings.
func (v *Vault) Credentials(ctx context.Context, path string) (map[string]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.client == nil {
		return nil, fmt.Errorf("%w: vault client not initialized", ErrAuth)
	}
	if path == "" {
		path = v.path
	}
	if path == "" {
		return nil, errors.New("vault-secrets-path (or VAULT_SECRETS_PATH) is required")
	}
	if err := v.verify(ctx); err != nil {
		return nil, err
	}

	secret, err := v.client.KVv1(v.mount).Get(ctx, path)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, v.mount, path)
		}
		return nil, fmt.Errorf("%w: %w", ErrAuth, err)
	}

	creds := make(map[string]string, len(secret.Data))
	for k, val := range secret.Data {
		switch val := val.(type) {
		case string:
			creds[k] = val
		case nil:
		default:
			creds[k] = fmt.Sprint(val)
		}
	}
	log.Ctx(ctx).DebugContext(ctx, "read credentials from vault", slog.String("path", path), slog.Int("keys", len(creds)))
	return creds, nil
}
