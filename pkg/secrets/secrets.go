// Package secrets resolves credentials from Vault KV, AWS Secrets Manager or
// the process environment.
package secrets

import (
	"context"
	"os"
	"strings"
	"time"

	"pobbin/cfg"
	"pobbin/svc/util"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	vault "github.com/hashicorp/vault/api"
	"github.com/pkg/errors"
)

var (
	ErrProviderUnavailable = errors.New("secret provider unavailable")
	ErrNotFound            = errors.New("secret not found")
)

const lookupTimeout = 10 * time.Second

type Provider interface {
	GetSecret(ctx context.Context, key string) (string, error)
}

// Resolver asks the primary provider first. With failClosed set, a primary
// error other than ErrNotFound is returned instead of consulting the fallback.
type Resolver struct {
	primary    Provider
	fallback   Provider
	failClosed bool
}

func NewResolver(primary, fallback Provider, failClosed bool) *Resolver {
	return &Resolver{primary: primary, fallback: fallback, failClosed: failClosed}
}

// FromEnv picks providers the way deployments configure them: Vault when
// VAULT_ADDR is set, otherwise Secrets Manager when AWS_REGION is set, with
// the environment as fallback unless SECRETS_REQUIRE_PRIMARY=true.
func FromEnv(ctx context.Context) (*Resolver, error) {
	requirePrimary := strings.ToLower(os.Getenv("SECRETS_REQUIRE_PRIMARY")) == "true"
	var primary Provider
	if os.Getenv("VAULT_ADDR") != "" {
		vp, err := newVaultProvider(ctx)
		if err != nil {
			util.Warn().Err(err).Msg("vault unavailable")
		} else {
			primary = vp
		}
	}
	if primary == nil && os.Getenv("AWS_REGION") != "" {
		ap, err := newAWSProvider(ctx)
		if err != nil {
			util.Warn().Err(err).Msg("secrets manager unavailable")
		} else {
			primary = ap
		}
	}
	if primary == nil && requirePrimary {
		return nil, errors.New("SECRETS_REQUIRE_PRIMARY=true but neither Vault nor Secrets Manager is available")
	}
	var fallback Provider
	if !requirePrimary {
		fallback = Env{}
	}
	failClosed := os.Getenv("SECRETS_FAIL_CLOSED") != "false"
	return NewResolver(primary, fallback, failClosed), nil
}

func (r *Resolver) GetSecret(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	if r.primary != nil {
		val, err := r.primary.GetSecret(ctx, key)
		if err == nil && val != "" {
			return val, nil
		}
		if err != nil && !errors.Is(err, ErrNotFound) && r.failClosed {
			return "", errors.Wrapf(err, "get secret %s (fail-closed)", key)
		}
	}
	if r.fallback != nil {
		return r.fallback.GetSecret(ctx, key)
	}
	if r.primary != nil {
		return "", errors.Wrap(ErrNotFound, key)
	}
	return "", ErrProviderUnavailable
}

// Fill replaces every target whose key the provider knows. Keys it does not
// know keep their current value. It returns how many targets were filled.
func Fill(ctx context.Context, p Provider, targets map[string]*cfg.Secret) (int, error) {
	n := 0
	for key, dst := range targets {
		val, err := p.GetSecret(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		dst.Wipe()
		*dst = cfg.NewSecret(val)
		n++
	}
	return n, nil
}

type vaultProvider struct {
	client     *vault.Client
	secretPath string
}

func newVaultProvider(ctx context.Context) (*vaultProvider, error) {
	vc := vault.DefaultConfig()
	vc.Address = os.Getenv("VAULT_ADDR")
	vc.Timeout = 5 * time.Second
	client, err := vault.NewClient(vc)
	if err != nil {
		return nil, err
	}
	if tokenFile := os.Getenv("VAULT_TOKEN_FILE"); tokenFile != "" {
		tokenBytes, err := os.ReadFile(tokenFile)
		if err != nil {
			return nil, errors.Wrap(err, "read VAULT_TOKEN_FILE")
		}
		client.SetToken(strings.TrimSpace(string(tokenBytes)))
	} else if token := os.Getenv("VAULT_TOKEN"); token != "" {
		client.SetToken(token)
	}
	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := client.Sys().HealthWithContext(healthCtx); err != nil {
		return nil, errors.Wrap(err, "vault health check failed")
	}
	return &vaultProvider{
		client:     client,
		secretPath: getEnvOrDefault("VAULT_SECRET_PATH", "secret/data/pobbin"),
	}, nil
}

// GetSecret reads a KV v2 entry at <secretPath>/<key> and returns its "value" field.
func (v *vaultProvider) GetSecret(ctx context.Context, key string) (string, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, v.secretPath+"/"+key)
	if err != nil {
		return "", err
	}
	if secret == nil || secret.Data == nil {
		return "", errors.Wrap(ErrNotFound, key)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", errors.New("vault: invalid secret format")
	}
	value, ok := data["value"].(string)
	if !ok {
		return "", errors.Wrap(ErrNotFound, key)
	}
	return value, nil
}

type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type awsProvider struct {
	client secretsManagerAPI
	prefix string
}

func newAWSProvider(ctx context.Context) (*awsProvider, error) {
	ac, err := config.LoadDefaultConfig(ctx, config.WithRegion(os.Getenv("AWS_REGION")))
	if err != nil {
		return nil, err
	}
	return &awsProvider{
		client: secretsmanager.NewFromConfig(ac),
		prefix: getEnvOrDefault("AWS_SECRET_PREFIX", "pobbin/"),
	}, nil
}

func (a *awsProvider) GetSecret(ctx context.Context, key string) (string, error) {
	id := a.prefix + key
	out, err := a.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &id})
	if err != nil {
		var nf *smtypes.ResourceNotFoundException
		if errors.As(err, &nf) {
			return "", errors.Wrap(ErrNotFound, key)
		}
		return "", errors.Wrapf(err, "get secret %s", id)
	}
	if out.SecretString == nil {
		return "", errors.New("secret is binary, not string")
	}
	return *out.SecretString, nil
}

// Env reads secrets straight from the process environment.
type Env struct{}

func (Env) GetSecret(ctx context.Context, key string) (string, error) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return "", errors.Wrap(ErrNotFound, key)
	}
	return val, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
