package secrets

import (
	"context"
	"testing"

	"pobbin/cfg"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/pkg/errors"
)

type mapProvider struct {
	vals  map[string]string
	err   error
	calls int
}

func (m *mapProvider) GetSecret(ctx context.Context, key string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.vals[key]
	if !ok {
		return "", errors.Wrap(ErrNotFound, key)
	}
	return v, nil
}

func TestResolverPrefersPrimary(t *testing.T) {
	primary := &mapProvider{vals: map[string]string{"A": "from-primary"}}
	fallback := &mapProvider{vals: map[string]string{"A": "from-fallback", "B": "only-fallback"}}
	r := NewResolver(primary, fallback, true)

	got, err := r.GetSecret(context.Background(), "A")
	if err != nil || got != "from-primary" {
		t.Fatalf("A = %q, %v", got, err)
	}
	if fallback.calls != 0 {
		t.Error("fallback consulted for a key the primary knows")
	}
	got, err = r.GetSecret(context.Background(), "B")
	if err != nil || got != "only-fallback" {
		t.Fatalf("B = %q, %v", got, err)
	}
}

func TestResolverFailClosed(t *testing.T) {
	primary := &mapProvider{err: errors.New("vault sealed")}
	fallback := &mapProvider{vals: map[string]string{"A": "from-fallback"}}

	if _, err := NewResolver(primary, fallback, true).GetSecret(context.Background(), "A"); err == nil {
		t.Fatal("fail-closed resolver used the fallback")
	}
	got, err := NewResolver(primary, fallback, false).GetSecret(context.Background(), "A")
	if err != nil || got != "from-fallback" {
		t.Fatalf("fail-open resolver = %q, %v", got, err)
	}
}

func TestResolverNoProviders(t *testing.T) {
	_, err := NewResolver(nil, nil, true).GetSecret(context.Background(), "A")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("POBBIN_TEST_SECRET", "s3cret")
	got, err := Env{}.GetSecret(context.Background(), "POBBIN_TEST_SECRET")
	if err != nil || got != "s3cret" {
		t.Fatalf("got %q, %v", got, err)
	}
	if _, err := (Env{}).GetSecret(context.Background(), "POBBIN_TEST_MISSING"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing key err = %v", err)
	}
}

func TestFillConfig(t *testing.T) {
	c := &cfg.Cfg{RedisPassword: cfg.NewSecret("old")}
	p := &mapProvider{vals: map[string]string{
		"REDIS_PASSWORD": "rotated",
		"SENTRY_DSN":     "https://key@sentry.example/1",
	}}
	n, err := Fill(context.Background(), p, c.SecretTargets())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("filled = %d, want 2", n)
	}
	if c.RedisPassword.Value() != "rotated" || c.SentryDSN.Value() == "" {
		t.Errorf("secrets not applied: redis=%q", c.RedisPassword.Value())
	}
	if c.PostgresURL.Value() != "" {
		t.Error("unknown key should leave the field alone")
	}
}

func TestFillStopsOnProviderError(t *testing.T) {
	c := &cfg.Cfg{}
	p := &mapProvider{err: errors.New("timeout")}
	if _, err := Fill(context.Background(), p, c.SecretTargets()); err == nil {
		t.Fatal("expected provider error")
	}
}

type fakeSecretsManager struct {
	vals map[string]string
}

func (f *fakeSecretsManager) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	v, ok := f.vals[*in.SecretId]
	if !ok {
		return nil, &smtypes.ResourceNotFoundException{}
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: &v}, nil
}

func TestAWSProvider(t *testing.T) {
	p := &awsProvider{
		client: &fakeSecretsManager{vals: map[string]string{"pobbin/SENTRY_DSN": "dsn"}},
		prefix: "pobbin/",
	}
	got, err := p.GetSecret(context.Background(), "SENTRY_DSN")
	if err != nil || got != "dsn" {
		t.Fatalf("got %q, %v", got, err)
	}
	if _, err := p.GetSecret(context.Background(), "METRICS_PASS"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing secret err = %v", err)
	}
}
