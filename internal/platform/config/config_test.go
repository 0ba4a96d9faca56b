package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "apostella-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.PubSub.ProjectID != "apostella-dev" {
		t.Errorf("expected pubsub project to default to firestore project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.RateLimits.DefaultPerMinute != 120 {
		t.Errorf("unexpected default rate limit: %d", cfg.RateLimits.DefaultPerMinute)
	}
	if cfg.RateLimits.SendPerWindow != 10 {
		t.Errorf("unexpected default send limit: %d", cfg.RateLimits.SendPerWindow)
	}
	if cfg.Confirmations.AddressTTL != 7*24*time.Hour {
		t.Errorf("unexpected default address ttl: %s", cfg.Confirmations.AddressTTL)
	}
	if cfg.Confirmations.EmbassyTTL != 14*24*time.Hour {
		t.Errorf("unexpected default embassy ttl: %s", cfg.Confirmations.EmbassyTTL)
	}
	if cfg.Confirmations.QuoteTTL != 0 {
		t.Errorf("expected quotes without expiry by default, got %s", cfg.Confirmations.QuoteTTL)
	}
	if cfg.Shipping.Provider != "mock" {
		t.Errorf("expected default shipping provider mock, got %s", cfg.Shipping.Provider)
	}
	if cfg.Notifications.Strategy != "outbox" {
		t.Errorf("expected default notification strategy outbox, got %s", cfg.Notifications.Strategy)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":               "9090",
		"API_SERVER_READ_TIMEOUT":       "20s",
		"API_SERVER_WRITE_TIMEOUT":      "25s",
		"API_SERVER_IDLE_TIMEOUT":       "2m",
		"API_FIRESTORE_PROJECT_ID":      "apostella-prod",
		"API_PUBSUB_PROJECT_ID":         "apostella-msg",
		"API_PUBSUB_EMAIL_TOPIC":        "customer-emails",
		"API_RATELIMIT_DEFAULT_PER_MIN": "150",
		"API_RATELIMIT_SEND_PER_WINDOW": "5",
		"API_RATELIMIT_SEND_WINDOW":     "30s",
		"API_CONFIRM_PUBLIC_BASE_URL":   "https://staging.apostella.se",
		"API_CONFIRM_ADDRESS_TTL":       "72h",
		"API_CONFIRM_EMBASSY_TTL":       "240h",
		"API_CONFIRM_QUOTE_TTL":         "720h",
		"API_SHIPPING_PROVIDER":         "dhl",
		"API_SHIPPING_DHL_API_KEY":      "secret://shipping/dhl",
		"API_NOTIFY_STRATEGY":           "pubsub",
		"API_NOTIFY_FROM":               "orders@apostella.se",
		"API_NOTIFY_CONTACT_EMAIL":      "info@apostella.se",
		"API_ADMIN_HMAC_SECRET":         "secret://admin/hmac",
	}

	secrets := map[string]string{
		"secret://shipping/dhl": "dhl-key",
		"secret://admin/hmac":   "admin-signing-key",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.PubSub.ProjectID != "apostella-msg" {
		t.Errorf("unexpected pubsub project %s", cfg.PubSub.ProjectID)
	}
	if cfg.RateLimits.SendPerWindow != 5 || cfg.RateLimits.SendWindow != 30*time.Second {
		t.Errorf("unexpected send rate limit %d/%s", cfg.RateLimits.SendPerWindow, cfg.RateLimits.SendWindow)
	}
	if cfg.Confirmations.PublicBaseURL != "https://staging.apostella.se" {
		t.Errorf("unexpected base url %s", cfg.Confirmations.PublicBaseURL)
	}
	if cfg.Confirmations.AddressTTL != 72*time.Hour {
		t.Errorf("unexpected address ttl %s", cfg.Confirmations.AddressTTL)
	}
	if cfg.Confirmations.QuoteTTL != 720*time.Hour {
		t.Errorf("unexpected quote ttl %s", cfg.Confirmations.QuoteTTL)
	}
	if cfg.Shipping.Provider != "dhl" {
		t.Errorf("unexpected shipping provider %s", cfg.Shipping.Provider)
	}
	if cfg.Shipping.DHLAPIKey != "dhl-key" {
		t.Errorf("expected resolved dhl api key, got %s", cfg.Shipping.DHLAPIKey)
	}
	if cfg.Notifications.Strategy != "pubsub" {
		t.Errorf("unexpected notification strategy %s", cfg.Notifications.Strategy)
	}
	if cfg.Notifications.FromAddress != "orders@apostella.se" {
		t.Errorf("unexpected from address %s", cfg.Notifications.FromAddress)
	}
	if cfg.Admin.HMACSecret != "admin-signing-key" {
		t.Errorf("expected resolved admin hmac secret, got %s", cfg.Admin.HMACSecret)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nAPI_FIRESTORE_PROJECT_ID=apostella-dot\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firestore.ProjectID != "apostella-dot" {
		t.Errorf("expected firestore project from dotenv, got %s", cfg.Firestore.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

func TestLoadRejectsUnknownStrategies(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "apostella-dev",
		"API_SHIPPING_PROVIDER":    "pigeon",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error for unknown shipping provider")
	}
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "apostella-dev",
		"API_SHIPPING_PROVIDER":    "dhl",
		"API_SHIPPING_DHL_API_KEY": "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIRESTORE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIRESTORE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	overrides := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "override-project",
		"API_SECRET_VERSION_PINS":  "secret://shipping/dhl=5",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["API_FIRESTORE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
	if got := values["API_SECRET_VERSION_PINS"]; got != "secret://shipping/dhl=5" {
		t.Fatalf("expected override version pin, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "apostella-dev",
	}

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Shipping.DHLAPIKey"),
	)
	if err == nil {
		t.Fatal("expected missing secrets error, got nil")
	}
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	expectedRedacted := redactSecretName("Shipping.DHLAPIKey")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "apostella-dev",
	}

	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic when required secrets missing")
		}
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if len(missing.Names()) != 1 || missing.Names()[0] != "Shipping.DHLAPIKey" {
			t.Fatalf("unexpected missing secrets %v", missing.Names())
		}
	}()

	Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Shipping.DHLAPIKey"),
		WithPanicOnMissingSecrets(),
	)
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "apostella-dev",
		"API_SHIPPING_PROVIDER":    "dhl",
		"API_SHIPPING_DHL_API_KEY": "sm://shipping/dhl",
	}

	secrets := map[string]string{
		"secret://shipping/dhl": "legacy-secret",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errors.New("not found")}
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Shipping.DHLAPIKey != "legacy-secret" {
		t.Fatalf("expected legacy secret, got %s", cfg.Shipping.DHLAPIKey)
	}
}
