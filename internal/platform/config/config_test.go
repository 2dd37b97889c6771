package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"API_FIRESTORE_PROJECT_ID": "sgm-dev",
		"API_GATEWAY_TMN_CODE":     "SGMTEST1",
		"API_GATEWAY_HASH_SECRET":  "plain-secret",
		"API_GATEWAY_RETURN_URL":   "https://shop.example.com/payments/vnpay/return",
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(baseEnv()), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Environment != "local" {
		t.Errorf("expected default environment local, got %s", cfg.Environment)
	}
	if cfg.Pricing.TaxRatePercent != 10 {
		t.Errorf("unexpected default tax rate: %d", cfg.Pricing.TaxRatePercent)
	}
	if cfg.Pricing.FreeShippingThreshold != 5_000_000 {
		t.Errorf("unexpected default free shipping threshold: %d", cfg.Pricing.FreeShippingThreshold)
	}
	if cfg.Pricing.ShippingFlatFee != 30_000 {
		t.Errorf("unexpected default shipping fee: %d", cfg.Pricing.ShippingFlatFee)
	}
	if cfg.Loyalty.PointValue != 1_000 {
		t.Errorf("unexpected default point value: %d", cfg.Loyalty.PointValue)
	}
	if cfg.Loyalty.EarnAmount != 100_000 {
		t.Errorf("unexpected default earn amount: %d", cfg.Loyalty.EarnAmount)
	}
	if cfg.Gateway.Endpoint != defaultGatewayEndpoint {
		t.Errorf("unexpected default gateway endpoint: %s", cfg.Gateway.Endpoint)
	}
	if cfg.Gateway.Locale != "vn" {
		t.Errorf("unexpected default gateway locale: %s", cfg.Gateway.Locale)
	}
	if cfg.Gateway.Expiry != 15*time.Minute {
		t.Errorf("unexpected default gateway expiry: %s", cfg.Gateway.Expiry)
	}
	if cfg.Events.ProjectID != "sgm-dev" {
		t.Errorf("expected events project to default to firestore project, got %s", cfg.Events.ProjectID)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := baseEnv()
	env["API_SERVER_PORT"] = "9090"
	env["API_SERVER_IDLE_TIMEOUT"] = "2m"
	env["API_ENVIRONMENT"] = "PROD"
	env["API_PRICING_TAX_RATE_PERCENT"] = "8"
	env["API_PRICING_FREE_SHIPPING_THRESHOLD"] = "2000000"
	env["API_PRICING_SHIPPING_FLAT_FEE"] = "25000"
	env["API_LOYALTY_POINT_VALUE"] = "500"
	env["API_LOYALTY_EARN_AMOUNT"] = "50000"
	env["API_GATEWAY_HASH_SECRET"] = "secret://vnpay/hash"
	env["API_GATEWAY_EXPIRY"] = "10m"
	env["API_EVENTS_PROJECT_ID"] = "sgm-events"
	env["API_EVENTS_TOPIC"] = "order-events"

	secrets := map[string]string{
		"secret://vnpay/hash": "resolved-hash-secret",
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
	if cfg.Environment != "prod" {
		t.Errorf("expected environment prod, got %s", cfg.Environment)
	}
	if cfg.Pricing.TaxRatePercent != 8 {
		t.Errorf("unexpected tax rate: %d", cfg.Pricing.TaxRatePercent)
	}
	if cfg.Pricing.FreeShippingThreshold != 2_000_000 {
		t.Errorf("unexpected free shipping threshold: %d", cfg.Pricing.FreeShippingThreshold)
	}
	if cfg.Loyalty.PointValue != 500 {
		t.Errorf("unexpected point value: %d", cfg.Loyalty.PointValue)
	}
	if cfg.Gateway.HashSecret != "resolved-hash-secret" {
		t.Errorf("expected resolved hash secret, got %s", cfg.Gateway.HashSecret)
	}
	if cfg.Gateway.Expiry != 10*time.Minute {
		t.Errorf("unexpected gateway expiry: %s", cfg.Gateway.Expiry)
	}
	if cfg.Events.ProjectID != "sgm-events" {
		t.Errorf("unexpected events project: %s", cfg.Events.ProjectID)
	}
	if cfg.Events.Topic != "order-events" {
		t.Errorf("unexpected events topic: %s", cfg.Events.Topic)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\n" +
		"API_FIRESTORE_PROJECT_ID=sgm-dot\n" +
		"API_GATEWAY_TMN_CODE=SGMDOT01\n" +
		"API_GATEWAY_HASH_SECRET=dot-secret\n" +
		"API_GATEWAY_RETURN_URL=https://shop.example.com/return\n"
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
	if cfg.Firestore.ProjectID != "sgm-dot" {
		t.Errorf("expected firestore project from dotenv, got %s", cfg.Firestore.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	fields := validation.Fields()
	found := false
	for _, field := range fields {
		if field == "Gateway.TmnCode" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Gateway.TmnCode in missing fields, got %v", fields)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := baseEnv()
	env["API_GATEWAY_HASH_SECRET"] = "secret://missing"

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
		"API_SECRET_VERSION_PINS":  "secret://vnpay/hash=5",
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
	if got := values["API_SECRET_VERSION_PINS"]; got != "secret://vnpay/hash=5" {
		t.Fatalf("expected override version pin, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := baseEnv()

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Gateway.MissingSecret"),
	)
	if err == nil {
		t.Fatal("expected missing secrets error, got nil")
	}
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	if names := missing.Names(); len(names) != 1 || names[0] != "Gateway.MissingSecret" {
		t.Fatalf("unexpected missing secrets %v", names)
	}
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := baseEnv()
	env["API_GATEWAY_HASH_SECRET"] = "sm://vnpay/hash"

	secrets := map[string]string{
		"secret://vnpay/hash": "legacy-secret",
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
	if cfg.Gateway.HashSecret != "legacy-secret" {
		t.Fatalf("expected legacy secret, got %s", cfg.Gateway.HashSecret)
	}
}
