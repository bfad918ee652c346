package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Storage.Driver != DriverMemory || cfg.Ledger.Driver != DriverMemory || cfg.Counters.Driver != DriverMemory {
		t.Errorf("expected memory drivers, got %s/%s/%s", cfg.Storage.Driver, cfg.Ledger.Driver, cfg.Counters.Driver)
	}
	if cfg.Notifier.Driver != DriverNone {
		t.Errorf("expected notifier none, got %s", cfg.Notifier.Driver)
	}
	if cfg.Schedule.Location == nil || cfg.Schedule.Location.String() != "Europe/Paris" {
		t.Errorf("unexpected location %v", cfg.Schedule.Location)
	}
	expectedDays := []time.Weekday{time.Sunday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday}
	if !reflect.DeepEqual(cfg.Schedule.WorkingDays, expectedDays) {
		t.Errorf("unexpected working days %v", cfg.Schedule.WorkingDays)
	}
	if !reflect.DeepEqual(cfg.Schedule.SlotHours, []int{12, 13, 14, 18, 19, 20, 21}) {
		t.Errorf("unexpected slots %v", cfg.Schedule.SlotHours)
	}
	if cfg.Ordering.MinimumOrder != 1500 || cfg.Ordering.DeliveryFee != 1500 {
		t.Errorf("unexpected ordering config %+v", cfg.Ordering)
	}
	if cfg.Ordering.SinkTimeout != defaultSinkTimeout {
		t.Errorf("unexpected sink timeout %s", cfg.Ordering.SinkTimeout)
	}
	if cfg.Webhook.SignatureHeader != defaultSignatureHeader {
		t.Errorf("expected default signature header, got %s", cfg.Webhook.SignatureHeader)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if cfg.Catalog.DefaultLanguage != "en" || cfg.Catalog.StaffLanguage != "ru" {
		t.Errorf("unexpected catalog languages %+v", cfg.Catalog)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"BOT_SERVER_PORT":           "9090",
		"BOT_SERVER_IDLE_TIMEOUT":   "2m",
		"BOT_STORAGE_DRIVER":        "redis",
		"BOT_REDIS_ADDR":            "127.0.0.1:6379",
		"BOT_REDIS_PASSWORD":        "secret://redis/password",
		"BOT_LEDGER_DRIVER":         "firestore",
		"BOT_COUNTER_DRIVER":        "firestore",
		"BOT_FIRESTORE_PROJECT_ID":  "sushi-prod",
		"BOT_NOTIFIER_DRIVER":       "pubsub",
		"BOT_PUBSUB_TOPIC":          "orders",
		"BOT_SCHEDULE_TIMEZONE":     "Europe/Kyiv",
		"BOT_SCHEDULE_WORKING_DAYS": "Monday, fri, sat",
		"BOT_SCHEDULE_OPEN_HOUR":    "10",
		"BOT_SCHEDULE_CLOSE_HOUR":   "20",
		"BOT_SCHEDULE_SLOTS":        "19, 10, 12",
		"BOT_ORDER_MINIMUM":         "3000",
		"BOT_ORDER_DELIVERY_FEE":    "0",
		"BOT_ORDER_CURRENCY":        "uah",
		"BOT_WEBHOOK_SECRET":        "secret://webhook/secret",
		"BOT_WEBHOOK_CLOCK_SKEW":    "3m",
		"BOT_IDEMPOTENCY_TTL":       "48h",
	}

	secrets := map[string]string{
		"secret://redis/password": "redis-pass",
		"secret://webhook/secret": "webhook-secret",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("not found")
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
	if cfg.Redis.Password != "redis-pass" {
		t.Errorf("expected resolved redis password, got %s", cfg.Redis.Password)
	}
	if cfg.Webhook.Secret != "webhook-secret" {
		t.Errorf("expected resolved webhook secret, got %s", cfg.Webhook.Secret)
	}
	if cfg.Notifier.PubSub.ProjectID != "sushi-prod" {
		t.Errorf("expected pubsub project to default to firestore project, got %s", cfg.Notifier.PubSub.ProjectID)
	}
	if !reflect.DeepEqual(cfg.Schedule.WorkingDays, []time.Weekday{time.Monday, time.Friday, time.Saturday}) {
		t.Errorf("unexpected working days %v", cfg.Schedule.WorkingDays)
	}
	if !reflect.DeepEqual(cfg.Schedule.SlotHours, []int{19, 10, 12}) {
		t.Errorf("expected slots in configured order, got %v", cfg.Schedule.SlotHours)
	}
	if cfg.Ordering.MinimumOrder != 3000 || cfg.Ordering.DeliveryFee != 0 || cfg.Ordering.Currency != "UAH" {
		t.Errorf("unexpected ordering %+v", cfg.Ordering)
	}
	if cfg.Webhook.ClockSkew != 3*time.Minute {
		t.Errorf("unexpected clock skew %s", cfg.Webhook.ClockSkew)
	}
	if cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency ttl %s", cfg.Idempotency.TTL)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "# local overrides\nexport BOT_SERVER_PORT=7070\nBOT_ORDER_MINIMUM=\"2500\"\n"
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
	if cfg.Ordering.MinimumOrder != 2500 {
		t.Errorf("expected minimum from dotenv, got %d", cfg.Ordering.MinimumOrder)
	}
}

func TestLoadRejectsInvalidConfiguration(t *testing.T) {
	env := map[string]string{
		"BOT_STORAGE_DRIVER":      "redis",
		"BOT_LEDGER_DRIVER":       "sheets",
		"BOT_NOTIFIER_DRIVER":     "kafka",
		"BOT_SCHEDULE_TIMEZONE":   "Mars/Olympus",
		"BOT_SCHEDULE_OPEN_HOUR":  "12",
		"BOT_SCHEDULE_CLOSE_HOUR": "14",
		"BOT_SCHEDULE_SLOTS":      "11,12",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T (%v)", err, err)
	}

	fields := make(map[string]bool)
	for _, field := range validation.Fields() {
		fields[field] = true
	}
	for _, want := range []string{
		"Redis.Addr",
		"Ledger.Driver",
		"Notifier.Kafka.Brokers",
		"Notifier.Kafka.Topic",
		"Schedule.Timezone",
		"Schedule.SlotHours",
	} {
		if !fields[want] {
			t.Errorf("expected %s in %v", want, validation.Fields())
		}
	}
}

func TestLoadCounterDriverFollowsLedger(t *testing.T) {
	env := map[string]string{
		"BOT_LEDGER_DRIVER":        "firestore",
		"BOT_FIRESTORE_PROJECT_ID": "sushi-prod",
	}
	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Counters.Driver != DriverFirestore {
		t.Fatalf("expected counters to follow the firestore ledger, got %s", cfg.Counters.Driver)
	}

	env["BOT_COUNTER_DRIVER"] = "memory"
	cfg, err = Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Counters.Driver != DriverMemory {
		t.Fatalf("expected explicit counter driver to win, got %s", cfg.Counters.Driver)
	}
}

func TestLoadAllowsZeroWorkingDays(t *testing.T) {
	env := map[string]string{"BOT_SCHEDULE_WORKING_DAYS": "none"}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(cfg.Schedule.WorkingDays) != 0 {
		t.Fatalf("expected no working days, got %v", cfg.Schedule.WorkingDays)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"BOT_WEBHOOK_SECRET": "secret://missing",
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

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := map[string]string{
		"BOT_WEBHOOK_SECRET": "sm://webhook/secret",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "secret://webhook/secret" {
			return "legacy-secret", nil
		}
		return "", errors.New("not found")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Webhook.Secret != "legacy-secret" {
		t.Fatalf("expected legacy secret, got %s", cfg.Webhook.Secret)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "BOT_FIRESTORE_PROJECT_ID=dot-project\nBOT_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("BOT_FIRESTORE_PROJECT_ID", "os-project")
	t.Setenv("BOT_SECRET_PROJECT_IDS", "prod=project-prod")

	overrides := map[string]string{
		"BOT_FIRESTORE_PROJECT_ID": "override-project",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["BOT_FIRESTORE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["BOT_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["BOT_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
}
