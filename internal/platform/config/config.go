package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

const (
	defaultEnvFile          = ".env"
	defaultPort             = "8080"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 30 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultEnvironment      = "local"
	defaultStorageDriver    = DriverMemory
	defaultLedgerDriver     = DriverMemory
	defaultNotifierDriver   = DriverNone
	defaultRedisKeyPrefix   = "sushi-bot"
	defaultRedisSessionTTL  = 72 * time.Hour
	defaultOrdersCollection = "orders"
	defaultTimezone         = "Europe/Paris"
	defaultWorkingDays      = "tue,wed,thu,fri,sat,sun"
	defaultOpenHour         = 11
	defaultCloseHour        = 22
	defaultSlots            = "12,13,14,18,19,20,21"
	defaultHorizonDays      = 7
	defaultMinimumOrder     = 1500
	defaultDeliveryFee      = 1500
	defaultSinkTimeout      = 10 * time.Second
	defaultMenuPath         = "configs/menu.yaml"
	defaultLocalesDir       = "configs/locales"
	defaultLanguage         = "en"
	defaultStaffLanguage    = "ru"
	defaultSignatureHeader  = "X-Signature"
	defaultTimestampHeader  = "X-Signature-Timestamp"
	defaultNonceHeader      = "X-Signature-Nonce"
	defaultClockSkew        = 5 * time.Minute
	defaultNonceTTL         = 5 * time.Minute
	defaultIdempotencyTTL   = 24 * time.Hour
)

// Storage and sink drivers.
const (
	DriverNone      = "none"
	DriverMemory    = "memory"
	DriverRedis     = "redis"
	DriverFirestore = "firestore"
	DriverPubSub    = "pubsub"
	DriverKafka     = "kafka"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	Server      ServerConfig
	Storage     StorageConfig
	Ledger      LedgerConfig
	Counters    CounterConfig
	Redis       RedisConfig
	Firestore   FirestoreConfig
	Notifier    NotifierConfig
	Schedule    ScheduleConfig
	Ordering    OrderingConfig
	Catalog     CatalogConfig
	Webhook     WebhookConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// StorageConfig selects where carts and sessions live.
type StorageConfig struct {
	Driver string
}

// LedgerConfig selects the durable order ledger.
type LedgerConfig struct {
	Driver           string
	OrdersCollection string
}

// CounterConfig selects the daily order number authority.
type CounterConfig struct {
	Driver string
}

// RedisConfig stores connection parameters for the Redis backed stores.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	KeyPrefix  string
	SessionTTL time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// NotifierConfig selects the staff notification channel.
type NotifierConfig struct {
	Driver string
	PubSub PubSubConfig
	Kafka  KafkaConfig
}

// PubSubConfig identifies the Pub/Sub topic receiving order notifications.
type PubSubConfig struct {
	ProjectID string
	TopicID   string
}

// KafkaConfig identifies the Kafka topic receiving order notifications.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// ScheduleConfig describes the working calendar used to offer delivery days and slots.
type ScheduleConfig struct {
	Timezone    string
	Location    *time.Location
	WorkingDays []time.Weekday
	OpenHour    int
	CloseHour   int
	SlotHours   []int
	HorizonDays int
}

// OrderingConfig holds business rules applied at checkout. Amounts are minor units.
type OrderingConfig struct {
	MinimumOrder int64
	DeliveryFee  int64
	Currency     string
	SinkTimeout  time.Duration
}

// CatalogConfig points at the menu and locale files shipped with the binary.
type CatalogConfig struct {
	MenuPath        string
	LocalesDir      string
	DefaultLanguage string
	StaffLanguage   string
}

// WebhookConfig captures inbound transport signing expectations.
type WebhookConfig struct {
	Secret          string
	SignatureHeader string
	TimestampHeader string
	NonceHeader     string
	ClockSkew       time.Duration
	NonceTTL        time.Duration
}

// IdempotencyConfig controls duplicate event suppression.
type IdempotencyConfig struct {
	TTL time.Duration
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map. Values in the map take precedence
// over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// EnvironmentValues returns the effective environment after applying the same precedence
// as Load (dotenv < OS env < explicit map). main uses it to build the secret resolver
// before loading the configuration proper.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(dotEnv))
	for key, value := range dotEnv {
		values[key] = value
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[key] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles the configuration from defaults, .env overrides, environment variables
// and optional Secret Manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)

	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}

	var invalid []string

	// Order numbers follow the ledger unless a counter store is chosen explicitly.
	ledgerDriver := strings.ToLower(stringWithDefault(lookup, "BOT_LEDGER_DRIVER", defaultLedgerDriver))

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "BOT_ENVIRONMENT", defaultEnvironment)),
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "BOT_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "BOT_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "BOT_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "BOT_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(stringWithDefault(lookup, "BOT_STORAGE_DRIVER", defaultStorageDriver)),
		},
		Ledger: LedgerConfig{
			Driver:           ledgerDriver,
			OrdersCollection: stringWithDefault(lookup, "BOT_LEDGER_COLLECTION", defaultOrdersCollection),
		},
		Counters: CounterConfig{
			Driver: strings.ToLower(stringWithDefault(lookup, "BOT_COUNTER_DRIVER", ledgerDriver)),
		},
		Redis: RedisConfig{
			Addr:       stringWithDefault(lookup, "BOT_REDIS_ADDR", ""),
			Password:   stringWithDefault(lookup, "BOT_REDIS_PASSWORD", ""),
			DB:         intWithDefault(lookup, "BOT_REDIS_DB", 0),
			KeyPrefix:  stringWithDefault(lookup, "BOT_REDIS_KEY_PREFIX", defaultRedisKeyPrefix),
			SessionTTL: durationWithDefault(lookup, "BOT_REDIS_SESSION_TTL", defaultRedisSessionTTL),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "BOT_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "BOT_FIRESTORE_EMULATOR_HOST", ""),
		},
		Notifier: NotifierConfig{
			Driver: strings.ToLower(stringWithDefault(lookup, "BOT_NOTIFIER_DRIVER", defaultNotifierDriver)),
			PubSub: PubSubConfig{
				ProjectID: stringWithDefault(lookup, "BOT_PUBSUB_PROJECT_ID", ""),
				TopicID:   stringWithDefault(lookup, "BOT_PUBSUB_TOPIC", ""),
			},
			Kafka: KafkaConfig{
				Brokers: csvWithDefault(lookup, "BOT_KAFKA_BROKERS"),
				Topic:   stringWithDefault(lookup, "BOT_KAFKA_TOPIC", ""),
			},
		},
		Schedule: ScheduleConfig{
			Timezone:    stringWithDefault(lookup, "BOT_SCHEDULE_TIMEZONE", defaultTimezone),
			OpenHour:    intWithDefault(lookup, "BOT_SCHEDULE_OPEN_HOUR", defaultOpenHour),
			CloseHour:   intWithDefault(lookup, "BOT_SCHEDULE_CLOSE_HOUR", defaultCloseHour),
			HorizonDays: intWithDefault(lookup, "BOT_SCHEDULE_HORIZON_DAYS", defaultHorizonDays),
		},
		Ordering: OrderingConfig{
			MinimumOrder: int64WithDefault(lookup, "BOT_ORDER_MINIMUM", defaultMinimumOrder),
			DeliveryFee:  int64WithDefault(lookup, "BOT_ORDER_DELIVERY_FEE", defaultDeliveryFee),
			Currency:     strings.ToUpper(stringWithDefault(lookup, "BOT_ORDER_CURRENCY", "")),
			SinkTimeout:  durationWithDefault(lookup, "BOT_ORDER_SINK_TIMEOUT", defaultSinkTimeout),
		},
		Catalog: CatalogConfig{
			MenuPath:        stringWithDefault(lookup, "BOT_MENU_PATH", defaultMenuPath),
			LocalesDir:      stringWithDefault(lookup, "BOT_LOCALES_DIR", defaultLocalesDir),
			DefaultLanguage: strings.ToLower(stringWithDefault(lookup, "BOT_DEFAULT_LANGUAGE", defaultLanguage)),
			StaffLanguage:   strings.ToLower(stringWithDefault(lookup, "BOT_STAFF_LANGUAGE", defaultStaffLanguage)),
		},
		Webhook: WebhookConfig{
			Secret:          stringWithDefault(lookup, "BOT_WEBHOOK_SECRET", ""),
			SignatureHeader: stringWithDefault(lookup, "BOT_WEBHOOK_HEADER_SIGNATURE", defaultSignatureHeader),
			TimestampHeader: stringWithDefault(lookup, "BOT_WEBHOOK_HEADER_TIMESTAMP", defaultTimestampHeader),
			NonceHeader:     stringWithDefault(lookup, "BOT_WEBHOOK_HEADER_NONCE", defaultNonceHeader),
			ClockSkew:       durationWithDefault(lookup, "BOT_WEBHOOK_CLOCK_SKEW", defaultClockSkew),
			NonceTTL:        durationWithDefault(lookup, "BOT_WEBHOOK_NONCE_TTL", defaultNonceTTL),
		},
		Idempotency: IdempotencyConfig{
			TTL: durationWithDefault(lookup, "BOT_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
	}

	if loc, err := time.LoadLocation(cfg.Schedule.Timezone); err == nil {
		cfg.Schedule.Location = loc
	} else {
		invalid = append(invalid, "Schedule.Timezone")
	}
	if days, err := parseWeekdays(stringWithDefault(lookup, "BOT_SCHEDULE_WORKING_DAYS", defaultWorkingDays)); err == nil {
		cfg.Schedule.WorkingDays = days
	} else {
		invalid = append(invalid, "Schedule.WorkingDays")
	}
	if slots, err := parseHours(stringWithDefault(lookup, "BOT_SCHEDULE_SLOTS", defaultSlots)); err == nil {
		cfg.Schedule.SlotHours = slots
	} else {
		invalid = append(invalid, "Schedule.SlotHours")
	}

	// Pub/Sub and Firestore usually share the GCP project.
	if cfg.Notifier.PubSub.ProjectID == "" {
		cfg.Notifier.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	secret, err := resolveSecret(ctx, cfg.Webhook.Secret, options.secret)
	if err != nil {
		return Config{}, err
	}
	cfg.Webhook.Secret = secret
	password, err := resolveSecret(ctx, cfg.Redis.Password, options.secret)
	if err != nil {
		return Config{}, err
	}
	cfg.Redis.Password = password

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}

	switch cfg.Storage.Driver {
	case DriverMemory:
	case DriverRedis:
		if cfg.Redis.Addr == "" {
			missing = append(missing, "Redis.Addr")
		}
	default:
		missing = append(missing, "Storage.Driver")
	}

	needsFirestore := false
	switch cfg.Ledger.Driver {
	case DriverMemory:
	case DriverFirestore:
		needsFirestore = true
	default:
		missing = append(missing, "Ledger.Driver")
	}
	switch cfg.Counters.Driver {
	case DriverMemory:
	case DriverFirestore:
		needsFirestore = true
	case DriverRedis:
		if cfg.Redis.Addr == "" {
			missing = append(missing, "Redis.Addr")
		}
	default:
		missing = append(missing, "Counters.Driver")
	}
	if needsFirestore && cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}

	switch cfg.Notifier.Driver {
	case DriverNone:
	case DriverPubSub:
		if cfg.Notifier.PubSub.ProjectID == "" {
			missing = append(missing, "Notifier.PubSub.ProjectID")
		}
		if cfg.Notifier.PubSub.TopicID == "" {
			missing = append(missing, "Notifier.PubSub.TopicID")
		}
	case DriverKafka:
		if len(cfg.Notifier.Kafka.Brokers) == 0 {
			missing = append(missing, "Notifier.Kafka.Brokers")
		}
		if cfg.Notifier.Kafka.Topic == "" {
			missing = append(missing, "Notifier.Kafka.Topic")
		}
	default:
		missing = append(missing, "Notifier.Driver")
	}

	sched := cfg.Schedule
	if sched.OpenHour < 0 || sched.CloseHour > 24 || sched.OpenHour >= sched.CloseHour {
		missing = append(missing, "Schedule.Hours")
	}
	for _, hour := range sched.SlotHours {
		if hour < sched.OpenHour || hour >= sched.CloseHour {
			missing = append(missing, "Schedule.SlotHours")
			break
		}
	}
	if sched.HorizonDays <= 0 {
		missing = append(missing, "Schedule.HorizonDays")
	}

	if cfg.Ordering.MinimumOrder < 0 {
		missing = append(missing, "Ordering.MinimumOrder")
	}
	if cfg.Ordering.DeliveryFee < 0 {
		missing = append(missing, "Ordering.DeliveryFee")
	}
	if cfg.Ordering.SinkTimeout <= 0 {
		missing = append(missing, "Ordering.SinkTimeout")
	}
	if strings.TrimSpace(cfg.Catalog.MenuPath) == "" {
		missing = append(missing, "Catalog.MenuPath")
	}
	if strings.TrimSpace(cfg.Catalog.LocalesDir) == "" {
		missing = append(missing, "Catalog.LocalesDir")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: dedupe(missing)}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// parseWeekdays accepts a comma separated list of weekday names; an empty list is legal.
func parseWeekdays(raw string) ([]time.Weekday, error) {
	seen := make(map[time.Weekday]bool)
	days := []time.Weekday{}
	for _, part := range strings.Split(raw, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" || name == DriverNone {
			continue
		}
		day, ok := weekdayNames[name]
		if !ok {
			return nil, fmt.Errorf("config: unknown weekday %q", name)
		}
		if !seen[day] {
			seen[day] = true
			days = append(days, day)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days, nil
}

func parseHours(raw string) ([]int, error) {
	hours := []int{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		hour, err := strconv.Atoi(part)
		if err != nil || hour < 0 || hour > 23 {
			return nil, fmt.Errorf("config: invalid slot hour %q", part)
		}
		hours = append(hours, hour)
	}
	return hours, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func int64WithDefault(lookup func(string) (string, bool), key string, fallback int64) int64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
