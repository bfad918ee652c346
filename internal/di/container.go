package di

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	goredis "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/korisu-sushi/sushi-bot/internal/platform/config"
	pfirestore "github.com/korisu-sushi/sushi-bot/internal/platform/firestore"
	"github.com/korisu-sushi/sushi-bot/internal/platform/i18n"
	"github.com/korisu-sushi/sushi-bot/internal/platform/notify"
	"github.com/korisu-sushi/sushi-bot/internal/platform/observability"
	"github.com/korisu-sushi/sushi-bot/internal/repositories"
	firestoreRepo "github.com/korisu-sushi/sushi-bot/internal/repositories/firestore"
	"github.com/korisu-sushi/sushi-bot/internal/repositories/memory"
	redisRepo "github.com/korisu-sushi/sushi-bot/internal/repositories/redis"
	"github.com/korisu-sushi/sushi-bot/internal/services"
)

// SupportedLanguages lists the locale bundles the bot looks for in the locales directory.
var SupportedLanguages = []string{"en", "fr", "uk", "ru"}

// Repositories bundles the storage contracts selected by configuration.
type Repositories struct {
	Carts    repositories.CartRepository
	Sessions repositories.SessionRepository
	Ledger   repositories.OrderLedger
	Counters repositories.OrderCounterRepository
}

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Catalog      services.CatalogService
	Carts        services.CartService
	Counters     services.CounterService
	Orders       services.OrderService
	Checkout     services.CheckoutService
	Conversation services.ConversationService
}

// Container wires repositories, services and backing clients for runtime use.
type Container struct {
	Config       config.Config
	Repositories Repositories
	Services     Services
	Localizer    *i18n.Bundle
	Notifier     services.OrderNotifier
	// Redis is nil unless a Redis backed driver was selected.
	Redis  *goredis.Client
	Health repositories.HealthRepository

	checks  []repositories.DependencyCheck
	closers []func() error
}

// Option customises NewContainer.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	metrics  *observability.Metrics
	clock    func() time.Time
	notifier services.OrderNotifier
	repos    *Repositories
}

// WithLogger sets the base logger. Each service gets a named child.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics records service counters on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock overrides time.Now for every service.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithNotifier bypasses the configured notifier driver.
func WithNotifier(n services.OrderNotifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithRepositories bypasses the configured storage drivers. Nil fields fall back to configuration.
func WithRepositories(r Repositories) Option {
	return func(o *options) { o.repos = &r }
}

// NewContainer constructs the runtime dependencies. On error every client opened so far is closed.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (_ *Container, err error) {
	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.clock == nil {
		o.clock = time.Now
	}

	c := &Container{Config: cfg}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	bundle, err := i18n.Load(cfg.Catalog.LocalesDir, cfg.Catalog.DefaultLanguage, SupportedLanguages)
	if err != nil {
		return nil, fmt.Errorf("load locales: %w", err)
	}
	c.Localizer = bundle

	if err := c.buildRepositories(ctx, o); err != nil {
		return nil, err
	}
	if err := c.buildNotifier(ctx, o); err != nil {
		return nil, err
	}
	if err := c.buildServices(ctx, o); err != nil {
		return nil, err
	}

	health, err := repositories.NewDependencyHealthRepository(c.checks, repositories.WithDependencyClock(o.clock))
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}
	c.Health = health
	return c, nil
}

// Close releases backing clients in reverse order of creation.
func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) onClose(fn func() error) {
	c.closers = append(c.closers, fn)
}

func (c *Container) redisClient() *goredis.Client {
	if c.Redis != nil {
		return c.Redis
	}
	c.Redis = redisRepo.NewClient(c.Config.Redis)
	c.onClose(c.Redis.Close)
	c.checks = append(c.checks, repositories.DependencyCheck{
		Name:    "redis",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			return c.Redis.Ping(ctx).Err()
		},
	})
	return c.Redis
}

func (c *Container) firestoreProvider(provider **pfirestore.Provider) *pfirestore.Provider {
	if *provider != nil {
		return *provider
	}
	p := pfirestore.NewProvider(c.Config.Firestore)
	c.onClose(p.Close)
	c.checks = append(c.checks, repositories.DependencyCheck{
		Name:    "firestore",
		Timeout: 1500 * time.Millisecond,
		Check: func(ctx context.Context) error {
			client, err := p.Client(ctx)
			if err != nil {
				return err
			}
			return probeFirestore(ctx, client)
		},
	})
	*provider = p
	return p
}

func probeFirestore(ctx context.Context, client *firestore.Client) error {
	_, err := client.Collections(ctx).Next()
	if errors.Is(err, iterator.Done) {
		return nil
	}
	return err
}

func (c *Container) buildRepositories(_ context.Context, o options) error {
	cfg := c.Config
	if o.repos != nil {
		c.Repositories = *o.repos
	}
	repos := &c.Repositories
	var provider *pfirestore.Provider

	if repos.Carts == nil || repos.Sessions == nil {
		switch cfg.Storage.Driver {
		case config.DriverRedis:
			client := c.redisClient()
			if repos.Carts == nil {
				repos.Carts = redisRepo.NewCartRepository(client, cfg.Redis.KeyPrefix, cfg.Redis.SessionTTL)
			}
			if repos.Sessions == nil {
				repos.Sessions = redisRepo.NewSessionRepository(client, cfg.Redis.KeyPrefix, cfg.Redis.SessionTTL)
			}
		case config.DriverMemory, "":
			if repos.Carts == nil {
				repos.Carts = memory.NewCartRepository()
			}
			if repos.Sessions == nil {
				repos.Sessions = memory.NewSessionRepository()
			}
		default:
			return fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
		}
	}

	if repos.Ledger == nil {
		switch cfg.Ledger.Driver {
		case config.DriverFirestore:
			ledger, err := firestoreRepo.NewOrderLedger(c.firestoreProvider(&provider), cfg.Ledger.OrdersCollection)
			if err != nil {
				return fmt.Errorf("build order ledger: %w", err)
			}
			repos.Ledger = ledger
		case config.DriverMemory, "":
			repos.Ledger = memory.NewOrderLedger()
		default:
			return fmt.Errorf("unsupported ledger driver %q", cfg.Ledger.Driver)
		}
	}

	if repos.Counters == nil {
		switch cfg.Counters.Driver {
		case config.DriverFirestore:
			counters, err := firestoreRepo.NewCounterRepository(c.firestoreProvider(&provider))
			if err != nil {
				return fmt.Errorf("build counter repository: %w", err)
			}
			repos.Counters = counters
		case config.DriverRedis:
			repos.Counters = redisRepo.NewCounterRepository(c.redisClient(), cfg.Redis.KeyPrefix)
		case config.DriverMemory, "":
			repos.Counters = memory.NewCounterRepository()
		default:
			return fmt.Errorf("unsupported counter driver %q", cfg.Counters.Driver)
		}
	}
	return nil
}

func (c *Container) buildNotifier(ctx context.Context, o options) error {
	if o.notifier != nil {
		c.Notifier = o.notifier
		return nil
	}
	cfg := c.Config.Notifier
	switch cfg.Driver {
	case config.DriverPubSub:
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("create pubsub client: %w", err)
		}
		c.onClose(client.Close)
		topic := client.Topic(cfg.PubSub.TopicID)
		c.onClose(func() error {
			topic.Stop()
			return nil
		})
		publisher, err := notify.NewPubSubPublisher(topic)
		if err != nil {
			return err
		}
		c.Notifier = publisher
		c.checks = append(c.checks, repositories.DependencyCheck{
			Name:     "pubsub",
			Timeout:  2 * time.Second,
			Optional: true,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s not found", cfg.PubSub.TopicID)
				}
				return nil
			},
		})
	case config.DriverKafka:
		writer, err := notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		publisher, err := notify.NewKafkaPublisher(writer)
		if err != nil {
			return err
		}
		c.onClose(publisher.Close)
		c.Notifier = publisher
		brokers := append([]string(nil), cfg.Kafka.Brokers...)
		c.checks = append(c.checks, repositories.DependencyCheck{
			Name:     "kafka",
			Timeout:  2 * time.Second,
			Optional: true,
			Check: func(ctx context.Context) error {
				return dialAnyBroker(ctx, brokers)
			},
		})
	case config.DriverNone, "":
		c.Notifier = notify.NewLogPublisher(o.logger)
	default:
		return fmt.Errorf("unsupported notifier driver %q", cfg.Driver)
	}
	return nil
}

func dialAnyBroker(ctx context.Context, brokers []string) error {
	var errs []error
	dialer := &kafka.Dialer{DualStack: true}
	for _, broker := range brokers {
		broker = strings.TrimSpace(broker)
		if _, _, err := net.SplitHostPort(broker); err != nil {
			errs = append(errs, err)
			continue
		}
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return conn.Close()
	}
	if len(errs) == 0 {
		return errors.New("no kafka brokers configured")
	}
	return errors.Join(errs...)
}

func (c *Container) buildServices(ctx context.Context, o options) error {
	cfg := c.Config
	logger := o.logger
	var metrics services.MetricsRecorder
	if o.metrics != nil {
		metrics = o.metrics
	}

	catalog, err := services.NewCatalogService(ctx, services.CatalogServiceDeps{
		Path:   cfg.Catalog.MenuPath,
		Logger: observability.EventLogger(logger.Named("catalog")),
		Clock:  o.clock,
	})
	if err != nil {
		return fmt.Errorf("build catalog service: %w", err)
	}

	currency := cfg.Ordering.Currency
	if currency == "" {
		currency = catalog.Currency()
	}

	scheduler, err := services.NewScheduler(services.ScheduleConfig{
		Location:    cfg.Schedule.Location,
		WorkingDays: cfg.Schedule.WorkingDays,
		OpenHour:    cfg.Schedule.OpenHour,
		CloseHour:   cfg.Schedule.CloseHour,
		SlotHours:   cfg.Schedule.SlotHours,
	})
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}

	staffLanguage := cfg.Catalog.StaffLanguage
	bundle := c.Localizer
	machine, err := services.NewCheckoutMachine(services.CheckoutMachineConfig{
		Scheduler:    scheduler,
		MinimumOrder: cfg.Ordering.MinimumOrder,
		DeliveryFee:  cfg.Ordering.DeliveryFee,
		Currency:     currency,
		HorizonDays:  cfg.Schedule.HorizonDays,
		TimeLabel: func(_ time.Time, label services.DayLabel, slot services.TimeSlot) string {
			return services.RenderDeliveryTime(bundle, staffLanguage, label, slot)
		},
	})
	if err != nil {
		return fmt.Errorf("build checkout machine: %w", err)
	}

	carts, err := services.NewCartService(services.CartServiceDeps{
		Repository: c.Repositories.Carts,
		Catalog:    catalog,
		Clock:      o.clock,
		Logger:     observability.EventLogger(logger.Named("cart")),
	})
	if err != nil {
		return fmt.Errorf("build cart service: %w", err)
	}

	counters, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: c.Repositories.Counters,
		Ledger:     c.Repositories.Ledger,
		Location:   cfg.Schedule.Location,
		Clock:      o.clock,
		Logger:     observability.EventLogger(logger.Named("counters")),
		Metrics:    metrics,
		Timeout:    cfg.Ordering.SinkTimeout,
	})
	if err != nil {
		return fmt.Errorf("build counter service: %w", err)
	}

	dispatcher, err := services.NewDispatcher(services.DispatcherDeps{
		Ledger:        c.Repositories.Ledger,
		Notifier:      c.Notifier,
		Localizer:     bundle,
		StaffLanguage: staffLanguage,
		Timeout:       cfg.Ordering.SinkTimeout,
		Logger:        observability.EventLogger(logger.Named("dispatch")),
		Metrics:       metrics,
	})
	if err != nil {
		return fmt.Errorf("build dispatcher: %w", err)
	}

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Carts:      carts,
		Counters:   counters,
		Dispatcher: dispatcher,
		Currency:   func() string { return currency },
		Clock:      o.clock,
		Logger:     observability.EventLogger(logger.Named("orders")),
	})
	if err != nil {
		return fmt.Errorf("build order service: %w", err)
	}

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Sessions:        c.Repositories.Sessions,
		Carts:           carts,
		Orders:          orders,
		Machine:         machine,
		DefaultLanguage: bundle.Fallback(),
		Clock:           o.clock,
		Logger:          observability.EventLogger(logger.Named("checkout")),
		Metrics:         metrics,
	})
	if err != nil {
		return fmt.Errorf("build checkout service: %w", err)
	}

	conversation, err := services.NewConversationService(services.ConversationServiceDeps{
		Catalog:   catalog,
		Carts:     carts,
		Checkout:  checkout,
		Machine:   machine,
		Localizer: bundle,
		Languages: bundle,
		Clock:     o.clock,
		Logger:    observability.EventLogger(logger.Named("conversation")),
		Metrics:   metrics,
	})
	if err != nil {
		return fmt.Errorf("build conversation service: %w", err)
	}

	c.Services = Services{
		Catalog:      catalog,
		Carts:        carts,
		Counters:     counters,
		Orders:       orders,
		Checkout:     checkout,
		Conversation: conversation,
	}
	return nil
}
