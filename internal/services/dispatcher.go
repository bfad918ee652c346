package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	domain "github.com/korisu-sushi/sushi-bot/internal/domain"
	"github.com/korisu-sushi/sushi-bot/internal/repositories"
)

const (
	defaultSinkTimeout = 10 * time.Second
	tracerName         = "github.com/korisu-sushi/sushi-bot/internal/services"
)

// DispatcherDeps bundles the two order sinks and their collaborators.
type DispatcherDeps struct {
	Ledger        repositories.OrderLedger
	Notifier      OrderNotifier
	Localizer     Localizer
	StaffLanguage string
	// Timeout bounds each sink independently. A timeout counts as a failure of that sink only.
	Timeout time.Duration
	Logger  Logger
	Metrics MetricsRecorder
}

type dispatcher struct {
	ledger    repositories.OrderLedger
	notifier  OrderNotifier
	localizer Localizer
	staffLang string
	timeout   time.Duration
	logger    Logger
	metrics   MetricsRecorder
}

// NewDispatcher constructs the dual-sink dispatcher.
func NewDispatcher(deps DispatcherDeps) (OrderDispatcher, error) {
	if deps.Ledger == nil {
		return nil, errors.New("dispatcher: ledger is required")
	}
	if deps.Notifier == nil {
		return nil, errors.New("dispatcher: notifier is required")
	}
	if deps.Localizer == nil {
		return nil, errors.New("dispatcher: localizer is required")
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultSinkTimeout
	}
	lang := strings.TrimSpace(deps.StaffLanguage)
	if lang == "" {
		lang = domain.DefaultLanguage
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	var metrics MetricsRecorder = noopMetrics{}
	if deps.Metrics != nil {
		metrics = deps.Metrics
	}
	return &dispatcher{
		ledger:    deps.Ledger,
		notifier:  deps.Notifier,
		localizer: deps.Localizer,
		staffLang: lang,
		timeout:   timeout,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// Dispatch writes order to both sinks concurrently. It never fails; per-sink errors are in the result.
func (d *dispatcher) Dispatch(ctx context.Context, order Order) DispatchResult {
	// The owner may disconnect after confirming; the order still has to reach staff.
	base := context.WithoutCancel(ctx)
	record := domain.NewLedgerRecord(order)
	notification := OrderNotification{
		Order:    record,
		Currency: order.Currency,
		Language: d.staffLang,
		Summary:  KitchenSummary(d.localizer, d.staffLang, order),
	}

	var result DispatchResult
	var g errgroup.Group
	g.Go(func() error {
		result.Ledger = d.run(base, SinkLedger, order.ID, func(ctx context.Context) error {
			return d.ledger.Append(ctx, record)
		})
		return nil
	})
	g.Go(func() error {
		result.Notification = d.run(base, SinkNotifier, order.ID, func(ctx context.Context) error {
			return d.notifier.PublishOrder(ctx, notification)
		})
		return nil
	})
	_ = g.Wait()

	if result.ManualFollowUp() {
		d.logger(ctx, "order.dispatch.failed", map[string]any{
			"orderID":     order.ID,
			"ledgerError": result.Ledger.Err,
			"notifyError": result.Notification.Err,
		})
	}
	return result
}

func (d *dispatcher) run(ctx context.Context, sink, orderID string, write func(context.Context) error) SinkResult {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "order.dispatch."+sink)
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("order.sink", sink))

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	err := write(ctx)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	elapsed := time.Since(start)
	d.metrics.ObserveSink(sink, err, elapsed)

	if err != nil {
		err = &DownstreamError{Sink: sink, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, sink+" write failed")
		d.logger(ctx, "order."+sink+".write.failed", map[string]any{
			"orderID":  orderID,
			"error":    err,
			"duration": elapsed.String(),
		})
	}
	return SinkResult{Sink: sink, Err: err, Duration: elapsed}
}

// KitchenSummary renders the staff notification text for order in lang.
func KitchenSummary(localizer Localizer, lang string, order Order) string {
	money := func(amount int64) string { return domain.FormatAmount(amount, order.Currency) }
	lines := []string{
		localizer.Render(lang, "kitchen.header", map[string]string{"order_id": order.ID}),
		"",
		localizer.Render(lang, "kitchen.customer", map[string]string{"name": order.CustomerName}),
		localizer.Render(lang, "kitchen.phone", map[string]string{"phone": order.CustomerPhone}),
	}
	if order.Username != "" {
		lines = append(lines, localizer.Render(lang, "kitchen.username", map[string]string{"username": order.Username}))
	}
	if order.DeliveryType == domain.DeliveryTypeDelivery {
		lines = append(lines, localizer.Render(lang, "kitchen.address", map[string]string{"address": order.DeliveryAddress}))
	} else {
		lines = append(lines, localizer.Render(lang, "kitchen.pickup", nil))
	}
	lines = append(lines,
		localizer.Render(lang, "kitchen.time", map[string]string{"time": order.DeliveryTimeLabel}),
		"",
		localizer.Render(lang, "kitchen.items", nil),
	)
	for _, item := range order.Items {
		lines = append(lines, localizer.Render(lang, "kitchen.item", map[string]string{
			"name":     item.Name,
			"quantity": strconv.Itoa(item.Quantity),
			"subtotal": money(item.Subtotal()),
		}))
	}
	lines = append(lines, "")
	if order.DeliveryFee > 0 {
		lines = append(lines,
			localizer.Render(lang, "kitchen.subtotal", map[string]string{"amount": money(order.Subtotal)}),
			localizer.Render(lang, "kitchen.fee", map[string]string{"amount": money(order.DeliveryFee)}),
		)
	}
	lines = append(lines, localizer.Render(lang, "kitchen.total", map[string]string{"amount": money(order.Total)}))
	if order.HasComment() {
		lines = append(lines, localizer.Render(lang, "kitchen.comment", map[string]string{"comment": order.Comment}))
	}
	return strings.Join(lines, "\n")
}
