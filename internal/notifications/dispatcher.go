// Package notifications renders named notification templates and hands the result to a
// transport without blocking the caller.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/SimelweN/ReBookedSolutions-sub005/internal/services"
)

const defaultSendTimeout = 5 * time.Second

// ErrUnknownTemplate indicates the notification names a template that is not registered.
var ErrUnknownTemplate = errors.New("notifications: unknown template")

// Message is a rendered notification ready for delivery.
type Message struct {
	ID        string                       `json:"id"`
	Template  string                       `json:"template"`
	Channel   services.NotificationChannel `json:"channel"`
	Recipient string                       `json:"recipient"`
	OrderID   string                       `json:"orderId,omitempty"`
	Subject   string                       `json:"subject"`
	Body      string                       `json:"body"`
	CreatedAt time.Time                    `json:"createdAt"`
}

// Transport delivers rendered messages (Pub/Sub topic, AMQP exchange, ...).
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// DispatcherConfig configures the dispatcher.
type DispatcherConfig struct {
	Transport   Transport
	SendTimeout time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// Dispatcher implements services.Notifier.
type Dispatcher struct {
	transport Transport
	templates map[string]messageTemplate
	sanitizer *bluemonday.Policy
	timeout   time.Duration
	now       func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

var _ services.Notifier = (*Dispatcher)(nil)

// NewDispatcher parses the built-in templates and validates the transport.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Transport == nil {
		return nil, errors.New("notifications: transport is required")
	}
	printer := message.NewPrinter(language.English)
	templates, err := parseTemplates(template.FuncMap{
		"money": func(amount any, code any) string {
			return formatMoney(printer, amount, code)
		},
	})
	if err != nil {
		return nil, err
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := cfg.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}

	return &Dispatcher{
		transport: cfg.Transport,
		templates: templates,
		sanitizer: bluemonday.StrictPolicy(),
		timeout:   timeout,
		now:       func() time.Time { return clock().UTC() },
		newID:     idGen,
		logger:    logger,
	}, nil
}

// Notify renders the notification and sends it in the background. Failures are logged.
func (d *Dispatcher) Notify(ctx context.Context, n services.Notification) {
	msg, err := d.Render(n)
	if err != nil {
		d.logger(ctx, "notification.render_failed", map[string]any{
			"template": n.Template,
			"orderId":  n.OrderID,
			"error":    err.Error(),
		})
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger(ctx, "notification.dropped", map[string]any{"template": n.Template, "reason": "dispatcher closed"})
		return
	}

	sendCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		callCtx, cancel := context.WithTimeout(sendCtx, d.timeout)
		defer cancel()
		if err := d.transport.Send(callCtx, msg); err != nil {
			d.logger(sendCtx, "notification.send_failed", map[string]any{
				"messageId": msg.ID,
				"template":  msg.Template,
				"recipient": msg.Recipient,
				"error":     err.Error(),
			})
			return
		}
		d.logger(sendCtx, "notification.sent", map[string]any{
			"messageId": msg.ID,
			"template":  msg.Template,
			"channel":   string(msg.Channel),
		})
	}()
}

// Render produces the message for a notification without sending it.
func (d *Dispatcher) Render(n services.Notification) (Message, error) {
	tmpl, ok := d.templates[n.Template]
	if !ok {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, n.Template)
	}
	recipient := strings.TrimSpace(n.Recipient)
	if recipient == "" {
		return Message{}, errors.New("notifications: recipient is required")
	}
	vars := d.sanitize(n.Variables)

	subject, err := execute(tmpl.subject, vars)
	if err != nil {
		return Message{}, fmt.Errorf("render subject: %w", err)
	}
	body, err := execute(tmpl.body, vars)
	if err != nil {
		return Message{}, fmt.Errorf("render body: %w", err)
	}

	channel := n.Channel
	if channel == "" {
		channel = services.NotificationChannelEmail
	}
	return Message{
		ID:        d.newID(),
		Template:  n.Template,
		Channel:   channel,
		Recipient: recipient,
		OrderID:   strings.TrimSpace(n.OrderID),
		Subject:   subject,
		Body:      body,
		CreatedAt: d.now(),
	}, nil
}

// Close stops accepting notifications and waits for in-flight sends.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sanitize strips markup from user-supplied strings such as listing titles and reasons.
func (d *Dispatcher) sanitize(vars map[string]any) map[string]any {
	out := make(map[string]any, len(vars))
	for key, value := range vars {
		if s, ok := value.(string); ok {
			out[key] = strings.TrimSpace(d.sanitizer.Sanitize(s))
			continue
		}
		out[key] = value
	}
	return out
}

func formatMoney(printer *message.Printer, amount any, code any) string {
	var cents int64
	switch v := amount.(type) {
	case int64:
		cents = v
	case int:
		cents = int64(v)
	case float64:
		cents = int64(v)
	default:
		return fmt.Sprint(amount)
	}
	iso := strings.ToUpper(strings.TrimSpace(fmt.Sprint(code)))
	if iso == "" || iso == "<NIL>" {
		iso = "ZAR"
	}
	unit, err := currency.ParseISO(iso)
	if err != nil {
		return printer.Sprintf("%s %.2f", iso, float64(cents)/100)
	}
	return printer.Sprint(currency.Symbol(unit.Amount(float64(cents) / 100)))
}
