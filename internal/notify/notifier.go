package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"taskbeat/internal/core"
)

// Sender delivers one message through one channel.
type Sender interface {
	Send(ctx context.Context, ch core.Channel, title, body string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, ch core.Channel, title, body string) error

func (f SenderFunc) Send(ctx context.Context, ch core.Channel, title, body string) error {
	return f(ctx, ch, title, body)
}

// Config controls outbound delivery.
type Config struct {
	SendTimeout time.Duration
	RatePerSec  int
}

// Dispatcher fans a message out to channels. It is safe for concurrent use.
type Dispatcher struct {
	senders map[core.ChannelKind]Sender
	limiter *rate.Limiter
	timeout time.Duration
	logger  zerolog.Logger
}

var _ core.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher with no senders registered.
func NewDispatcher(cfg Config, logger zerolog.Logger) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	return &Dispatcher{
		senders: make(map[core.ChannelKind]Sender),
		// Token bucket: burst = rate per sec, so short spikes don't block too hard.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		timeout: cfg.SendTimeout,
		logger:  logger,
	}
}

// Register sets the sender for a channel kind. Call before dispatching.
func (d *Dispatcher) Register(kind core.ChannelKind, sender Sender) {
	d.senders[kind] = sender
}

// Dispatch sends through every channel in order. The overall result succeeds
// if at least one channel delivered.
func (d *Dispatcher) Dispatch(ctx context.Context, channels []core.Channel, title, body string) core.DispatchResult {
	res := core.DispatchResult{}
	if len(channels) == 0 {
		res.Error = "no notification channel configured"
		return res
	}
	var failures []string
	for _, ch := range channels {
		err := d.sendOne(ctx, ch, title, body)
		outcome := core.ChannelOutcome{Kind: ch.Kind}
		if err != nil {
			outcome.Error = err.Error()
			failures = append(failures, fmt.Sprintf("%s: %v", ch.Kind, err))
			d.logger.Warn().Str("channel", string(ch.Kind)).Err(err).Msg("channel send failed")
		} else {
			res.Success = true
		}
		res.Outcomes = append(res.Outcomes, outcome)
	}
	if !res.Success {
		res.Error = strings.Join(failures, "; ")
	}
	return res
}

func (d *Dispatcher) sendOne(ctx context.Context, ch core.Channel, title, body string) (err error) {
	sender, ok := d.senders[ch.Kind]
	if !ok {
		return fmt.Errorf("channel %q is not supported", ch.Kind)
	}
	sctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.limiter.Wait(sctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	return sender.Send(sctx, ch, title, body)
}

// NoOpSender does nothing.
type NoOpSender struct{}

func (NoOpSender) Send(ctx context.Context, ch core.Channel, title, body string) error {
	return nil
}
