// internal/trapper/sender.go
package trapper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/signalnine/trapsender/internal/config"
	"github.com/signalnine/trapsender/internal/protocol"
)

// MaxItemsPerSend is the default chunk size for batch sends
const MaxItemsPerSend = 250

// Options configures a Sender
type Options struct {
	Server          string
	Port            int
	Timeout         time.Duration
	MaxItemsPerSend int
	LLD             LLDOptions
	Codec           *protocol.Codec
	Logger          *slog.Logger
	Observers       []Observer
}

// Sender binds a collector address to a transport and codec.
// A Sender holds no per-send state and may be shared between goroutines.
type Sender struct {
	server    string
	port      int
	maxItems  int
	lld       LLDOptions
	codec     *protocol.Codec
	transport *Transport
	logger    *slog.Logger
	observers []Observer
}

// NewSender creates a sender, filling zero options with defaults
func NewSender(opts Options) *Sender {
	if opts.Server == "" {
		opts.Server = config.DefaultServer
	}
	if opts.Port == 0 {
		opts.Port = config.DefaultPort
	}
	if opts.MaxItemsPerSend <= 0 {
		opts.MaxItemsPerSend = MaxItemsPerSend
	}
	if opts.LLD.KeyTemplate == "" {
		opts.LLD.KeyTemplate = DefaultKeyTemplate
	}
	if opts.Codec == nil {
		opts.Codec = protocol.NewCodec()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sender{
		server:    opts.Server,
		port:      opts.Port,
		maxItems:  opts.MaxItemsPerSend,
		lld:       opts.LLD,
		codec:     opts.Codec,
		transport: NewTransport(opts.Timeout, opts.Codec),
		logger:    opts.Logger,
		observers: opts.Observers,
	}
}

// NewSenderFromConfig creates a sender from the sender section of the config file
func NewSenderFromConfig(cfg config.SenderConfig, logger *slog.Logger, observers ...Observer) *Sender {
	return NewSender(Options{
		Server:          cfg.Server,
		Port:            cfg.Port,
		Timeout:         cfg.Timeout,
		MaxItemsPerSend: cfg.MaxItemsPerSend,
		LLD: LLDOptions{
			KeyTemplate: cfg.LLDKeyTemplate,
			FormatKeys:  cfg.LLDFormatKeys,
		},
		Logger:    logger,
		Observers: observers,
	})
}

// Addr returns the collector address in host:port form
func (s *Sender) Addr() string {
	return net.JoinHostPort(s.server, strconv.Itoa(s.port))
}

// Server returns the collector host
func (s *Sender) Server() string { return s.server }

// Port returns the collector port
func (s *Sender) Port() int { return s.port }

// MaxItems returns the chunk size used by batch sends
func (s *Sender) MaxItems() int { return s.maxItems }

// NewLLD creates a discovery record using the sender's key formatting options
func (s *Sender) NewLLD(host, key string) *LLD {
	return NewLLD(host, key, s.lld)
}

// NewItems creates an empty batch bound to this sender
func (s *Sender) NewItems() *Items {
	return NewItems(s)
}

// SendItems sends items as one exchange, without chunking.
// A reply reporting failed items is returned as data, not as an error.
func (s *Sender) SendItems(ctx context.Context, items []Item) (*Response, error) {
	ex := Exchange{
		ID:    uuid.NewString(),
		At:    time.Now(),
		Addr:  s.Addr(),
		Items: len(items),
	}
	resp, err := s.exchange(ctx, items)
	ex.Duration = time.Since(ex.At)
	ex.Response = resp
	ex.Err = err

	if err != nil {
		s.logger.Error("exchange failed", "exchange_id", ex.ID, "addr", ex.Addr, "items", ex.Items, "error", err)
	} else {
		s.logger.Debug("exchange done", "exchange_id", ex.ID, "addr", ex.Addr, "items", ex.Items,
			"processed", resp.Processed, "failed", resp.Failed, "total", resp.Total, "duration", ex.Duration)
	}
	for _, o := range s.observers {
		o.ObserveExchange(ctx, ex)
	}
	return resp, err
}

func (s *Sender) exchange(ctx context.Context, items []Item) (*Response, error) {
	now := s.codec.Now
	if now == nil {
		now = time.Now
	}
	data := make([]protocol.ItemData, len(items))
	for i, it := range items {
		data[i] = it.data(now)
	}

	frame, err := s.codec.EncodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	raw, err := s.transport.Exchange(ctx, s.Addr(), frame)
	if err != nil {
		return nil, err
	}

	info, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		return nil, err
	}
	status, err := protocol.ParseStatus(info)
	if err != nil {
		return nil, fmt.Errorf("parse status: %w", withRaw(err, string(raw)))
	}
	if !status.Consistent() {
		s.logger.Warn("collector counts do not add up",
			"processed", status.Processed, "failed", status.Failed, "total", status.Total)
	}

	return &Response{
		Processed: status.Processed,
		Failed:    status.Failed,
		Total:     status.Total,
		Seconds:   status.Seconds,
		Raw:       string(raw),
		sender:    s,
	}, nil
}

// withRaw replaces the info line in a parse error with the full reply body
func withRaw(err error, raw string) error {
	if e, ok := err.(*protocol.InvalidResponseError); ok {
		return &protocol.InvalidResponseError{Raw: raw, Err: e.Err}
	}
	return err
}
