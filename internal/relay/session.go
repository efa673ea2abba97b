package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"storefront/internal/metrics"
	"storefront/internal/models"
)

const (
	DefaultGrace   = 3 * time.Second
	DefaultTimeout = 30 * time.Second

	defaultFileName = "results.json"
	noTextFallback  = "No text in response"
)

var (
	// ErrTimeout means the peer sent nothing usable before the deadline
	ErrTimeout = errors.New("relay peer did not reply in time")
	// ErrBusy means another query held the session until the caller gave up
	ErrBusy = errors.New("relay session busy")
	// ErrUnavailable means the transport is not connected
	ErrUnavailable = errors.New("relay session unavailable")
)

// Config tunes a Session
type Config struct {
	// Command prefixes every outbound query, e.g. "/lookup"
	Command string
	Grace   time.Duration
	Timeout time.Duration
}

// Session forwards queries to the relay peer and aggregates its multi-part reply.
// One query is in flight at a time.
type Session struct {
	transport Transport
	clock     clock.Clock
	cfg       Config
	sem       chan struct{}
	ready     atomic.Bool
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewSession creates a relay session over an established transport
func NewSession(transport Transport, clk clock.Clock, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Session {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	s := &Session{
		transport: transport,
		clock:     clk,
		cfg:       cfg,
		sem:       make(chan struct{}, 1),
		metrics:   m,
		logger:    logger,
	}
	s.ready.Store(true)
	return s
}

// SetReady marks whether the transport is connected.
// Queries fail with ErrUnavailable while it is not.
func (s *Session) SetReady(ready bool) {
	s.ready.Store(ready)
}

// ComposeCommand renders the outbound text for a query
func ComposeCommand(prefix string, q models.RelayQuery) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(" Name: ")
	b.WriteString(strings.TrimSpace(q.Name))
	if city := strings.TrimSpace(q.City); city != "" {
		b.WriteString(", City: ")
		b.WriteString(city)
	}
	b.WriteString(", State: ")
	b.WriteString(strings.TrimSpace(q.State))
	return b.String()
}

// IsStatusMessage reports progress chatter that is not a reply
func IsStatusMessage(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(text, "⏳") ||
		strings.Contains(lower, "searching") ||
		strings.Contains(lower, "please wait")
}

type download struct {
	data []byte
	name string
	err  error
}

// collector is the aggregation state of one query
type collector struct {
	text     string
	haveText bool
	file     []byte
	fileName string
	pending  int
}

func (c *collector) result() models.RelayResult {
	res := models.RelayResult{Text: c.text}
	if len(c.file) > 0 {
		res.File = c.file
		res.FileName = c.fileName
		if res.FileName == "" {
			res.FileName = defaultFileName
		}
		if res.Text == "" {
			res.Text = noTextFallback
		}
	}
	return res
}

// Query sends q to the peer and waits for the aggregated reply.
//
// The first non-status text starts a grace period for a follow-up attachment.
// A finished attachment download completes the query at once. At the deadline a
// captured text is returned without file; otherwise ErrTimeout.
func (s *Session) Query(ctx context.Context, q models.RelayQuery) (models.RelayResult, error) {
	if !s.ready.Load() {
		return models.RelayResult{}, ErrUnavailable
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return models.RelayResult{}, fmt.Errorf("%w: %v", ErrBusy, ctx.Err())
	}
	defer func() { <-s.sem }()

	queryID := uuid.NewString()
	logger := s.logger.With(zap.String("query_id", queryID))
	start := s.clock.Now()

	res, err := s.query(ctx, q, logger)

	result := "ok"
	switch {
	case errors.Is(err, ErrTimeout):
		result = "timeout"
	case err != nil:
		result = "error"
	case res.HasFile():
		result = "ok_file"
	}
	s.metrics.RelayQueries.WithLabelValues(result).Inc()
	s.metrics.RelayLatency.Observe(s.clock.Since(start).Seconds())
	logger.Info("Relay query finished",
		zap.String("result", result),
		zap.Duration("elapsed", s.clock.Since(start)),
	)
	return res, err
}

func (s *Session) query(ctx context.Context, q models.RelayQuery, logger *zap.Logger) (models.RelayResult, error) {
	peerID, err := s.transport.PeerID(ctx)
	if err != nil {
		return models.RelayResult{}, fmt.Errorf("failed to resolve relay peer: %w", err)
	}

	// subscribe before sending so a fast reply is not lost
	msgs, unsubscribe := s.transport.Subscribe()
	defer unsubscribe()

	if err := s.transport.SendText(ctx, ComposeCommand(s.cfg.Command, q)); err != nil {
		return models.RelayResult{}, fmt.Errorf("failed to send relay query: %w", err)
	}

	deadline := s.clock.NewTimer(s.cfg.Timeout)
	defer deadline.Stop()

	var (
		c      collector
		grace  clock.Timer
		graceC <-chan time.Time
	)
	defer func() {
		if grace != nil {
			grace.Stop()
		}
	}()

	// buffered so a download finishing after we return never blocks
	downloads := make(chan download, 1)

	for {
		select {
		case m, ok := <-msgs:
			if !ok {
				return models.RelayResult{}, errors.New("relay subscription closed")
			}
			if m.SenderID != peerID {
				continue
			}
			if IsStatusMessage(m.Text) {
				logger.Debug("Skipping status message", zap.String("text", m.Text))
				continue
			}

			if m.Document != nil && c.pending == 0 && len(c.file) == 0 {
				c.pending++
				go s.download(context.WithoutCancel(ctx), m.Document, downloads)
			}

			if !c.haveText && m.Text != "" {
				c.text = m.Text
				c.haveText = true
				grace = s.clock.NewTimer(s.cfg.Grace)
				graceC = grace.C()
			}

		case d := <-downloads:
			c.pending--
			if d.err != nil {
				logger.Warn("Failed to download relay attachment", zap.Error(d.err))
				if c.haveText && graceC == nil {
					return c.result(), nil
				}
				continue
			}
			c.file, c.fileName = d.data, d.name
			return c.result(), nil

		case <-graceC:
			graceC = nil
			if c.pending == 0 {
				return c.result(), nil
			}
			logger.Debug("Grace period over, waiting for attachment download")

		case <-deadline.C():
			if c.haveText {
				logger.Warn("Relay deadline reached, returning text without attachment")
				return models.RelayResult{Text: c.text}, nil
			}
			return models.RelayResult{}, ErrTimeout

		case <-ctx.Done():
			return models.RelayResult{}, ctx.Err()
		}
	}
}

func (s *Session) download(ctx context.Context, doc *Document, out chan<- download) {
	data, err := s.transport.Download(ctx, doc)
	out <- download{data: data, name: doc.FileName, err: err}
}
