package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"pubflow/internal/domain"
)

const (
	DefaultSubject = "pubflow.runs"
	source         = "pubflow"
	version        = "1.0"
)

// Publisher announces finished runs to downstream consumers.
type Publisher interface {
	PublishRun(run domain.RunSummary) error
	Close()
}

type NATSConfig struct {
	URL     string
	Subject string
}

// RunMessage represents the structure sent to NATS
type RunMessage struct {
	Run       domain.RunSummary `json:"run"`
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source"`
	Version   string            `json:"version"`
}

// NewRunMessage wraps a run summary in the published envelope.
func NewRunMessage(run domain.RunSummary, now time.Time) RunMessage {
	return RunMessage{Run: run, Timestamp: now, Source: source, Version: version}
}

type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

var _ Publisher = (*NATSPublisher)(nil)

func NewNATSPublisher(cfg NATSConfig, logger zerolog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("pubflow"))
	if err != nil {
		return nil, err
	}
	subject := cfg.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{conn: nc, subject: subject, logger: logger}, nil
}

func (p *NATSPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

func (p *NATSPublisher) PublishRun(run domain.RunSummary) error {
	data, err := json.Marshal(NewRunMessage(run, time.Now().UTC()))
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return err
	}
	p.logger.Debug().Str("subject", p.subject).Str("run_id", run.ID).Msg("published run summary")
	return nil
}

// Nop drops every summary; used when no NATS URL is configured.
type Nop struct{}

var _ Publisher = Nop{}

func (Nop) PublishRun(domain.RunSummary) error { return nil }
func (Nop) Close()                             {}
