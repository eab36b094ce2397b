package forward

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"fleetguard/internal/config"
)

type natsSink struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
}

func newNATSSink(cfg config.ForwardNATSConfig) (Sink, error) {
	if cfg.URL == "" || cfg.Subject == "" {
		return nil, errors.New("nats forward requires url and subject")
	}
	conn, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, err
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &natsSink{conn: conn, js: js, subject: cfg.Subject}, nil
}

func (s *natsSink) Send(ctx context.Context, _ string, payload []byte) error {
	_, err := s.js.Publish(ctx, s.subject, payload)
	return err
}

func (s *natsSink) Close() error {
	s.conn.Close()
	return nil
}
