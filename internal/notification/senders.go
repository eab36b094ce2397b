package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"fleetguard/internal/config"
	"fleetguard/internal/events"
	"fleetguard/internal/model"
)

const senderTimeout = 10 * time.Second

type Sender interface {
	Send(ctx context.Context, user *model.User, event model.Event, position *model.Position) error
}

func BuildSenders(cfg *config.Config, logger *slog.Logger, ring *events.Ring) map[string]Sender {
	senders := map[string]Sender{
		"web": &WebSender{ring: ring},
	}
	if cfg.Senders.Push.Enabled {
		senders["push"] = NewPushSender(cfg.Senders.Push, logger)
	}
	if cfg.Senders.Mail.Enabled {
		senders["mail"] = NewMailSender(cfg.Senders.Mail, logger)
	}
	if cfg.Senders.SMS.Enabled {
		senders["sms"] = NewSMSSender(cfg.Senders.SMS, logger)
	}
	return senders
}

type PushSender struct {
	logger *slog.Logger
	client *http.Client
	url    string
	token  string
}

func NewPushSender(cfg config.PushSenderConfig, logger *slog.Logger) *PushSender {
	return &PushSender{
		logger: logger,
		client: &http.Client{Timeout: senderTimeout},
		url:    cfg.URL,
		token:  cfg.Token,
	}
}

func (s *PushSender) Send(ctx context.Context, user *model.User, event model.Event, position *model.Position) error {
	return s.SendMessage(ctx, user, BuildMessage(event, position))
}

func (s *PushSender) SendMessage(ctx context.Context, user *model.User, message Message) error {
	if s.url == "" {
		return errors.New("push gateway url not configured")
	}
	tokens := model.SplitCSV(user.Attributes.StringOr("notificationTokens", ""))
	if len(tokens) == 0 {
		return errors.New("user has no notification tokens")
	}
	for _, token := range tokens {
		payload, err := json.Marshal(struct {
			Token string            `json:"token"`
			Title string            `json:"title"`
			Body  string            `json:"body"`
			Data  map[string]string `json:"data,omitempty"`
		}{Token: token, Title: message.Title, Body: message.Body, Data: message.Data})
		if err != nil {
			return err
		}
		if err := s.post(ctx, payload); err != nil {
			return err
		}
	}
	return nil
}

func (s *PushSender) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("push gateway returned %d", resp.StatusCode)
	}
	return nil
}

type MailSender struct {
	logger *slog.Logger
	cfg    config.MailSenderConfig
}

func NewMailSender(cfg config.MailSenderConfig, logger *slog.Logger) *MailSender {
	return &MailSender{logger: logger, cfg: cfg}
}

func (s *MailSender) Send(_ context.Context, user *model.User, event model.Event, position *model.Position) error {
	if s.cfg.Host == "" {
		return errors.New("smtp host not configured")
	}
	if user.Email == "" {
		return errors.New("user has no email address")
	}
	message := BuildMessage(event, position)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	body := strings.Join([]string{
		"From: " + s.cfg.From,
		"To: " + user.Email,
		"Subject: " + message.Title,
		"",
		message.Body,
	}, "\r\n")
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	return smtp.SendMail(addr, auth, s.cfg.From, []string{user.Email}, []byte(body))
}

type SMSSender struct {
	logger *slog.Logger
	client *http.Client
	url    string
	token  string
}

func NewSMSSender(cfg config.SMSSenderConfig, logger *slog.Logger) *SMSSender {
	return &SMSSender{
		logger: logger,
		client: &http.Client{Timeout: senderTimeout},
		url:    cfg.URL,
		token:  cfg.Token,
	}
}

func (s *SMSSender) Send(ctx context.Context, user *model.User, event model.Event, position *model.Position) error {
	if s.url == "" {
		return errors.New("sms gateway url not configured")
	}
	if user.Phone == "" {
		return errors.New("user has no phone number")
	}
	message := BuildMessage(event, position)
	text := message.Title
	if message.Body != "" {
		text += ": " + message.Body
	}
	payload, err := json.Marshal(struct {
		To      string `json:"to"`
		Message string `json:"message"`
	}{To: user.Phone, Message: text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sms gateway returned %d", resp.StatusCode)
	}
	return nil
}

type WebSender struct {
	ring *events.Ring
}

func NewWebSender(ring *events.Ring) *WebSender {
	return &WebSender{ring: ring}
}

func (s *WebSender) Send(_ context.Context, _ *model.User, event model.Event, _ *model.Position) error {
	if s.ring == nil {
		return errors.New("event ring not configured")
	}
	s.ring.Add(event)
	return nil
}
