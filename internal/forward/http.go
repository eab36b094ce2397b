package forward

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"fleetguard/internal/config"
)

type httpSink struct {
	client *http.Client
	url    string
	token  string
}

func newHTTPSink(cfg config.ForwardHTTPConfig) (Sink, error) {
	if cfg.URL == "" {
		return nil, errors.New("http forward requires a url")
	}
	return &httpSink{client: &http.Client{}, url: cfg.URL, token: cfg.Token}, nil
}

func (s *httpSink) Send(ctx context.Context, _ string, payload []byte) error {
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
		return fmt.Errorf("forward endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (s *httpSink) Close() error {
	return nil
}
