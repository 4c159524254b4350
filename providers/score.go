package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/geonote-chat/config"
	"github.com/tcriess/geonote-chat/globals"
	"github.com/tcriess/geonote-chat/types"
	"golang.org/x/net/context/ctxhttp"
)

// ServiceError is returned when the scoring service answers with a non-zero status.
type ServiceError struct {
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error (status %d): %s", e.Status, e.Message)
}

// every response of the scoring service carries status and error
type envelope struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
}

type createImageResponse struct {
	envelope
	Image struct {
		Url string `json:"url"`
	} `json:"image"`
}

type topResponse struct {
	envelope
	Top []types.TopEntry `json:"top"`
}

// ScoreProvider registers generated images and user scores with the scoring service.
type ScoreProvider struct {
	host   string
	client *http.Client
	logger hclog.Logger
}

func NewScoreProvider(cfg config.ProvidersConfig) (*ScoreProvider, error) {
	if !strings.Contains(cfg.ScoreHost, ":") {
		return nil, fmt.Errorf("invalid score host %q, expected f.e. http://example.com or http://ip:port", cfg.ScoreHost)
	}
	return &ScoreProvider{
		host:   strings.TrimSuffix(cfg.ScoreHost, "/"),
		client: &http.Client{Timeout: cfg.Timeout},
		logger: globals.AppLogger.Named("score-provider"),
	}, nil
}

// SendImage registers the image ref generated for prompt and returns the image id assigned by the service.
func (p *ScoreProvider) SendImage(ctx context.Context, prompt, ref string) (string, error) {
	res := createImageResponse{}
	err := p.post(ctx, "/image/create", map[string]interface{}{
		"prompt": prompt,
		"url":    ref,
	}, &res)
	if err != nil {
		return "", err
	}
	return res.Image.Url, nil
}

func (p *ScoreProvider) SendScore(ctx context.Context, user types.UserId, imageId string, score int) error {
	res := envelope{}
	return p.post(ctx, "/image/score", map[string]interface{}{
		"user":  user,
		"url":   imageId,
		"score": score,
	}, &res)
}

func (p *ScoreProvider) Top(ctx context.Context) ([]types.TopEntry, error) {
	res := topResponse{}
	err := p.get(ctx, "/image/top", &res)
	if err != nil {
		return nil, err
	}
	return res.Top, nil
}

type statusCarrier interface {
	check() error
}

func (e *envelope) check() error {
	if e.Status != 0 {
		return &ServiceError{Status: e.Status, Message: e.Error}
	}
	return nil
}

func (p *ScoreProvider) post(ctx context.Context, path string, body interface{}, res statusCarrier) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	p.logger.Debug("post", "path", path, "body", string(raw))
	resp, err := ctxhttp.Post(ctx, p.client, p.host+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("could not call %s: %w", path, err)
	}
	defer resp.Body.Close()
	return decode(path, resp, res)
}

func (p *ScoreProvider) get(ctx context.Context, path string, res statusCarrier) error {
	resp, err := ctxhttp.Get(ctx, p.client, p.host+path)
	if err != nil {
		return fmt.Errorf("could not call %s: %w", path, err)
	}
	defer resp.Body.Close()
	return decode(path, resp, res)
}

func decode(path string, resp *http.Response, res statusCarrier) error {
	err := json.NewDecoder(resp.Body).Decode(res)
	if err != nil {
		return fmt.Errorf("could not decode %s response (%s): %w", path, resp.Status, err)
	}
	return res.check()
}
