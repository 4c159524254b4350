package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/geonote-chat/config"
	"github.com/tcriess/geonote-chat/globals"
	"golang.org/x/net/context/ctxhttp"
)

var ErrNoImage = errors.New("no image in response")

// Txt2ImgRequest is the body of a txt2img call.
type Txt2ImgRequest struct {
	Prompt   string  `json:"prompt"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Steps    int     `json:"steps"`
	CfgScale float64 `json:"cfg_scale"`
	Seed     int64   `json:"seed"`
}

type txt2ImgResponse struct {
	Images []string `json:"images"`
}

// ImageProvider generates pictures from a text prompt via the stable diffusion web api.
type ImageProvider struct {
	host   string
	client *http.Client
	params Txt2ImgRequest
	logger hclog.Logger
}

func NewImageProvider(cfg config.ProvidersConfig) *ImageProvider {
	return &ImageProvider{
		host:   strings.TrimSuffix(cfg.ImageHost, "/"),
		client: &http.Client{Timeout: cfg.Timeout},
		params: Txt2ImgRequest{
			Width:    cfg.Width,
			Height:   cfg.Height,
			Steps:    cfg.Steps,
			CfgScale: cfg.CfgScale,
			Seed:     cfg.Seed,
		},
		logger: globals.AppLogger.Named("image-provider"),
	}
}

// Params returns the generation parameters used for prompt.
func (p *ImageProvider) Params(prompt string) Txt2ImgRequest {
	params := p.params
	params.Prompt = prompt
	return params
}

// Generate returns the (decoded) first image generated for prompt.
func (p *ImageProvider) Generate(ctx context.Context, prompt string) ([]byte, error) {
	body, err := json.Marshal(p.Params(prompt))
	if err != nil {
		return nil, err
	}
	p.logger.Debug("generate", "prompt", prompt)
	resp, err := ctxhttp.Post(ctx, p.client, p.host+"/sdapi/v1/txt2img", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not call txt2img: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("txt2img returned %s", resp.Status)
	}
	res := txt2ImgResponse{}
	err = json.NewDecoder(resp.Body).Decode(&res)
	if err != nil {
		return nil, fmt.Errorf("could not decode txt2img response: %w", err)
	}
	if len(res.Images) == 0 {
		return nil, ErrNoImage
	}
	img, err := base64.StdEncoding.DecodeString(res.Images[0])
	if err != nil {
		return nil, fmt.Errorf("could not decode image: %w", err)
	}
	return img, nil
}
