// File: internal/oracle/gemini.go
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/ouroboros/internal/config"
)

// GeminiClient implements Generator against the Gemini API. A client-side
// rate limiter keeps the engine inside the configured request budget even
// when the loop runs hot.
type GeminiClient struct {
	client  *genai.Client
	cfg     config.OracleConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewGeminiClient initializes the client. The API key is required; it is
// only ever sourced from the environment.
func NewGeminiClient(ctx context.Context, cfg config.OracleConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("oracle API key is required; set OUROBOROS_ORACLE_API_KEY")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create oracle client: %w", err)
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}

	return &GeminiClient{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		logger:  logger.Named("oracle.gemini"),
	}, nil
}

// modelFor maps a tier to its configured model name.
func (c *GeminiClient) modelFor(tier Tier) string {
	if tier == TierFast {
		return c.cfg.ModelFast
	}
	return c.cfg.ModelPowerful
}

// Generate sends one prompt to the tier's model and returns the text
// response, retrying transient API failures with exponential backoff.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("oracle rate limiter interrupted: %w", err)
	}

	model := c.modelFor(req.Tier)
	genCfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Temperature > 0 {
		genCfg.Temperature = genai.Ptr(req.Temperature)
	}
	if req.ForceJSON {
		genCfg.ResponseMIMEType = "application/json"
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second

	var responseText string
	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
		defer cancel()

		start := time.Now()
		resp, err := c.client.Models.GenerateContent(callCtx, model, genai.Text(req.UserPrompt), genCfg)
		if err != nil {
			c.logger.Warn("Oracle request failed", zap.String("model", model), zap.Error(err))
			return classifyAPIError(err)
		}

		text := resp.Text()
		if text == "" {
			return backoff.Permanent(fmt.Errorf("oracle returned no content for model %s", model))
		}

		c.logger.Info("Oracle generation complete",
			zap.String("model", model),
			zap.String("tier", string(req.Tier)),
			zap.Duration("duration", time.Since(start)),
		)
		responseText = text
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return responseText, nil
}

// classifyAPIError decides retryability. Rate limiting and server-side
// failures are transient; everything else from the API is permanent.
// Network-level errors stay retryable.
func classifyAPIError(err error) error {
	code, ok := apiErrorCode(err)
	if !ok {
		return err
	}
	switch code {
	case 429, 500, 503:
		return err
	default:
		return backoff.Permanent(err)
	}
}

// apiErrorCode extracts the HTTP status from a genai API error,
// whichever form the SDK returned it in.
func apiErrorCode(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code, true
	}
	return 0, false
}
