package dataprovider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"robotcrypt/pkg/models"
	"robotcrypt/utilities"
)

// altFearGreedDataPoint models a single data point from alternative.me.
type altFearGreedDataPoint struct {
	Value               string `json:"value"`
	ValueClassification string `json:"value_classification"`
	Timestamp           string `json:"timestamp"`
}

// altFearGreedResponse is the full API payload.
type altFearGreedResponse struct {
	Name     string                  `json:"name"`
	Data     []altFearGreedDataPoint `json:"data"`
	Metadata struct {
		Error *string `json:"error,omitempty"`
	} `json:"metadata"`
}

// FearGreedClient is a SentimentProvider backed by the alternative.me Fear &
// Greed index. The index is market wide, so every symbol receives the same
// reading.
type FearGreedClient struct {
	httpClient *http.Client
	logger     *zap.Logger
	apiURL     string
}

func NewFearGreedClient(cfg utilities.SentimentConfig, logger *zap.Logger, client *http.Client) *FearGreedClient {
	if client == nil {
		client = &http.Client{Timeout: time.Duration(cfg.RequestTimeoutSec) * time.Second}
	}
	return &FearGreedClient{
		httpClient: client,
		logger:     logger.Named("feargreed"),
		apiURL:     cfg.BaseURL + "/fng/?limit=1&format=json",
	}
}

// AnalyzeSymbol fetches the current index and maps it onto [-1, 1], where
// extreme fear is -1 and extreme greed is +1.
func (c *FearGreedClient) AnalyzeSymbol(ctx context.Context, symbol string) (models.SentimentSignal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL, nil)
	if err != nil {
		return models.SentimentSignal{}, fmt.Errorf("fear & greed: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "robot-crypt/1.0")

	var raw altFearGreedResponse
	if err := utilities.DoJSONRequest(c.httpClient, req, 1, 2*time.Second, &raw); err != nil {
		return models.SentimentSignal{}, classifyFetchErr(err)
	}

	if raw.Metadata.Error != nil && *raw.Metadata.Error != "" {
		return models.SentimentSignal{}, &models.ProviderRefusalError{Provider: "alternative.me", Reason: *raw.Metadata.Error}
	}
	if len(raw.Data) == 0 {
		return models.SentimentSignal{}, &models.ValidationError{Field: "fear_greed_payload", Reason: "no data points"}
	}

	dp := raw.Data[0]
	value, err := strconv.Atoi(dp.Value)
	if err != nil {
		return models.SentimentSignal{}, &models.ValidationError{Field: "fear_greed_value", Reason: fmt.Sprintf("not numeric: %q", dp.Value)}
	}
	if value < 0 || value > 100 {
		return models.SentimentSignal{}, &models.ValidationError{Field: "fear_greed_value", Reason: fmt.Sprintf("out of range: %d", value)}
	}
	level := dp.ValueClassification
	if level == "" {
		level = "Neutral"
	}

	score := utilities.Clamp(float64(value-50)/50.0, -1, 1)
	confidence := 0.3 + 0.5*absFloat(score)

	return models.SentimentSignal{
		Symbol:      symbol,
		Score:       score,
		Confidence:  confidence,
		Rationale:   fmt.Sprintf("market-wide fear & greed %d (%s)", value, level),
		GeneratedAt: time.Now().UTC(),
	}, nil
}

func classifyFetchErr(err error) error {
	var statusErr *utilities.HTTPStatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &models.TimeoutError{Op: "fear & greed fetch"}
	case errors.As(err, &statusErr):
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests:
			return &models.RateLimitError{Provider: "alternative.me"}
		case statusErr.StatusCode == http.StatusForbidden || statusErr.StatusCode == http.StatusUnavailableForLegalReasons:
			return &models.ProviderRefusalError{Provider: "alternative.me", Reason: statusErr.Error()}
		default:
			return &models.NetworkError{Op: "fear & greed fetch", Err: err}
		}
	default:
		return &models.NetworkError{Op: "fear & greed fetch", Err: err}
	}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
