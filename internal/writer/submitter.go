package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/joepadmiraal/speedprobe/internal/measure"
)

var (
	ErrSubmitFailed = errors.New("result submission failed")
	ErrMissingKey   = errors.New("result service returned no key")
)

type submitRequest struct {
	Summary measure.Summary `json:"summary"`
	RunID   string          `json:"run_id"`
	Partial bool            `json:"partial,omitempty"`
}

type submitResponse struct {
	Key string `json:"key"`
}

// Submitter posts the summary to a result service and turns the returned key into a share URL.
type Submitter struct {
	submitURL string
	resultURL string
	client    *http.Client
	logger    *zap.Logger
}

func NewSubmitter(submitURL, resultURL string, client *http.Client, logger *zap.Logger) *Submitter {
	if client == nil {
		client = http.DefaultClient
	}
	return &Submitter{
		submitURL: submitURL,
		resultURL: resultURL,
		client:    client,
		logger:    logger,
	}
}

// Submit returns the share URL of the stored result.
func (s *Submitter) Submit(ctx context.Context, r *measure.Report) (string, error) {
	body, err := json.Marshal(submitRequest{Summary: r.Summary, RunID: r.RunID, Partial: r.Partial})
	if err != nil {
		return "", fmt.Errorf("%w: encode: %w", ErrSubmitFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.submitURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %s: %s", ErrSubmitFailed, resp.Status, strings.TrimSpace(string(msg)))
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", ErrSubmitFailed, err)
	}
	if out.Key == "" {
		return "", ErrMissingKey
	}

	shareURL := s.shareURL(out.Key)
	s.logger.Info("Result submitted", zap.String("key", out.Key), zap.String("share_url", shareURL))
	return shareURL, nil
}

func (s *Submitter) shareURL(key string) string {
	if s.resultURL == "" {
		return key
	}
	if strings.Contains(s.resultURL, "{key}") {
		return strings.ReplaceAll(s.resultURL, "{key}", key)
	}
	return strings.TrimRight(s.resultURL, "/") + "/" + key
}
