package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nerostar/corpus-vision/internal/httpc"
	"github.com/nerostar/corpus-vision/internal/log"
)

// DefaultTimeout bounds how long one announcement may take. The
// daemon synthesizes before responding, so this is generous.
const DefaultTimeout = 10 * time.Second

// HTTPNotifier posts announcements to a TTS daemon's /speak endpoint.
type HTTPNotifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewHTTPNotifier creates a notifier for the daemon at baseURL,
// e.g. http://localhost:5001. A non-positive timeout falls back to
// DefaultTimeout.
func NewHTTPNotifier(baseURL string, timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPNotifier{
		url:    strings.TrimRight(baseURL, "/") + "/speak",
		client: httpc.NewClient(timeout),
		logger: log.Component("speech"),
	}
}

// Speak posts {"text": ...} to the daemon. Empty or whitespace-only
// text is dropped without a request.
func (n *HTTPNotifier) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("speech: marshal announcement: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("speech: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("speech: post announcement: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("speech: daemon returned status %d", resp.StatusCode)
	}

	n.logger.Debug("announcement sent", "chars", len(text))
	return nil
}

// Close releases idle connections.
func (n *HTTPNotifier) Close() error {
	n.client.CloseIdleConnections()
	return nil
}

var _ Notifier = (*HTTPNotifier)(nil)
