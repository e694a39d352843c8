// Package narrator defines the analysis-narrator collaborator boundary.
//
// The coordinator hands the narrator a structured summary of recent hop
// events and the current correlation candidates and receives free-form text
// back. The text is broadcast to viewers verbatim; the coordinator never
// parses it and no control decision depends on it.
package narrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/onionlab/relaysim/correlation"
	"github.com/onionlab/relaysim/protocol"
)

// Summary is the structured input handed to the narrator.
type Summary struct {
	RecentEvents []protocol.HopEvent      `json:"recent_events"`
	Candidates   []correlation.Candidate  `json:"candidates"`
	CircuitCount int                      `json:"circuit_count"`
}

// Narrator turns an analysis summary into presentation text. Implementations
// may call out to anything; the return value is opaque to the caller.
type Narrator interface {
	Narrate(ctx context.Context, summary *Summary) (string, error)
}

// Noop is the narrator used when no narration backend is configured. It
// returns empty text, which the coordinator does not broadcast.
type Noop struct{}

func (Noop) Narrate(context.Context, *Summary) (string, error) { return "", nil }

// HTTPNarrator posts the summary as JSON to an external narration service and
// returns the response body as text.
type HTTPNarrator struct {
	URL    string
	Client *http.Client
}

// NewHTTPNarrator creates a narrator client for the given endpoint.
func NewHTTPNarrator(url string) *HTTPNarrator {
	return &HTTPNarrator{
		URL:    url,
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

// maxNarrationBytes bounds how much narrator output is read; anything beyond
// it is truncated rather than failing the pass.
const maxNarrationBytes = 1 << 16

func (n *HTTPNarrator) Narrate(ctx context.Context, summary *Summary) (string, error) {
	body, err := json.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("encode summary: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("narrator request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("narrator returned status %d", resp.StatusCode)
	}

	text, err := io.ReadAll(io.LimitReader(resp.Body, maxNarrationBytes))
	if err != nil {
		return "", fmt.Errorf("read narration: %w", err)
	}
	return string(text), nil
}
