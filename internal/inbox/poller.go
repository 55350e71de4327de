package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"filedrop/internal/model"
)

type (
	// Poller performs one-shot bounded scans of an inbox feed. It keeps
	// no state between calls; the caller tracks the next start index and
	// deduplication.
	Poller struct {
		base string
		http *http.Client
	}
)

func NewPoller(base string, httpClient *http.Client) *Poller {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Poller{base: base, http: httpClient}
}

// Poll scans the feed rooted at the inbox params starting at startIndex
// and returns every descriptor found before the feed layer's
// termination point (the first empty slot).
func (p *Poller) Poll(ctx context.Context, params model.InboxParams, startIndex uint64) ([]model.GSOCMessage, error) {
	params = params.Normalize()

	u := fmt.Sprintf("%s/gsoc/%s/%s?%s",
		p.base,
		url.PathEscape(params.TargetOverlay),
		url.PathEscape(params.BaseIdentifier),
		url.Values{"from": []string{fmt.Sprintf("%d", startIndex)}}.Encode(),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll inbox: %w", err)
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll inbox: unexpected status %d", resp.StatusCode)
	}

	var msgs []model.GSOCMessage
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("poll inbox: decode descriptors: %w", err)
	}
	return msgs, nil
}
