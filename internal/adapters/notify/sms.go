package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPSMSGateway posts messages to a form-encoded SMS provider endpoint.
type HTTPSMSGateway struct {
	client   *http.Client
	endpoint string
	apiKey   string
	sender   string
}

func NewHTTPSMSGateway(endpoint, apiKey, sender string) *HTTPSMSGateway {
	return &HTTPSMSGateway{
		client:   &http.Client{Timeout: 10 * time.Second},
		endpoint: endpoint,
		apiKey:   apiKey,
		sender:   sender,
	}
}

func (g *HTTPSMSGateway) SendSMS(ctx context.Context, to, body string) error {
	form := url.Values{}
	form.Set("from", g.sender)
	form.Set("to", to)
	form.Set("message", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("send sms to %s: %w", to, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}
