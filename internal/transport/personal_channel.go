package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/unclebandit/wagateway/internal/model"
)

// PersonalChannel sends through a linked personal session hosted by a
// session bridge service.
type PersonalChannel struct {
	BridgeURL string
	Client    *http.Client
}

func NewPersonalChannel(bridgeURL string, client *http.Client) *PersonalChannel {
	if client == nil {
		client = &http.Client{}
	}
	return &PersonalChannel{BridgeURL: strings.TrimRight(bridgeURL, "/"), Client: client}
}

func (c *PersonalChannel) Name() string { return "personal" }

func (c *PersonalChannel) Send(ctx context.Context, creds model.DeliveryCredentials, phone, content string) (string, error) {
	if creds.SessionID == "" {
		return "", errors.New("no personal session linked")
	}
	if c.BridgeURL == "" {
		return "", errors.New("personal session bridge not configured")
	}

	body, err := json.Marshal(map[string]string{"to": phone, "text": content})
	if err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s/sessions/%s/messages", c.BridgeURL, url.PathEscape(creds.SessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("session bridge request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("session bridge rejected message: status %d", resp.StatusCode)
	}

	var out struct {
		ID string `json:"id"`
	}
	// the bridge may answer with an empty body
	_ = json.Unmarshal(raw, &out)
	return out.ID, nil
}
