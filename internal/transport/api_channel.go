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
	"sync"

	"github.com/unclebandit/wagateway/internal/model"
)

type apiRequest struct {
	MessagingProduct string  `json:"messaging_product"`
	To               string  `json:"to"`
	Type             string  `json:"type"`
	Text             apiText `json:"text"`
}

type apiText struct {
	Body string `json:"body"`
}

type apiResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// APIChannel posts text messages to the provider's cloud API.
type APIChannel struct {
	Endpoint string
	Client   *http.Client

	// proxy url -> *http.Client, so connections are pooled per proxy
	proxies sync.Map
}

func NewAPIChannel(endpoint string, client *http.Client) *APIChannel {
	if client == nil {
		client = &http.Client{}
	}
	return &APIChannel{Endpoint: endpoint, Client: client}
}

func (c *APIChannel) Name() string { return "api" }

// clientFor routes through the account's proxy when one is configured.
func (c *APIChannel) clientFor(proxy string) (*http.Client, error) {
	if proxy == "" {
		return c.Client, nil
	}
	if cl, ok := c.proxies.Load(proxy); ok {
		return cl.(*http.Client), nil
	}
	u, err := url.Parse(proxy)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid proxy url %q", proxy)
	}
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, errors.New("default transport is not *http.Transport")
	}
	tr := base.Clone()
	tr.Proxy = http.ProxyURL(u)
	cl, _ := c.proxies.LoadOrStore(proxy, &http.Client{Transport: tr, Timeout: c.Client.Timeout})
	return cl.(*http.Client), nil
}

func (c *APIChannel) Send(ctx context.Context, creds model.DeliveryCredentials, phone, content string) (string, error) {
	if creds.ProviderKey == "" {
		return "", errors.New("provider api key missing")
	}
	client, err := c.clientFor(creds.ProxyURL)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(apiRequest{
		MessagingProduct: "whatsapp",
		To:               phone,
		Type:             "text",
		Text:             apiText{Body: content},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+creds.ProviderKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("provider rejected message: status %d", resp.StatusCode)
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("provider response: %w", err)
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", errors.New("provider response has no message id")
	}
	return out.Messages[0].ID, nil
}
