package gumroad

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client talks to the Gumroad v2 API with a fixed access token.
type Client struct {
	baseURL     string
	accessToken string
	http        *http.Client
	limiter     <-chan time.Time
}

func NewClient(accessToken string) (*Client, error) {
	baseURL := strings.TrimSpace(os.Getenv("GUMROAD_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.gumroad.com"
	}
	if strings.TrimSpace(accessToken) == "" {
		return nil, errors.New("gumroad access token is empty")
	}
	rateLimitPerMin := int64(30)
	if v := strings.TrimSpace(os.Getenv("GUMROAD_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		http:        &http.Client{Timeout: 30 * time.Second},
		limiter:     time.Tick(interval),
	}, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	<-c.limiter
	if params == nil {
		params = url.Values{}
	}
	params.Set("access_token", c.accessToken)
	endpoint := c.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gumroad api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// FetchRecentSales returns the newest sales, oldest first so replays apply
// events in purchase order. Each sale keeps its verbatim payload in Raw.
func (c *Client) FetchRecentSales(ctx context.Context, limit int) ([]Sale, error) {
	body, err := c.get(ctx, "/v2/sales", nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Success bool              `json:"success"`
		Sales   []json.RawMessage `json:"sales"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	if !parsed.Success {
		return nil, errors.New("gumroad api reported failure")
	}

	raws := parsed.Sales
	if limit > 0 && len(raws) > limit {
		raws = raws[:limit]
	}

	// The feed is newest first; reverse so callers see chronological order.
	sales := make([]Sale, 0, len(raws))
	for i := len(raws) - 1; i >= 0; i-- {
		var s Sale
		if err := json.Unmarshal(raws[i], &s); err != nil {
			return nil, err
		}
		s.Raw = raws[i]
		sales = append(sales, s)
	}
	return sales, nil
}

// FetchProducts lists the account's products for the policy settings screen.
func (c *Client) FetchProducts(ctx context.Context) ([]Product, error) {
	body, err := c.get(ctx, "/v2/products", nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Success  bool      `json:"success"`
		Products []Product `json:"products"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	if !parsed.Success {
		return nil, errors.New("gumroad api reported failure")
	}
	return parsed.Products, nil
}

// VerifyToken checks the token against /v2/user and returns the account label.
func (c *Client) VerifyToken(ctx context.Context) (string, error) {
	body, err := c.get(ctx, "/v2/user", nil)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Success bool `json:"success"`
		User    struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		} `json:"user"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", err
	}
	if !parsed.Success {
		return "", errors.New("gumroad token rejected")
	}
	label := strings.TrimSpace(parsed.User.Name)
	if label == "" {
		label = strings.TrimSpace(parsed.User.Email)
	}
	return label, nil
}
