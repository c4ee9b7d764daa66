// Package b2 signs private downloads through the Backblaze B2 native API.
package b2

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
	"time"

	"DropTracker/internal/domain"
	"DropTracker/internal/ports"
)

const (
	DefaultAuthURL       = "https://api.backblazeb2.com"
	DefaultLeaseLifetime = 23 * time.Hour
	apiVersion           = "/b2api/v2"
)

// Config carries the account credentials and target bucket.
type Config struct {
	KeyID    string
	AppKey   string
	BucketID string
	// BucketName appears in the public download path.
	BucketName string
	// DownloadHost overrides the download host reported at authorization.
	DownloadHost  string
	AuthURL       string
	LeaseLifetime time.Duration
	Timeout       time.Duration
}

// Client is an AssetUpstream backed by B2.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time
}

var _ ports.AssetUpstream = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(cfg Config) *Client {
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.LeaseLifetime <= 0 {
		cfg.LeaseLifetime = DefaultLeaseLifetime
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		now:  time.Now,
	}
}

type authorizeResponse struct {
	AccountID          string `json:"accountId"`
	AuthorizationToken string `json:"authorizationToken"`
	APIURL             string `json:"apiUrl"`
	DownloadURL        string `json:"downloadUrl"`
}

// Authorize exchanges the application key for an account token. B2 account
// tokens last 24 hours; the lease is recorded with a shorter lifetime.
func (c *Client) Authorize(ctx context.Context) (domain.AuthorizationLease, error) {
	if c.cfg.KeyID == "" || c.cfg.AppKey == "" {
		return domain.AuthorizationLease{}, errors.New("b2 credentials are not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(c.cfg.AuthURL, "/")+apiVersion+"/b2_authorize_account", nil)
	if err != nil {
		return domain.AuthorizationLease{}, fmt.Errorf("new request: %w", err)
	}
	req.SetBasicAuth(c.cfg.KeyID, c.cfg.AppKey)

	var resp authorizeResponse
	if err := c.do(req, &resp); err != nil {
		return domain.AuthorizationLease{}, fmt.Errorf("authorize account: %w", err)
	}
	if resp.AuthorizationToken == "" || resp.APIURL == "" {
		return domain.AuthorizationLease{}, errors.New("authorize account: incomplete response")
	}

	now := c.now()
	return domain.AuthorizationLease{
		Token:       resp.AuthorizationToken,
		IssuedAt:    now,
		ExpiresAt:   now.Add(c.cfg.LeaseLifetime),
		APIURL:      resp.APIURL,
		DownloadURL: resp.DownloadURL,
		AccountID:   resp.AccountID,
	}, nil
}

// SignURL requests a download authorization restricted to exactly key and
// appends it to the file's download URL.
func (c *Client) SignURL(ctx context.Context, lease domain.AuthorizationLease, key string, ttl time.Duration) (string, error) {
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	payload := map[string]any{
		"bucketId":               c.cfg.BucketID,
		"fileNamePrefix":         key,
		"validDurationInSeconds": seconds,
	}

	var resp struct {
		AuthorizationToken string `json:"authorizationToken"`
	}
	if err := c.post(ctx, lease, "/b2_get_download_authorization", payload, &resp); err != nil {
		return "", fmt.Errorf("get download authorization: %w", err)
	}
	if resp.AuthorizationToken == "" {
		return "", errors.New("get download authorization: empty token")
	}

	base, err := c.downloadBase(lease)
	if err != nil {
		return "", err
	}
	return base + "/file/" + url.PathEscape(c.cfg.BucketName) + "/" + escapeKey(key) +
		"?Authorization=" + url.QueryEscape(resp.AuthorizationToken), nil
}

func (c *Client) downloadBase(lease domain.AuthorizationLease) (string, error) {
	if c.cfg.DownloadHost != "" {
		host := strings.TrimRight(c.cfg.DownloadHost, "/")
		if !strings.Contains(host, "://") {
			host = "https://" + host
		}
		return host, nil
	}
	if lease.DownloadURL == "" {
		return "", errors.New("no download host known for bucket")
	}
	return strings.TrimRight(lease.DownloadURL, "/"), nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func (c *Client) post(ctx context.Context, lease domain.AuthorizationLease, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(lease.APIURL, "/")+apiVersion+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", lease.Token)

	return c.do(req, v)
}

// apiError is the error body B2 returns with every non-200 status.
type apiError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("b2 %d %s: %s", e.Status, e.Code, e.Message)
}

func (c *Client) do(req *http.Request, v any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := &apiError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "unexpected_status"
			apiErr.Message = resp.Status
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %w", ports.ErrLeaseRejected, apiErr)
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
