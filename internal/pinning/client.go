// Package pinning implements the client for a Pinata-compatible IPFS
// pinning service: uploads with retry and size-scaled timeouts, and
// gateway fetches by content identifier.
package pinning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// baseTimeout is the floor for a single upload attempt; every 5 MB of
	// payload adds another 20 seconds.
	baseTimeout      = 60 * time.Second
	timeoutPerChunk  = 20 * time.Second
	timeoutChunkSize = 5 << 20
)

// ErrNoCredentials is returned before any network I/O when the service
// JWT is missing from configuration.
var ErrNoCredentials = errors.New("pinning: API credentials not configured")

// UploadError is the terminal failure after the retry budget is spent.
// Timeout distinguishes deadline expiry from other transport failures so
// callers can surface the right remediation hint.
type UploadError struct {
	Attempts int
	Timeout  bool
	Cause    error
}

func (e *UploadError) Error() string {
	hint := "Please check your internet connection and ensure your pinning API key is valid."
	if e.Timeout {
		hint = "The file upload timed out. Try uploading a smaller file or splitting into multiple files."
	}
	return fmt.Sprintf("pinning: upload failed after %d attempts: %v. %s", e.Attempts, e.Cause, hint)
}

func (e *UploadError) Unwrap() error { return e.Cause }

// PinResult is the pinning service response for both file and JSON pins.
type PinResult struct {
	CID       string `json:"IpfsHash"`
	Size      int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

// Client talks to a remote pinning service over HTTP.
type Client struct {
	apiURL     string
	gatewayURL string
	jwt        string
	httpClient *http.Client
	logger     *slog.Logger

	retry retrier
}

// New creates a pinning client. apiURL and gatewayURL are the service
// base URLs; jwt may be empty, in which case uploads fail immediately
// with ErrNoCredentials.
func New(apiURL, gatewayURL, jwt string, logger *slog.Logger) *Client {
	return &Client{
		apiURL:     strings.TrimRight(apiURL, "/"),
		gatewayURL: strings.TrimRight(gatewayURL, "/"),
		jwt:        jwt,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// timeoutFor computes the per-attempt timeout budget for a payload size.
func timeoutFor(size int) time.Duration {
	chunks := int(math.Ceil(float64(size) / float64(timeoutChunkSize)))
	return baseTimeout + time.Duration(chunks)*timeoutPerChunk
}

// PinFile uploads payload under the given display name and returns the
// content identifier assigned by the service. It retries transient
// failures up to the attempt ceiling with exponential backoff.
func (c *Client) PinFile(ctx context.Context, name string, payload []byte) (string, error) {
	if c.jwt == "" {
		return "", ErrNoCredentials
	}
	if len(payload) == 0 {
		return "", fmt.Errorf("pinning: empty payload")
	}

	timeout := timeoutFor(len(payload))
	c.logger.Debug("pin file",
		slog.String("name", name),
		slog.Int("size", len(payload)),
		slog.Duration("timeout", timeout))

	var cid string
	attempts := 0
	state, err := c.retry.run(ctx, func(attempt int) error {
		attempts = attempt + 1
		c.logger.Debug("upload attempt",
			slog.String("name", name),
			slog.Int("attempt", attempt+1),
			slog.Int("max", maxAttempts))

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		res, attemptErr := c.pinFileOnce(attemptCtx, name, payload)
		if attemptErr != nil {
			c.logger.Warn("upload attempt failed",
				slog.String("name", name),
				slog.Int("attempt", attempt+1),
				slog.String("error", attemptErr.Error()))
			return attemptErr
		}
		cid = res.CID
		return nil
	})
	if state == stateExhausted {
		// A backoff cut short by the caller's context is a cancellation,
		// not a failed upload; it passes through unadorned.
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return "", err
		}
		return "", &UploadError{
			Attempts: attempts,
			Timeout:  isTimeout(err),
			Cause:    err,
		}
	}

	c.logger.Info("file pinned", slog.String("name", name), slog.String("cid", cid))
	return cid, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr interface{ Timeout() bool }
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "timeout")
}

func (c *Client) pinFileOnce(ctx context.Context, name string, payload []byte) (*PinResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("pinning: build form: %w", err)
	}
	if _, err := fw.Write(payload); err != nil {
		return nil, fmt.Errorf("pinning: write form: %w", err)
	}

	meta, _ := json.Marshal(map[string]any{
		"name": name,
		"keyvalues": map[string]string{
			"uploadedAt":   time.Now().UTC().Format(time.RFC3339),
			"originalSize": strconv.Itoa(len(payload)),
		},
	})
	if err := mw.WriteField("pinataMetadata", string(meta)); err != nil {
		return nil, fmt.Errorf("pinning: write metadata: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("pinning: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiURL+"/pinning/pinFileToIPFS", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.jwt)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return c.doPin(req)
}

// PinJSON uploads an arbitrary JSON document and returns its content
// identifier. Unlike PinFile this is a single attempt.
func (c *Client) PinJSON(ctx context.Context, name string, v any) (string, error) {
	if c.jwt == "" {
		return "", ErrNoCredentials
	}

	payload, err := json.Marshal(map[string]any{
		"pinataContent": v,
		"pinataMetadata": map[string]any{
			"name": name,
			"keyvalues": map[string]string{
				"uploadedAt": time.Now().UTC().Format(time.RFC3339),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("pinning: marshal JSON pin: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiURL+"/pinning/pinJSONToIPFS", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.jwt)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.doPin(req)
	if err != nil {
		return "", fmt.Errorf("pinning: pin JSON: %w", err)
	}
	return res.CID, nil
}

func (c *Client) doPin(req *http.Request) (*PinResult, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("pinning: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var res PinResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("pinning: decode response: %w", err)
	}
	if res.CID == "" {
		return nil, fmt.Errorf("pinning: response missing content identifier")
	}
	return &res, nil
}

// GatewayURL returns the public gateway URL for a content identifier.
func (c *Client) GatewayURL(cid string) string {
	return c.gatewayURL + "/ipfs/" + cid
}

// Fetch retrieves pinned content from the gateway by its identifier.
func (c *Client) Fetch(ctx context.Context, cid string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.GatewayURL(cid), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "*/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pinning: fetch %s: %w", cid, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pinning: fetch %s: HTTP %d", cid, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pinning: read content %s: %w", cid, err)
	}
	return data, nil
}
