package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// generateTimeout bounds one upstream round-trip. A timed-out request takes
// the normal retry path.
const generateTimeout = 3 * time.Minute

// Upstream is one remote image server. It owns a FIFO of pending requests
// and at most one request in flight at any instant.
type Upstream struct {
	baseURL string

	mu       sync.Mutex
	queue    []*Request
	inFlight bool

	client *http.Client
}

// NewUpstream creates an upstream for host:port.
func NewUpstream(host string, port int) *Upstream {
	return NewUpstreamURL(fmt.Sprintf("http://%s:%d", host, port))
}

// NewUpstreamURL creates an upstream from a full base URL.
func NewUpstreamURL(baseURL string) *Upstream {
	return &Upstream{
		baseURL: baseURL,
		client:  &http.Client{Timeout: generateTimeout},
	}
}

// Addr returns the upstream's base URL, used in logs and attempted sets.
func (u *Upstream) Addr() string { return u.baseURL }

func (u *Upstream) pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.queue)
}

func (u *Upstream) enqueue(r *Request) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.queue = append(u.queue, r)
}

// take pops the queue head and claims the in-flight slot. It returns nil
// when the upstream is busy or has nothing pending.
func (u *Upstream) take() *Request {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.inFlight || len(u.queue) == 0 {
		return nil
	}
	r := u.queue[0]
	u.queue = u.queue[1:]
	u.inFlight = true
	return r
}

func (u *Upstream) release() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.inFlight = false
}

// Wire types for the upstream HTTP contract.

type optionsPayload struct {
	ModelCheckpoint string `json:"modelCheckpoint"`
}

type controlnetArgs struct {
	InputImage string `json:"inputImage"`
	Module     string `json:"module"`
	Model      string `json:"model"`
}

type controlnetUnit struct {
	Args []controlnetArgs `json:"args"`
}

type alwaysOnScripts struct {
	Controlnet *controlnetUnit `json:"controlnet,omitempty"`
}

type txt2imgPayload struct {
	Prompt          string           `json:"prompt"`
	NegativePrompt  string           `json:"negativePrompt,omitempty"`
	BatchSize       int              `json:"batchSize"`
	Iterations      int              `json:"iterations"`
	Seed            int64            `json:"seed"`
	AlwaysOnScripts *alwaysOnScripts `json:"alwaysOnScripts,omitempty"`
}

type img2imgPayload struct {
	InitImages        []string `json:"initImages"`
	Prompt            string   `json:"prompt"`
	NegativePrompt    string   `json:"negativePrompt,omitempty"`
	DenoisingStrength float64  `json:"denoisingStrength"`
	SamplerName       string   `json:"samplerName"`
	BatchSize         int      `json:"batchSize"`
	Iterations        int      `json:"iterations"`
	Seed              int64    `json:"seed"`
}

type imagesResponse struct {
	Images []string `json:"images"`
}

// currentModel reads the upstream's active model checkpoint.
func (u *Upstream) currentModel(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.baseURL+"/options", nil)
	if err != nil {
		return "", err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("reading options from %s: %w", u.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reading options from %s: status %d", u.baseURL, resp.StatusCode)
	}
	var opts optionsPayload
	if err := json.NewDecoder(resp.Body).Decode(&opts); err != nil {
		return "", fmt.Errorf("parsing options from %s: %w", u.baseURL, err)
	}
	return opts.ModelCheckpoint, nil
}

// switchModel switches the upstream's active model and waits for the
// acknowledgment before returning.
func (u *Upstream) switchModel(ctx context.Context, model string) error {
	body, err := json.Marshal(optionsPayload{ModelCheckpoint: model})
	if err != nil {
		return err
	}
	resp, err := u.post(ctx, "/options", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("switching model on %s: status %d", u.baseURL, resp.StatusCode)
	}
	// Drain the acknowledgment so the connection can be reused.
	io.Copy(io.Discard, resp.Body)
	return nil
}

// generate posts a payload to path and unpacks the returned images. An HTTP
// error, non-JSON reply, or empty images field is a retry signal.
func (u *Upstream) generate(ctx context.Context, path string, payload any) ([]string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	resp, err := u.post(ctx, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s%s: status %d", u.baseURL, path, resp.StatusCode)
	}
	var images imagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&images); err != nil {
		return nil, fmt.Errorf("parsing reply from %s%s: %w", u.baseURL, path, err)
	}
	if len(images.Images) == 0 {
		return nil, fmt.Errorf("reply from %s%s carries no images", u.baseURL, path)
	}
	return images.Images, nil
}

func (u *Upstream) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting to %s%s: %w", u.baseURL, path, err)
	}
	return resp, nil
}
