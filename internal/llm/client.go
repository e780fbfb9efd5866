// Package llm adapts an Ollama-compatible chat-completion service to the
// conversation engine. It exposes non-streaming and streaming chat calls, a
// deterministic response cache, and a structured grammar checker.
//
// No provider-specific fields leak out of this package: callers work with
// []Message and Options only. All low-level I/O failures are wrapped into
// ErrUnavailable with the cause attached for observability.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/averbeck/go-deutsch-backend/internal/config"
)

// ErrUnavailable indicates the upstream LLM service was unreachable or
// returned a non-success response. Callers inspect it with errors.Is; the
// wrapped cause carries the transport detail.
var ErrUnavailable = errors.New("llm service unavailable")

// ErrEmptyCompletion indicates the model produced no content.
var ErrEmptyCompletion = errors.New("llm returned empty completion")

// Chat message roles on the wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a chat transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tunes a single completion call. Zero values fall back to the
// provider defaults; MaxTokens maps to num_predict.
type Options struct {
	Temperature float64
	MaxTokens   int
	TopP        float64
	TopK        int
	Stop        []string
}

// Client is the process-wide handle to the chat-completion service. It is
// safe for concurrent use; construct once at startup.
type Client struct {
	httpc     *http.Client
	baseURL   string
	model     string
	keepAlive time.Duration
	streamGap time.Duration
}

// New constructs a Client from configuration. The keep_alive hint keeps the
// model resident between requests, avoiding cold starts on the voice path.
func New(cfg config.LLMConfig) *Client {
	return &Client{
		httpc:     &http.Client{Timeout: cfg.Timeout},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		model:     cfg.Model,
		keepAlive: cfg.KeepAlive,
		streamGap: cfg.StreamGap,
	}
}

// Model returns the configured model name (part of cache keys).
func (c *Client) Model() string { return c.model }

// chatRequest is the provider wire format for /api/chat.
type chatRequest struct {
	Model     string         `json:"model"`
	Messages  []Message      `json:"messages"`
	Stream    bool           `json:"stream"`
	KeepAlive string         `json:"keep_alive,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

// chatResponse is one wire object: the full reply when non-streaming, a
// fragment when streaming.
type chatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

func (c *Client) wireOptions(opts Options) map[string]any {
	m := map[string]any{}
	if opts.Temperature > 0 {
		m["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		m["num_predict"] = opts.MaxTokens
	}
	if opts.TopP > 0 {
		m["top_p"] = opts.TopP
	}
	if opts.TopK > 0 {
		m["top_k"] = opts.TopK
	}
	if len(opts.Stop) > 0 {
		m["stop"] = opts.Stop
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func (c *Client) post(ctx context.Context, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	return resp, nil
}

// Chat performs a non-streaming completion and returns the full reply text.
func (c *Client) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	resp, err := c.post(ctx, chatRequest{
		Model:     c.model,
		Messages:  messages,
		Stream:    false,
		KeepAlive: c.keepAlive.String(),
		Options:   c.wireOptions(opts),
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrUnavailable, out.Error)
	}
	content := strings.TrimSpace(out.Message.Content)
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}

// ChatStream performs a streaming completion. Tokens are delivered on the
// returned channel in generation order with no gaps; the error channel
// receives at most one value after the token channel closes (nil on clean
// end-of-stream). Cancelling ctx aborts the upstream call promptly.
//
// The stream is cold: the upstream request starts when ChatStream is called
// and a new call is a new request. One mid-stream reconnect is attempted
// before surfacing ErrUnavailable; tokens already delivered are never
// re-sent.
func (c *Client) ChatStream(ctx context.Context, messages []Message, opts Options) (<-chan string, <-chan error) {
	tokens := make(chan string)
	errc := make(chan error, 1)

	go func() {
		defer close(tokens)
		defer close(errc)

		delivered := 0
		err := c.streamOnce(ctx, messages, opts, tokens, &delivered)
		if err != nil && ctx.Err() == nil && delivered > 0 {
			// One reconnect after a mid-stream break. The retry replays the
			// full generation and skips the prefix already delivered.
			err = c.streamOnce(ctx, messages, opts, tokens, &delivered)
		}
		if err != nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		errc <- err
	}()

	return tokens, errc
}

// streamOnce runs one upstream streaming request, skipping the first
// *delivered tokens (used by the reconnect path) and enforcing the
// inter-token gap budget.
func (c *Client) streamOnce(ctx context.Context, messages []Message, opts Options, tokens chan<- string, delivered *int) error {
	resp, err := c.post(ctx, chatRequest{
		Model:     c.model,
		Messages:  messages,
		Stream:    true,
		KeepAlive: c.keepAlive.String(),
		Options:   c.wireOptions(opts),
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Each inter-token gap is bounded even though the stream as a whole has
	// no aggregate timeout.
	gapCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	gap := c.streamGap
	if gap <= 0 {
		gap = 30 * time.Second
	}
	timer := time.AfterFunc(gap, cancel)
	defer timer.Stop()

	go func() {
		<-gapCtx.Done()
		// Unblocks the scanner below on cancellation or gap expiry.
		resp.Body.Close()
	}()

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	seen := 0
	for sc.Scan() {
		timer.Reset(gap)
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk chatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("%w: decode chunk: %v", ErrUnavailable, err)
		}
		if chunk.Error != "" {
			return fmt.Errorf("%w: %s", ErrUnavailable, chunk.Error)
		}
		if chunk.Message.Content != "" {
			seen++
			if seen > *delivered {
				select {
				case tokens <- chunk.Message.Content:
					*delivered = seen
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if chunk.Done {
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: stream: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("%w: stream ended without done marker", ErrUnavailable)
}
