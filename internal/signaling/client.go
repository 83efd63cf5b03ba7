// Package signaling talks to the room signaling server: session descriptions
// and trickled ICE candidates over HTTP, plus an optional WebSocket feed that
// pushes candidates as other peers publish them.
package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Foodstream-io/livecall/internal/auth"
	"github.com/Foodstream-io/livecall/internal/dns"
)

const (
	defaultRequestTimeout = 10 * time.Second
	maxResponseSize       = 1 << 20
	maxErrorBodySize      = 512
)

// Options configures a Client.
type Options struct {
	// BaseURL is the server root, e.g. "https://example.ngrok-free.dev".
	BaseURL string

	// APIPrefix is prepended to the room endpoints: "" for the ngrok
	// deployment, "/api" for the authenticated one. /createRoom is never
	// prefixed.
	APIPrefix string

	// Tokens supplies the bearer token. Nil means unauthenticated.
	Tokens auth.TokenSource

	// Timeout bounds each request. Zero uses a default.
	Timeout time.Duration

	// HTTPClient overrides the client built from the options above.
	HTTPClient *http.Client
}

// Client is the HTTP signaling transport for one server.
type Client struct {
	baseURL *url.URL
	prefix  string
	tokens  auth.TokenSource
	http    *http.Client
}

// NewClient validates opts and builds a client whose connections resolve
// through the dns package.
func NewClient(opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", opts.BaseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q: missing host", opts.BaseURL)
	}

	prefix := strings.TrimSuffix(opts.APIPrefix, "/")
	if prefix != "" && !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}

	tokens := opts.Tokens
	if tokens == nil {
		tokens = auth.None{}
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultRequestTimeout
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.DialContext = dns.DialContext
		httpClient = &http.Client{Transport: transport, Timeout: timeout}
	}

	return &Client{
		baseURL: u,
		prefix:  prefix,
		tokens:  tokens,
		http:    httpClient,
	}, nil
}

// BaseURL returns the server root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// CreateRoom asks the server for a room named name and returns its id. The
// server returns the existing id when the name is already taken.
func (c *Client) CreateRoom(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", &Error{Op: "create room", Err: ErrRoomCreation, Details: "room name is empty"}
	}

	var resp createRoomResponse
	if err := c.do(ctx, "create room", http.MethodPost, "/createRoom", nil, createRoomRequest{Name: name}, &resp); err != nil {
		return "", asKind(err, ErrRoomCreation)
	}
	if resp.RoomID == "" {
		return "", &Error{Op: "create room", Err: ErrRoomCreation, Details: "response has no roomId"}
	}

	slog.Debug("room created", "room_id", resp.RoomID, "name", name, "message", resp.Message)
	return resp.RoomID, nil
}

// PostOffer sends the local offer for roomID and returns the server's answer.
func (c *Client) PostOffer(ctx context.Context, roomID string, offer SessionDescription) (SessionDescription, error) {
	var resp answerResponse
	if err := c.do(ctx, "post offer", http.MethodPost, c.prefix+"/webrtc", roomQuery(roomID), offer, &resp); err != nil {
		return SessionDescription{}, err
	}
	if resp.SDP == "" {
		return SessionDescription{}, &Error{Op: "post offer", Err: ErrSignaling, Details: "response has no sdp"}
	}
	return SessionDescription{Type: SDPTypeAnswer, SDP: resp.SDP}, nil
}

// PostICECandidate publishes one local candidate for roomID.
func (c *Client) PostICECandidate(ctx context.Context, roomID string, candidate ICECandidate) error {
	return c.do(ctx, "post candidate", http.MethodPost, c.prefix+"/ice", roomQuery(roomID), candidate, nil)
}

// PollICECandidates fetches the candidates the server holds for roomID. The
// result is never nil. A body that is not a JSON array, such as a status
// object, counts as no candidates.
func (c *Client) PollICECandidates(ctx context.Context, roomID string) ([]ICECandidate, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "poll candidates", http.MethodGet, c.prefix+"/ice", roomQuery(roomID), nil, &raw); err != nil {
		return []ICECandidate{}, err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return []ICECandidate{}, nil
	}

	candidates := []ICECandidate{}
	if err := json.Unmarshal(trimmed, &candidates); err != nil {
		return []ICECandidate{}, newError("poll candidates", ErrSignaling, fmt.Errorf("decode response: %w", err))
	}
	return candidates, nil
}

// Disconnect tells the server this client left roomID.
func (c *Client) Disconnect(ctx context.Context, roomID string) error {
	return c.do(ctx, "disconnect", http.MethodPost, c.prefix+"/disconnect", roomQuery(roomID), nil, nil)
}

func roomQuery(roomID string) url.Values {
	return url.Values{"roomId": []string{roomID}}
}

// do sends one JSON request. out may be nil to discard the body, or a
// *json.RawMessage to take it verbatim.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return newError(op, ErrSignaling, fmt.Errorf("encode request: %w", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return newError(op, ErrSignaling, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return newError(op, ErrSignaling, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return newError(op, ErrSignaling, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return newError(op, ErrSignaling, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, ErrSignaling, resp.StatusCode, truncate(string(data), maxErrorBodySize))
	}

	if out == nil {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return newError(op, ErrSignaling, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// asKind re-labels a transport failure with a more specific sentinel.
func asKind(err error, kind error) error {
	if e, ok := err.(*Error); ok {
		e.Err = kind
		return e
	}
	return newError("", kind, err)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
