package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/Foodstream-io/livecall/internal/auth"
)

func newTestClient(t *testing.T, h http.Handler, prefix string, tokens auth.TokenSource) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(Options{BaseURL: srv.URL, APIPrefix: prefix, Tokens: tokens, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClientValidatesURL(t *testing.T) {
	for _, u := range []string{"", "ftp://example.com", "http://", "://bad"} {
		if _, err := NewClient(Options{BaseURL: u}); err == nil {
			t.Errorf("NewClient(%q) succeeded", u)
		}
	}
	c, err := NewClient(Options{BaseURL: "https://example.com/", APIPrefix: "api/"})
	if err != nil {
		t.Fatal(err)
	}
	if c.prefix != "/api" || c.BaseURL() != "https://example.com" {
		t.Errorf("prefix=%q base=%q", c.prefix, c.BaseURL())
	}
}

func TestCreateRoom(t *testing.T) {
	var gotName, gotAuth, gotType string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/createRoom" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var req createRoomRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotName, gotAuth, gotType = req.Name, r.Header.Get("Authorization"), r.Header.Get("Content-Type")
		w.Write([]byte(`{"roomId":"r-123","message":"Room created"}`))
	}), "/api", auth.StaticToken("opaque-token"))

	id, err := c.CreateRoom(context.Background(), "  Kitchen Live ")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if id != "r-123" {
		t.Errorf("id = %q", id)
	}
	if gotName != "Kitchen Live" {
		t.Errorf("name = %q", gotName)
	}
	if gotAuth != "Bearer opaque-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotType != "application/json" {
		t.Errorf("Content-Type = %q", gotType)
	}
}

func TestCreateRoomFailures(t *testing.T) {
	var hits atomic.Int32
	status := http.StatusOK
	body := `{}`
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
		io.WriteString(w, body)
	}), "", nil)

	if _, err := c.CreateRoom(context.Background(), "   "); !errors.Is(err, ErrRoomCreation) {
		t.Errorf("empty name: %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("empty name sent %d requests", hits.Load())
	}

	if _, err := c.CreateRoom(context.Background(), "x"); !errors.Is(err, ErrRoomCreation) {
		t.Errorf("missing roomId: %v", err)
	}

	status, body = http.StatusBadRequest, `{"error":"name taken"}`
	_, err := c.CreateRoom(context.Background(), "x")
	var se *Error
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest || !errors.Is(err, ErrRoomCreation) {
		t.Fatalf("rejected: %v", err)
	}
	if !strings.Contains(se.Details, "name taken") {
		t.Errorf("details = %q", se.Details)
	}
}

func TestPostOffer(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/webrtc" || r.URL.Query().Get("roomId") != "r-123" {
			t.Errorf("unexpected %s", r.URL)
		}
		var offer SessionDescription
		json.NewDecoder(r.Body).Decode(&offer)
		if offer.Type != "offer" || offer.SDP != "v=0 offer" {
			t.Errorf("offer = %+v", offer)
		}
		w.Write([]byte(`{"sdp":"v=0...answer..."}`))
	}), "/api", nil)

	answer, err := c.PostOffer(context.Background(), "r-123", SessionDescription{Type: "offer", SDP: "v=0 offer"})
	if err != nil {
		t.Fatalf("PostOffer: %v", err)
	}
	if answer.Type != SDPTypeAnswer || answer.SDP != "v=0...answer..." {
		t.Errorf("answer = %+v", answer)
	}
}

func TestPostOfferErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, "boom"},
		{"unauthorized", http.StatusUnauthorized, `{"error":"invalid token"}`},
		{"missing sdp", http.StatusOK, `{"type":"answer"}`},
		{"not json", http.StatusOK, `<html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}), "", nil)

			_, err := c.PostOffer(context.Background(), "r-1", SessionDescription{Type: "offer", SDP: "v=0"})
			if !errors.Is(err, ErrSignaling) {
				t.Errorf("err = %v, want ErrSignaling", err)
			}
		})
	}
}

func TestPostICECandidate(t *testing.T) {
	var got ICECandidate
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/ice" || r.URL.Query().Get("roomId") != "r-1" {
			t.Errorf("unexpected %s %s", r.Method, r.URL)
		}
		json.NewDecoder(r.Body).Decode(&got)
	}), "", nil)

	mid, line := "0", uint16(0)
	want := ICECandidate{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid, SDPMLineIndex: &line}
	if err := c.PostICECandidate(context.Background(), "r-1", want); err != nil {
		t.Fatalf("PostICECandidate: %v", err)
	}
	if got.Key() != want.Key() {
		t.Errorf("server got %+v", got)
	}
}

func TestPollICECandidates(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"array", `[{"candidate":"a","sdpMid":"0","sdpMLineIndex":0},{"candidate":"b"}]`, 2},
		{"empty array", `[]`, 0},
		{"null", `null`, 0},
		{"status object", `{"status":"no candidates"}`, 0},
		{"empty body", ``, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet {
					t.Errorf("method = %s", r.Method)
				}
				io.WriteString(w, tt.body)
			}), "/api", nil)

			got, err := c.PollICECandidates(context.Background(), "r-1")
			if err != nil {
				t.Fatalf("PollICECandidates: %v", err)
			}
			if got == nil {
				t.Fatal("result is nil")
			}
			if len(got) != tt.want {
				t.Errorf("got %d candidates, want %d", len(got), tt.want)
			}
		})
	}
}

func TestPollICECandidatesErrorStillNonNil(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}), "", nil)

	got, err := c.PollICECandidates(context.Background(), "r-1")
	if !errors.Is(err, ErrSignaling) {
		t.Errorf("err = %v", err)
	}
	if got == nil {
		t.Error("result is nil on error")
	}
}

func TestUnauthenticatedHasNoHeader(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h := r.Header.Get("Authorization"); h != "" {
			t.Errorf("Authorization = %q", h)
		}
	}), "", auth.None{})

	if err := c.Disconnect(context.Background(), "r-1"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
}

func TestTokenErrorStopsRequest(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}), "", auth.FileToken{Path: "/nonexistent/token"})

	if err := c.PostICECandidate(context.Background(), "r-1", ICECandidate{Candidate: "c"}); !errors.Is(err, ErrSignaling) {
		t.Errorf("err = %v", err)
	}
	if hits.Load() != 0 {
		t.Errorf("request sent despite token failure")
	}
}

func TestContextCancel(t *testing.T) {
	block := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}), "", nil)
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.PollICECandidates(ctx, "r-1"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
