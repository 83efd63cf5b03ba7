package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Foodstream-io/livecall/internal/auth"
	"github.com/Foodstream-io/livecall/internal/dns"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Feed is a WebSocket subscription to the server's broadcast relay. It
// carries candidates for one room in both directions; frames from other
// rooms and echoes of our own frames are dropped.
type Feed struct {
	conn     *websocket.Conn
	roomID   string
	clientID string
	incoming chan ICECandidate
	outgoing chan *feedMessage
	done     chan struct{}
	close    sync.Once
}

// FeedURL derives the feed endpoint from the server's base URL.
func FeedURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid server URL %q: unsupported scheme", baseURL)
	}
	u.Path += "/ws"
	return u.String(), nil
}

// DialFeed connects to feedURL and binds the feed to roomID.
func DialFeed(ctx context.Context, feedURL, roomID string, tokens auth.TokenSource) (*Feed, error) {
	header := http.Header{}
	if tokens != nil {
		token, err := tokens.Token(ctx)
		if err != nil {
			return nil, newError("dial feed", ErrSignaling, err)
		}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	dialer := websocket.Dialer{
		NetDialContext:   dns.DialContext,
		HandshakeTimeout: writeWait,
		Proxy:            http.ProxyFromEnvironment,
	}

	conn, resp, err := dialer.DialContext(ctx, feedURL, header)
	if err != nil {
		if resp != nil {
			return nil, &Error{Op: "dial feed", Err: ErrSignaling, Cause: err, StatusCode: resp.StatusCode}
		}
		return nil, newError("dial feed", ErrSignaling, err)
	}

	f := &Feed{
		conn:     conn,
		roomID:   roomID,
		clientID: uuid.NewString(),
		incoming: make(chan ICECandidate, 32),
		outgoing: make(chan *feedMessage, 32),
		done:     make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go f.readPump()
	go f.writePump()

	return f, nil
}

// Candidates delivers remote candidates for the bound room. It is closed
// when the connection ends.
func (f *Feed) Candidates() <-chan ICECandidate {
	return f.incoming
}

// Send broadcasts a local candidate to the room.
func (f *Feed) Send(candidate ICECandidate) error {
	msg := &feedMessage{From: f.clientID, RoomID: f.roomID, Candidate: &candidate}
	select {
	case f.outgoing <- msg:
		return nil
	case <-f.done:
		return ErrFeedClosed
	}
}

// Close ends the subscription. Safe to call more than once.
func (f *Feed) Close() error {
	f.close.Do(func() {
		close(f.done)
	})
	return nil
}

func (f *Feed) readPump() {
	defer func() {
		f.conn.Close()
		close(f.incoming)
	}()

	f.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg feedMessage
		if err := f.conn.ReadJSON(&msg); err != nil {
			select {
			case <-f.done:
			default:
				slog.Warn("candidate feed read failed", "room_id", f.roomID, "err", err)
			}
			return
		}

		if msg.From == f.clientID || msg.RoomID != f.roomID || msg.Candidate == nil {
			continue
		}

		select {
		case f.incoming <- *msg.Candidate:
		case <-f.done:
			return
		}
	}
}

func (f *Feed) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		f.conn.Close()
	}()

	for {
		select {
		case msg := <-f.outgoing:
			f.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := f.conn.WriteJSON(msg); err != nil {
				slog.Warn("candidate feed write failed", "room_id", f.roomID, "err", err)
				f.Close()
				return
			}

		case <-ticker.C:
			f.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := f.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.Close()
				return
			}

		case <-f.done:
			f.conn.SetWriteDeadline(time.Now().Add(writeWait))
			f.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
