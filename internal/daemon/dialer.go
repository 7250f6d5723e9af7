// ABOUTME: Websocket dialer for the daemon's outbound relay connection.
// ABOUTME: Presents the relay token as a connection-scoped header during the upgrade.

package daemon

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"github.com/oakhq/oak-relay/internal/protocol"
)

// WebsocketDialer opens the relay socket with coder/websocket.
type WebsocketDialer struct{}

// Dial connects to the edge's /connect endpoint. The relay token goes in the
// Authorization header so the edge rejects the upgrade before any frame is
// read; unauthenticated frames are never processed.
func (WebsocketDialer) Dial(ctx context.Context, baseURL, project, relayToken string) (Sock, error) {
	u, err := connectURL(baseURL)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+relayToken)
	header.Set(protocol.HeaderProject, project)

	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("dialing relay: %w", err)
	}
	return &websocketSock{conn: conn}, nil
}

// connectURL turns the configured base URL into the websocket connect URL.
func connectURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/connect"
	return u.String(), nil
}

type websocketSock struct {
	conn *websocket.Conn
}

func (s *websocketSock) ReadFrame(ctx context.Context) (protocol.Frame, error) {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		return protocol.Frame{}, err
	}
	return protocol.Decode(data)
}

func (s *websocketSock) WriteFrame(ctx context.Context, f protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *websocketSock) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
