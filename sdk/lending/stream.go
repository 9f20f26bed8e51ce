package lending

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"intentlend/core/types"
)

// Subscription is a live feed of committed engine events.
type Subscription struct {
	conn *websocket.Conn
}

// Subscribe opens the event stream. When eventTypes is non-empty only those
// types are delivered.
func (c *Client) Subscribe(ctx context.Context, eventTypes ...string) (*Subscription, error) {
	if c == nil {
		return nil, ErrClientClosed
	}
	var query url.Values
	if len(eventTypes) > 0 {
		query = url.Values{"types": {strings.Join(eventTypes, ",")}}
	}
	target := c.endpoint("/stream", query)
	switch {
	case strings.HasPrefix(target, "https://"):
		target = "wss://" + strings.TrimPrefix(target, "https://")
	case strings.HasPrefix(target, "http://"):
		target = "ws://" + strings.TrimPrefix(target, "http://")
	}
	header := http.Header{}
	c.authorize(header)
	// The websocket dialer rejects clients with a global timeout.
	hc := *c.http
	hc.Timeout = 0
	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPClient: &hc,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("lending: dial stream: %w", err)
	}
	return &Subscription{conn: conn}, nil
}

// Next blocks until the next event arrives or ctx ends.
func (s *Subscription) Next(ctx context.Context) (*types.Event, error) {
	var ev types.Event
	if err := wsjson.Read(ctx, s.conn, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (s *Subscription) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
