package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

// Client reads auction events from the websocket endpoint.
type Client struct {
	Endpoint string
	Conn     *websocket.Conn
}

func NewClient(endpoint string) *Client {
	return &Client{Endpoint: endpoint}
}

func (c *Client) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.Endpoint, nil)
	if err != nil {
		return err
	}
	c.Conn = conn
	return nil
}

func (c *Client) Close() {
	if c.Conn != nil {
		_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.Conn.Close()
	}
}

// Read waits for the next event, honouring the ctx deadline if any.
func (c *Client) Read(ctx context.Context) (Event, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.Conn.SetReadDeadline(deadline)
	} else {
		_ = c.Conn.SetReadDeadline(time.Time{})
	}
	_, msg, err := c.Conn.ReadMessage()
	if err != nil {
		return Event{}, err
	}
	var ev Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// ReadUntil reads events until one of type t arrives.
func (c *Client) ReadUntil(ctx context.Context, t EventType) (Event, error) {
	for {
		ev, err := c.Read(ctx)
		if err != nil {
			return Event{}, err
		}
		if ev.Type == t {
			return ev, nil
		}
	}
}
