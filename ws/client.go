package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"
	"github.com/tcriess/geonote-chat/bot"
	"github.com/tcriess/geonote-chat/types"
)

const (
	sendChannelSize    = 1000
	inboundChannelSize = 16
)

// Client is a middleman between the websocket connection and the server.
type Client struct {
	server *Server

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. Closed by the server on unregister.
	Send chan []byte

	user     types.User
	endpoint types.Endpoint

	// decoded events (bot.Message or bot.Callback), closed when the read loop exits
	inbound chan interface{}

	logger hclog.Logger
}

func newClient(server *Server, conn *websocket.Conn, user types.User, endpoint types.Endpoint) *Client {
	return &Client{
		server:   server,
		conn:     conn,
		Send:     make(chan []byte, sendChannelSize),
		user:     user,
		endpoint: endpoint,
		inbound:  make(chan interface{}, inboundChannelSize),
		logger:   server.logger.With("endpoint", endpoint),
	}
}

// ReadLoop pumps messages from the websocket connection to the handle loop.
//
// The application runs ReadLoop in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadLoop(cancel context.CancelFunc) {
	defer func() {
		c.conn.Close()
		cancel()
		close(c.inbound)
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("ws closed unexpectedly", "error", err)
			}
			return
		}
		event, err := c.decode(raw)
		if err != nil {
			c.logger.Warn("could not decode ws message (ignored)", "error", err)
			continue
		}
		if event != nil {
			c.inbound <- event
		}
	}
}

// decode turns a raw websocket message into a bot event. Unknown events yield nil.
func (c *Client) decode(raw []byte) (interface{}, error) {
	message := types.WebsocketMessage{}
	err := json.Unmarshal(raw, &message)
	if err != nil {
		return nil, err
	}
	dataMap := make(map[string]interface{})
	if len(message.Data) > 0 {
		err = json.Unmarshal(message.Data, &dataMap)
		if err != nil {
			return nil, err
		}
	}
	switch message.Event {
	case types.WireMessageTypeChat:
		chatMsg := types.ChatMessage{}
		err = mapstructure.WeakDecode(dataMap, &chatMsg)
		if err != nil {
			return nil, err
		}
		return bot.Message{User: c.user, Endpoint: c.endpoint, Text: chatMsg.Message}, nil

	case types.WireMessageTypeCallback:
		cbMsg := types.CallbackMessage{}
		err = mapstructure.WeakDecode(dataMap, &cbMsg)
		if err != nil {
			return nil, err
		}
		return bot.Callback{User: c.user, Endpoint: c.endpoint, Data: cbMsg.Data, ImageId: cbMsg.ImageId}, nil
	}
	c.logger.Debug("unknown event", "event", message.Event)
	return nil, nil
}

// HandleLoop passes the decoded events to the handler, one at a time. It returns when the read loop is done.
// Events still queued after the connection is gone are dropped.
func (c *Client) HandleLoop(ctx context.Context) {
	for event := range c.inbound {
		if ctx.Err() != nil {
			continue
		}
		switch ev := event.(type) {
		case bot.Message:
			c.server.handler.HandleMessage(ctx, ev)
		case bot.Callback:
			c.server.handler.HandleCallback(ctx, ev)
		}
	}
}

// WriteLoop pumps messages from the server to the websocket connection.
//
// A goroutine running WriteLoop is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The server closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("could not write to ws connection, exiting write loop", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("could not send ping message, exiting write loop", "error", err)
				return
			}
		}
	}
}
