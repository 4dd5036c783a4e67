package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"depesha/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadMessage() (messageType int, p []byte, err error)
}

type messageHub interface {
	Join(identity string) chan models.ServerMessage
	Leave(identity string, ch chan models.ServerMessage)
	Dispatch(identity string, msg models.ClientMessage)
}

type connState int

const (
	stateUnauthenticated connState = iota
	stateAuthenticated
	stateClosed
)

// Connection drives the per-connection protocol state machine. It starts
// unauthenticated: the only accepted command is announce, which registers the
// claimed identity with the hub. The identity is trusted as claimed; the
// credential check happened before the transport was established.
type Connection struct {
	ws  wsConnection
	hub messageHub

	state      connState
	identity   string
	fromClient chan models.ClientMessage
	fromServer chan models.ServerMessage
	errorCh    chan error
}

func NewConnection(hub messageHub, ws wsConnection) *Connection {
	return &Connection{
		ws:         ws,
		hub:        hub,
		state:      stateUnauthenticated,
		fromClient: make(chan models.ClientMessage),
		errorCh:    make(chan error, 2),
	}
}

// Handle runs the connection until the transport closes from either end.
// On exit the identity (if announced) is unregistered and the offline
// transition broadcast.
func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		if c.state == stateAuthenticated {
			c.hub.Leave(c.identity, c.fromServer)
		}
		c.state = stateClosed
		close(c.fromClient)
		close(c.errorCh)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// pumpMessages reads raw frames and decodes them. A transport error ends the
// connection; a payload that fails to decode is logged and discarded so
// garbage input cannot take the session down.
func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}

		var msg models.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("discarding malformed payload", "error", err)
			continue
		}

		select {
		case c.fromClient <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case msg := <-c.fromClient:
			c.processClientMessage(msg)
		case msg := <-c.fromServer: // nil until announce, blocks forever
			if err := c.ws.WriteJSON(msg); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) processClientMessage(msg models.ClientMessage) {
	switch c.state {
	case stateUnauthenticated:
		if msg.Type != models.ClientMessageTypeAnnounce || msg.Identity == "" {
			slog.Debug("discarding command before announce", "type", msg.Type)
			return
		}
		c.identity = msg.Identity
		c.fromServer = c.hub.Join(c.identity)
		c.state = stateAuthenticated
	case stateAuthenticated:
		if msg.Type == models.ClientMessageTypeAnnounce {
			slog.Debug("ignoring repeated announce", "identity", c.identity)
			return
		}
		c.hub.Dispatch(c.identity, msg)
	}
}
