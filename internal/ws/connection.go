package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"nexus/internal/logging"
	"nexus/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeWait = 10 * time.Second

var (
	errSessionClosed = errors.New("session closed by hub")
	errHandlerPanic  = errors.New("event handler panicked")
)

type wsConnection interface {
	Close() error
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

type messageHub interface {
	Connect(connID string, cancel context.CancelFunc) <-chan models.ServerEvent
	Disconnect(connID string)
	Dispatch(connID string, ev models.ClientEvent)
}

type ConnectionConfig struct {
	PingPeriod time.Duration
	ReadLimit  int64
}

type Connection struct {
	ws         wsConnection
	hub        messageHub
	id         string
	config     ConnectionConfig
	fromClient chan models.ClientEvent
	errorCh    chan error
	log        zerolog.Logger
}

func NewConnection(
	hub messageHub,
	ws wsConnection,
	connID string,
	config ConnectionConfig,
) *Connection {
	return &Connection{
		ws:         ws,
		hub:        hub,
		id:         connID,
		config:     config,
		fromClient: make(chan models.ClientEvent),
		errorCh:    make(chan error, 2),
		log:        logging.For("ws.conn").With().Str("conn", connID).Logger(),
	}
}

// Handle runs the connection until the client goes away, ctx is cancelled or
// the hub drops the session. The hub session is destroyed before it returns.
func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	fromServer := c.hub.Connect(c.id, cancel)
	defer func() {
		cancel()
		close(c.fromClient)
		close(c.errorCh)
		c.hub.Disconnect(c.id)
	}()

	c.ws.SetReadLimit(c.config.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
	})

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx, fromServer)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
		// A failing goroutine reports before it cancels.
		select {
		case err = <-c.errorCh:
		default:
		}
	}
	_ = c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) && !isCloseError(err) {
		return err
	}

	return nil
}

func (c *Connection) pongWait() time.Duration {
	return c.config.PingPeriod * 2
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		ev, err := models.DecodeClientEvent(frame)
		if err != nil {
			c.log.Debug().Err(err).Msg("malformed frame")
			ev = models.Malformed{Reason: err.Error()}
		}
		select {
		case c.fromClient <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context, fromServer <-chan models.ServerEvent) error {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-c.fromClient:
			if err := c.dispatch(ev); err != nil {
				return err
			}
		case ev, ok := <-fromServer:
			if !ok {
				return errSessionClosed
			}
			frame, err := encodeFrame(ev)
			if err != nil {
				return err
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return err
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// dispatch hands ev to the hub. A panicking handler costs only this
// connection: the error ends the main loop and Handle runs the teardown.
func (c *Connection) dispatch(ev models.ClientEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().
				Str("event", fmt.Sprintf("%T", ev)).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("event handler panicked")
			err = fmt.Errorf("%w: %v", errHandlerPanic, r)
		}
	}()
	c.hub.Dispatch(c.id, ev)
	return nil
}

// encodeFrame wraps ev in its envelope. HTML escaping is off so relayed
// payloads keep their characters; RawMessage values are only compacted.
func encodeFrame(ev models.ServerEvent) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(models.Wrap(ev)); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", ev.Type(), err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func isCloseError(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
