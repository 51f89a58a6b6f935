package registry

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	writeDeadline     = 5 * time.Second
	messageBufferSize = 16
)

// Conn is the transport surface the registry needs from a connection.
// *websocket.Conn satisfies it; tests substitute fakes.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client wraps one live connection with a dedicated write goroutine.
// All outbound traffic for the connection (acks, pongs are control frames,
// notifications) funnels through TrySend so the transport only ever sees a
// single writer.
type Client struct {
	conn        Conn
	clock       clockwork.Clock
	sendChannel chan []byte
	doneChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	activityMutex sync.Mutex
	lastActivity  time.Time

	pongWait time.Duration
}

// NewClient starts the write goroutine for conn. pongWait bounds how long the
// transport read side waits for liveness before erroring out.
func NewClient(conn Conn, clock clockwork.Clock, pongWait time.Duration) *Client {
	c := &Client{
		conn:         conn,
		clock:        clock,
		sendChannel:  make(chan []byte, messageBufferSize),
		doneChannel:  make(chan struct{}),
		lastActivity: clock.Now(),
		pongWait:     pongWait,
	}
	_ = conn.SetReadDeadline(clock.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		c.MarkActivity()
		return nil
	})
	c.wg.Add(1)
	go c.run()
	return c
}

func (c *Client) run() {
	defer c.wg.Done()
	for {
		select {
		case msg, ok := <-c.sendChannel:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(c.clock.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.doneChannel:
			return
		}
	}
}

// TrySend enqueues msg without blocking. Returns false when the buffer is
// full, which marks the connection as slow.
func (c *Client) TrySend(msg []byte) bool {
	select {
	case c.sendChannel <- msg:
		return true
	default:
		return false
	}
}

// Ping sends a liveness probe as a control frame. Control frames bypass the
// write goroutine; gorilla/websocket permits this concurrently.
func (c *Client) Ping(timeout time.Duration) error {
	return c.conn.WriteControl(websocket.PingMessage, nil, c.clock.Now().Add(timeout))
}

// MarkActivity records that the connection showed signs of life (pong or any
// inbound message) and pushes the transport read deadline out by pongWait.
// The deadline must follow every kind of activity, not just pongs: an
// unsubscribed connection is never control-pinged, so its JSON pings are the
// only thing keeping the read side alive.
func (c *Client) MarkActivity() {
	_ = c.conn.SetReadDeadline(c.clock.Now().Add(c.pongWait))
	c.activityMutex.Lock()
	c.lastActivity = c.clock.Now()
	c.activityMutex.Unlock()
}

// LastActivity returns the time of the most recent pong or inbound message.
func (c *Client) LastActivity() time.Time {
	c.activityMutex.Lock()
	defer c.activityMutex.Unlock()
	return c.lastActivity
}

// Stop terminates the write goroutine and closes the transport.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.doneChannel)
		_ = c.conn.Close()
	})
	c.wg.Wait()
}

// StopWithReason sends a close frame with reason before closing the transport.
func (c *Client) StopWithReason(reason string) {
	c.stopOnce.Do(func() {
		close(c.doneChannel)
		c.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = c.conn.SetWriteDeadline(c.clock.Now().Add(writeDeadline))
		_ = c.conn.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = c.conn.Close()
	})
}
