package registry

import (
	"errors"
	"sync"
	"time"
)

var errFakeConnClosed = errors.New("fake conn closed")

// fakeConn is an in-memory Conn for tests. Writes can be blocked to simulate
// a slow consumer; Close unblocks pending writes the way a real socket does.
type fakeConn struct {
	mu           sync.Mutex
	messages     [][]byte
	pings        int
	closed       bool
	closedCh     chan struct{}
	blockWrites  bool
	unblockCh    chan struct{}
	pingErr      error
	readDeadline time.Time
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		closedCh:  make(chan struct{}),
		unblockCh: make(chan struct{}),
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	blocked := c.blockWrites
	c.mu.Unlock()

	if blocked {
		select {
		case <-c.unblockCh:
		case <-c.closedCh:
			return errFakeConnClosed
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errFakeConnClosed
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.messages = append(c.messages, cp)
	return nil
}

func (c *fakeConn) WriteControl(_ int, _ []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pingErr != nil {
		return c.pingErr
	}
	c.pings++
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline = t
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) SetPongHandler(func(string) error) {}

func (c *fakeConn) ReadDeadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readDeadline
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.closedCh)
	}
	return nil
}

func (c *fakeConn) Messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *fakeConn) Pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) setPingErr(err error) {
	c.mu.Lock()
	c.pingErr = err
	c.mu.Unlock()
}
