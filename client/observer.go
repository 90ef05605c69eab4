package client

// Observer receives connection lifecycle notifications. Callbacks run on
// whichever goroutine caused the transition, one at a time and in transition
// order; they may call back into the Client.
type Observer interface {
	// Connected reports a live connection. conn.Identity is the identity the
	// server announced during attach.
	Connected(conn Connection)
	// ConnectFailed reports that a connect attempt ended without a
	// connection, including one aborted by Disconnect.
	ConnectFailed(target string, err error)
	// Disconnected reports the end of a connection previously reported by
	// Connected, at most once per connection. err is nil when Disconnect
	// was called and a TransportError otherwise.
	Disconnected(conn Connection, err error)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnConnected     func(conn Connection)
	OnConnectFailed func(target string, err error)
	OnDisconnected  func(conn Connection, err error)
}

func (f ObserverFuncs) Connected(conn Connection) {
	if f.OnConnected != nil {
		f.OnConnected(conn)
	}
}

func (f ObserverFuncs) ConnectFailed(target string, err error) {
	if f.OnConnectFailed != nil {
		f.OnConnectFailed(target, err)
	}
}

func (f ObserverFuncs) Disconnected(conn Connection, err error) {
	if f.OnDisconnected != nil {
		f.OnDisconnected(conn, err)
	}
}

type eventKind int

const (
	eventConnected eventKind = iota
	eventConnectFailed
	eventDisconnected
)

type event struct {
	kind   eventKind
	conn   Connection
	target string
	err    error
}

// enqueueLocked records a notification. c.mu must be held, so events are
// queued in the order the state changed.
func (c *Client) enqueueLocked(ev event) {
	c.events = append(c.events, ev)
}

// flush delivers queued notifications. Only one goroutine delivers at a time;
// events queued meanwhile, including from inside a callback, are picked up by
// that goroutine.
func (c *Client) flush() {
	c.mu.Lock()
	if c.flushing {
		c.mu.Unlock()
		return
	}
	c.flushing = true
	for len(c.events) > 0 {
		ev := c.events[0]
		c.events = c.events[1:]
		obs := c.observer
		c.mu.Unlock()

		if obs != nil {
			switch ev.kind {
			case eventConnected:
				obs.Connected(ev.conn)
			case eventConnectFailed:
				obs.ConnectFailed(ev.target, ev.err)
			case eventDisconnected:
				obs.Disconnected(ev.conn, ev.err)
			}
		}

		c.mu.Lock()
	}
	c.flushing = false
	c.mu.Unlock()
}
