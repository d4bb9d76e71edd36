package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrDaemonNotRunning is returned by Dial when nothing listens on the socket.
var ErrDaemonNotRunning = errors.New("daemon not running")

// Client is one connection to the daemon. Requests are serialized; an
// overlay reads pushed messages with Receive.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
	writeMu sync.Mutex
	id      string
	pending []Message // pushed messages read while awaiting a result
}

// Dial connects to the daemon socket.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDaemonNotRunning, err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return &Client{conn: conn, scanner: scanner}, nil
}

// ID returns the client id assigned by Subscribe.
func (c *Client) ID() string {
	return c.id
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send writes one message without waiting for an answer.
func (c *Client) Send(t MessageType, payload any) error {
	msg, err := NewMessage(t, payload)
	if err != nil {
		return err
	}
	msg.ClientID = c.id
	return c.write(msg)
}

func (c *Client) write(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}

// Receive blocks for the next message from the daemon.
func (c *Client) Receive() (Message, error) {
	if len(c.pending) > 0 {
		msg := c.pending[0]
		c.pending = c.pending[1:]
		return msg, nil
	}
	return c.read()
}

func (c *Client) read() (Message, error) {
	for c.scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(c.scanner.Bytes(), &msg); err != nil {
			continue
		}
		return msg, nil
	}
	if err := c.scanner.Err(); err != nil {
		return Message{}, err
	}
	return Message{}, net.ErrClosed
}

// Request sends a message with a fresh ID and waits for its result. Other
// messages arriving meanwhile are queued for Receive. Request and Receive
// must not run concurrently.
func (c *Client) Request(ctx context.Context, t MessageType, payload any) (ResultPayload, error) {
	msg, err := NewMessage(t, payload)
	if err != nil {
		return ResultPayload{}, err
	}
	msg.ID = uuid.NewString()
	msg.ClientID = c.id
	defer c.conn.SetReadDeadline(time.Time{})
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	}
	if err := c.write(msg); err != nil {
		return ResultPayload{}, err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		reply, err := c.read()
		if err != nil {
			if ctx.Err() != nil {
				return ResultPayload{}, ctx.Err()
			}
			return ResultPayload{}, fmt.Errorf("await %s result: %w", t, err)
		}
		if reply.Type != MsgResult || reply.ID != msg.ID {
			c.pending = append(c.pending, reply)
			continue
		}
		var res ResultPayload
		if err := reply.Decode(&res); err != nil {
			return ResultPayload{}, err
		}
		if !res.OK {
			return res, fmt.Errorf("%s: %s", t, res.Error)
		}
		return res, nil
	}
}

// Subscribe registers this connection as an overlay. Pushed messages are
// read with Receive afterwards.
func (c *Client) Subscribe(ctx context.Context, info SubscribePayload) error {
	if c.id == "" {
		c.id = uuid.NewString()
	}
	if info.Role == "" {
		info.Role = "overlay"
	}
	_, err := c.Request(ctx, MsgSubscribe, info)
	return err
}
