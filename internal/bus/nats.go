// Package bus publishes batch events on NATS.
package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const closeTimeout = 5 * time.Second

// conn is the part of *nats.Conn a Client uses.
type conn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Drain() error
}

type Client struct {
	nc      conn
	closed  chan struct{}
	timeout time.Duration
}

func Connect(url string) (*Client, error) {
	closed := make(chan struct{})
	nc, err := nats.Connect(url,
		nats.Name("geoexport"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DrainTimeout(closeTimeout),
		nats.ClosedHandler(func(*nats.Conn) { close(closed) }),
	)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc, closed: closed, timeout: closeTimeout}, nil
}

// Close flushes pending messages, drains the connection and waits until it
// is closed, so events published just before exit reach the server.
func (c *Client) Close() error {
	if c.nc == nil {
		return nil
	}
	var errs []error
	if err := c.nc.FlushTimeout(c.timeout); err != nil {
		errs = append(errs, fmt.Errorf("flush: %w", err))
	}
	if err := c.nc.Drain(); err != nil {
		return errors.Join(append(errs, fmt.Errorf("drain: %w", err))...)
	}
	select {
	case <-c.closed:
	case <-time.After(c.timeout):
		errs = append(errs, errors.New("timed out waiting for connection to close"))
	}
	return errors.Join(errs...)
}

func (c *Client) PublishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.nc.Publish(subject, b)
}
