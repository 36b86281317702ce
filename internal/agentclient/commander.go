package agentclient

import (
	"context"
	"time"

	"github.com/simfleet/simfleet/internal/api"
)

// Commander adapts the per-address client API to the command interface the
// session coordinator consumes.
type Commander struct {
	timeout time.Duration
}

func NewCommander(timeout time.Duration) *Commander {
	return &Commander{timeout: timeout}
}

func (c *Commander) client(addr string) *Client {
	cl := New(addr)
	if c.timeout > 0 {
		cl = cl.WithUnaryTimeout(c.timeout)
	}
	return cl
}

func (c *Commander) Configure(ctx context.Context, addr string, req api.ConfigureRequest) error {
	_, err := c.client(addr).Configure(ctx, req)
	return err
}

func (c *Commander) Start(ctx context.Context, addr string) error {
	_, err := c.client(addr).Start(ctx)
	return err
}

func (c *Commander) Stop(ctx context.Context, addr string) error {
	_, err := c.client(addr).Stop(ctx)
	return err
}
