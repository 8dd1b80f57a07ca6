// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultTimeout bounds a request when ctx has no deadline.
const DefaultTimeout = 30 * time.Second

// Client sends commands to a Server. It binds its own socket so that the
// server can answer. Requests are serialized.
type Client struct {
	mu        sync.Mutex
	conn      *net.UnixConn
	localPath string
}

// Dial connects to the control socket at socketPath.
func Dial(socketPath string) (*Client, error) {
	localPath := filepath.Join(os.TempDir(), fmt.Sprintf("tracectl-%d-%d.sock", os.Getpid(), time.Now().UnixNano()))
	laddr := &net.UnixAddr{Name: localPath, Net: "unixgram"}
	raddr := &net.UnixAddr{Name: socketPath, Net: "unixgram"}

	conn, err := net.DialUnix("unixgram", laddr, raddr)
	if err != nil {
		os.Remove(localPath)
		return nil, fmt.Errorf("dial control socket %s: %w", socketPath, err)
	}
	return &Client{conn: conn, localPath: localPath}, nil
}

// Close releases the client socket.
func (c *Client) Close() error {
	err := c.conn.Close()
	os.Remove(c.localPath)
	return err
}

// Do sends req and waits for the response.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultTimeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	if _, err := c.conn.Write(b); err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Op, err)
	}

	buf := make([]byte, MaxDatagram)
	n, err := c.conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.Op, err)
	}

	var resp Response
	if err := json.Unmarshal(buf[:n], &resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", req.Op, err)
	}
	return &resp, nil
}

func (c *Client) call(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp, resp.Err()
}

// SetInclusionFilter sets the method inclusion pattern.
func (c *Client) SetInclusionFilter(ctx context.Context, pattern string) error {
	_, err := c.call(ctx, &Request{Op: OpSetMethodFilter, Pattern: pattern})
	return err
}

// SetExclusionFilter sets the method exclusion pattern; "" disables it.
func (c *Client) SetExclusionFilter(ctx context.Context, pattern string) error {
	_, err := c.call(ctx, &Request{Op: OpSetMethodExclude, Pattern: pattern})
	return err
}

// Filters reads back the current patterns.
func (c *Client) Filters(ctx context.Context) (*Response, error) {
	return c.call(ctx, &Request{Op: OpGetFilters})
}

// EnumerateClasses asks the agent to report all loaded classes and returns
// how many were found.
func (c *Client) EnumerateClasses(ctx context.Context) (int, error) {
	resp, err := c.call(ctx, &Request{Op: OpEnumerateClasses})
	if resp == nil {
		return 0, err
	}
	return resp.Count, err
}

// HookClasses asks the agent to hook classes with its current filter.
func (c *Client) HookClasses(ctx context.Context, classes []string) (*Response, error) {
	return c.call(ctx, &Request{Op: OpProvidedClassesHook, Classes: classes})
}
