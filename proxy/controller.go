// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"sentryvolt/sidecar/shared/logger"
)

// Controller errors
var (
	ErrAlreadyRunning = errors.New("proxy is already running")
	ErrNotRunning     = errors.New("proxy is not running")
)

// Status is the control-surface view of the proxy lifecycle.
type Status struct {
	Running   bool       `json:"running"`
	Host      string     `json:"host,omitempty"`
	Port      int        `json:"port,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Requests  int64      `json:"requests"`
	Blocked   int64      `json:"blocked"`
}

// Controller owns the proxy listener lifecycle so the management API
// can start and stop it independently of the management server itself.
type Controller struct {
	proxy *Proxy
	log   *logger.Logger

	mu        sync.Mutex
	server    *http.Server
	host      string
	port      int
	startedAt time.Time
}

// NewController wraps a proxy handler with lifecycle management.
func NewController(p *Proxy) *Controller {
	return &Controller{proxy: p, log: logger.New("proxy-controller")}
}

// Start binds the proxy listener. The bound address is always a local
// interface; the sidecar never exposes the proxy beyond the machine.
func (c *Controller) Start(host string, port int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.server != nil {
		return ErrAlreadyRunning
	}
	if host == "" {
		host = "127.0.0.1"
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind proxy listener on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           c.proxy,
		ReadHeaderTimeout: 10 * time.Second,
	}
	c.server = srv
	c.host = host
	c.port = port
	c.startedAt = time.Now().UTC()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.Errorf("", "", "Proxy listener exited", err, nil)
		}
	}()

	c.log.Info("", "", "Proxy started", map[string]interface{}{"addr": addr})
	return nil
}

// Stop shuts the listener down gracefully, letting in-flight requests
// finish within the context deadline.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	srv := c.server
	c.server = nil
	c.mu.Unlock()

	if srv == nil {
		return ErrNotRunning
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop proxy: %w", err)
	}
	c.log.Info("", "", "Proxy stopped", nil)
	return nil
}

// Status reports whether the proxy is listening and its counters.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		Requests: c.proxy.RequestCount(),
		Blocked:  c.proxy.BlockedCount(),
	}
	if c.server != nil {
		s.Running = true
		s.Host = c.host
		s.Port = c.port
		started := c.startedAt
		s.StartedAt = &started
	}
	return s
}
