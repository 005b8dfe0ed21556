// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package client is the host side of the 1-wire bridge command protocol.
//
// It does not open hardware itself: the caller provides an io.ReadWriter,
// typically a serial port or a TCP connection to a running bridge, which
// also makes the package easy to test against a fake peer.
package client

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cartforge/owbridge/bridge"
)

// MaxTransfer is the largest READ or WRITE the bridge accepts.
const MaxTransfer = 512

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithProbeAttempts sets how many VERSION probes Initialize sends before
// giving up. The default is 3, which rides out a bridge that is still
// booting.
func WithProbeAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.probeAttempts = n
		}
	}
}

// New returns a Client speaking the bridge protocol over rw.
func New(rw io.ReadWriter, opts ...Option) *Client {
	c := &Client{rw: rw, r: bufio.NewReader(rw), probeAttempts: 3}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Client issues bridge commands and parses the responses. Like the bridge
// itself it is strictly one command at a time and not safe for concurrent
// use.
type Client struct {
	rw            io.ReadWriter
	r             *bufio.Reader
	probeAttempts int
}

// Initialize verifies that a bridge is answering on the other end.
//
// It sends VERSION probes and accepts any line identifying the bridge,
// including its boot banner, so it works whether the bridge was already
// running or is just starting up.
func (c *Client) Initialize() error {
	var lastErr error
	for attempt := 0; attempt < c.probeAttempts; attempt++ {
		line, err := c.send("VERSION")
		if err != nil {
			// The bridge may still be booting; try again.
			lastErr = err
			continue
		}
		// The probe response may be queued behind banner output; scan a few
		// lines before the next probe.
		for i := 0; i < 4; i++ {
			if strings.Contains(line, "1-Wire Bridge") {
				return nil
			}
			if line, err = c.readLine(); err != nil {
				lastErr = err
				break
			}
		}
	}
	if lastErr != nil {
		return fmt.Errorf("client: no bridge answered the VERSION probe: %w", lastErr)
	}
	return errors.New("client: no bridge answered the VERSION probe")
}

// Version returns the bridge's build identifier.
func (c *Client) Version() (string, error) {
	return c.send("VERSION")
}

// Search asks the bridge to discover a device and returns its ROM identity
// as 16 hex characters.
func (c *Client) Search() (string, error) {
	resp, err := c.send("SEARCH")
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(resp, "ROM:") {
		return "", &ResponseError{Command: "SEARCH", Response: resp}
	}
	return strings.TrimPrefix(resp, "ROM:"), nil
}

// Read fetches n bytes from the start of the EEPROM.
func (c *Client) Read(n int) ([]byte, error) {
	if n < 1 || n > MaxTransfer {
		return nil, fmt.Errorf("client: read size %d out of range [1, %d]", n, MaxTransfer)
	}
	resp, err := c.send(fmt.Sprintf("READ %d", n))
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(resp, "DATA:") {
		return nil, &ResponseError{Command: "READ", Response: resp}
	}
	data, err := hex.DecodeString(strings.TrimPrefix(resp, "DATA:"))
	if err != nil {
		return nil, fmt.Errorf("client: bad DATA payload: %w", err)
	}
	if len(data) != n {
		return nil, fmt.Errorf("client: asked for %d bytes, bridge sent %d", n, len(data))
	}
	return data, nil
}

// Write stores data at the start of the EEPROM.
func (c *Client) Write(data []byte) error {
	if len(data) < 1 || len(data) > MaxTransfer {
		return fmt.Errorf("client: write size %d out of range [1, %d]", len(data), MaxTransfer)
	}
	resp, err := c.send(fmt.Sprintf("WRITE %d %X", len(data), data))
	if err != nil {
		return err
	}
	if resp != "OK" {
		return &ResponseError{Command: "WRITE", Response: resp}
	}
	return nil
}

// ResetBus issues a raw bus reset and reports whether a device answered.
func (c *Client) ResetBus() error {
	resp, err := c.send("RESET")
	if err != nil {
		return err
	}
	if resp != "OK" {
		return &ResponseError{Command: "RESET", Response: resp}
	}
	return nil
}

// Debug streams the bridge's wiring diagnostics to w. The report has no
// fixed length, so lines are copied until the closing guidance line.
func (c *Client) Debug(w io.Writer) error {
	if _, err := fmt.Fprintln(c.rw, "DEBUG"); err != nil {
		return err
	}
	for {
		line, err := c.readLine()
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
		if line == bridge.DebugClosing {
			return nil
		}
	}
}

// send writes one command line and returns the next response line.
func (c *Client) send(cmd string) (string, error) {
	if _, err := fmt.Fprintln(c.rw, cmd); err != nil {
		return "", err
	}
	return c.readLine()
}

// readLine returns the next response line with surrounding whitespace,
// including any carriage return, stripped.
func (c *Client) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		if len(line) > 0 && errors.Is(err, io.EOF) {
			// A final unterminated line still counts.
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// ResponseError is returned when the bridge answers a command with
// something other than the expected success response, typically an ERROR
// line.
type ResponseError struct {
	Command  string
	Response string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("client: %s: bridge answered %q", e.Command, e.Response)
}
