// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package serial opens the serial port both owbridge binaries share.
package serial

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// Port is a serial connection to or from a bridge.
type Port interface {
	io.ReadWriteCloser

	// Flush discards unread input, such as a boot banner that arrived
	// before the first command.
	Flush() error
}

// Config holds serial port configuration.
type Config struct {
	// Device is the port path, e.g. "/dev/ttyUSB0" or "COM3".
	Device string
	// Baud is the line rate. USB CDC bridges ignore it.
	Baud int
	// ReadTimeout bounds a single read. Zero blocks forever.
	ReadTimeout time.Duration
}

// DefaultConfig returns the configuration the bridge firmware side uses:
// 115200 baud with a two second read timeout.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 2 * time.Second,
	}
}

// Open opens the serial port described by cfg.
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, fmt.Errorf("serial: config cannot be nil")
	}
	p, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("serial: failed to open %s: %w", cfg.Device, err)
	}
	return p, nil
}
