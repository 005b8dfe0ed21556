// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bridge exposes a 1-wire EEPROM over a line-oriented ASCII command
// protocol.
//
// One newline-terminated command in, one response line out (DEBUG, a
// diagnostic, is the only command answering with several lines):
//
//	SEARCH             -> ROM:<16 hex chars> | ERROR No device found
//	READ <size>        -> DATA:<hex>         | ERROR ...
//	WRITE <size> <hex> -> OK                 | ERROR ...
//	RESET              -> OK                 | ERROR Reset failed
//	VERSION            -> build identifier
//	DEBUG              -> wiring diagnostics
//
// Hex output is upper case; hex input accepts either case. Blank lines are
// ignored. The bridge holds no state across commands other than the device
// discovered by the most recent SEARCH.
package bridge

import (
	"bufio"
	"fmt"
	"io"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/onewire"

	"github.com/cartforge/owbridge/ds2433"
)

// DefaultVersion is the build identifier reported by the VERSION command
// unless WithVersion overrides it.
const DefaultVersion = "owbridge 1-Wire Bridge v1.0"

// LevelSensor is implemented by bus masters that can report the idle level
// of the data line. It is only used by the DEBUG command: a line that idles
// low means a missing pull-up or a short to ground.
type LevelSensor interface {
	IdleLevel() gpio.Level
}

// Option alters the construction of a Bridge.
type Option func(*Bridge)

// WithVersion overrides the VERSION response.
func WithVersion(s string) Option {
	return func(b *Bridge) { b.version = s }
}

// WithDeviceOpts overrides the driver options used for devices discovered
// by SEARCH.
func WithDeviceOpts(o *ds2433.Opts) Option {
	return func(b *Bridge) { b.devOpts = o }
}

// New returns a Bridge serving the command protocol for the given bus.
func New(bus onewire.Bus, opts ...Option) *Bridge {
	b := &Bridge{bus: bus, version: DefaultVersion}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Bridge translates command lines into 1-wire EEPROM transactions.
//
// It is not safe for concurrent use: the protocol is strictly one command
// at a time, which is also the only access discipline the underlying bus
// supports.
type Bridge struct {
	bus     onewire.Bus
	dev     *ds2433.Dev // discovered by SEARCH, nil until then
	version string
	devOpts *ds2433.Opts
}

// Device returns the device discovered by the most recent successful
// SEARCH, or nil.
func (b *Bridge) Device() *ds2433.Dev {
	return b.dev
}

// Process handles one input line and writes the response, if any, to w.
// Responses are newline terminated. The returned error is a write error on
// w; command failures are reported in-band as ERROR responses.
func (b *Bridge) Process(line string, w io.Writer) error {
	cmd := parseCommand(line)
	switch cmd.kind {
	case kindBlank:
		return nil
	case kindInvalid:
		return respond(w, "ERROR %s", cmd.reason)
	case kindSearch:
		return b.search(w)
	case kindRead:
		return b.read(w, cmd.size)
	case kindWrite:
		return b.write(w, cmd.data)
	case kindReset:
		if ds2433.Probe(b.bus) != ds2433.Detected {
			return respond(w, "ERROR Reset failed")
		}
		return respond(w, "OK")
	case kindVersion:
		return respond(w, "%s", b.version)
	case kindDebug:
		return b.debug(w)
	}
	return respond(w, "ERROR Unknown command")
}

func (b *Bridge) search(w io.Writer) error {
	// A failed search clears the device: no partially valid identity is
	// ever kept around.
	b.dev = nil
	addrs, err := ds2433.Search(b.bus)
	if err != nil || len(addrs) == 0 {
		return respond(w, "ERROR No device found")
	}
	d, err := ds2433.New(b.bus, addrs[0], b.devOpts)
	if err != nil {
		return respond(w, "ERROR No device found")
	}
	b.dev = d
	rom := d.ROM()
	return respond(w, "ROM:%X", rom[:])
}

func (b *Bridge) read(w io.Writer, size int) error {
	if b.dev == nil {
		return respond(w, "ERROR No device found, run SEARCH first")
	}
	buf := make([]byte, size)
	if err := b.dev.Read(0, buf); err != nil {
		return respond(w, "ERROR Read failed")
	}
	return respond(w, "DATA:%X", buf)
}

func (b *Bridge) write(w io.Writer, data []byte) error {
	if b.dev == nil {
		return respond(w, "ERROR No device found, run SEARCH first")
	}
	if err := b.dev.Write(0, data); err != nil {
		return respond(w, "ERROR Write failed")
	}
	return respond(w, "OK")
}

// debug reports the state of the bus wiring. It uses only raw reset probes,
// so it never disturbs the discovered device.
func (b *Bridge) debug(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "DEBUG: Testing 1-wire bus on %s...\n", b.bus)
	fmt.Fprintf(bw, "  Required: 4.7k pullup to 3.3V + EEPROM data line\n")
	if ls, ok := b.bus.(LevelSensor); ok {
		if ls.IdleLevel() == gpio.High {
			fmt.Fprintf(bw, "  Line idle level: HIGH (good - pullup present)\n")
		} else {
			fmt.Fprintf(bw, "  Line idle level: LOW (BAD - no pullup or short to ground!)\n")
		}
	}
	for i := 1; i <= debugProbes; i++ {
		switch ds2433.Probe(b.bus) {
		case ds2433.Detected:
			fmt.Fprintf(bw, "  Reset #%d: PRESENCE DETECTED (device found!)\n", i)
		case ds2433.Shorted:
			fmt.Fprintf(bw, "  Reset #%d: SHORT CIRCUIT (data line shorted)\n", i)
		default:
			fmt.Fprintf(bw, "  Reset #%d: NO PRESENCE (no device responding)\n", i)
		}
	}
	fmt.Fprintf(bw, "DEBUG: If the line idles low, add a 4.7k resistor from the data line to 3.3V\n")
	fmt.Fprintf(bw, "%s\n", DebugClosing)
	return bw.Flush()
}

// DebugClosing closes every DEBUG report. Clients stream DEBUG output until
// they see it, since the report length is not fixed.
const DebugClosing = "DEBUG: If the line idles high but no presence, check the EEPROM connection"

const debugProbes = 5

// Serve reads newline-terminated commands from r and writes responses to w
// until r is exhausted. It announces itself with the version string and a
// "Ready" line first, so host software can tell the bridge is up.
func (b *Bridge) Serve(r io.Reader, w io.Writer) error {
	if err := respond(w, "%s", b.version); err != nil {
		return err
	}
	if err := respond(w, "Ready"); err != nil {
		return err
	}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if err := b.Process(sc.Text(), w); err != nil {
			return err
		}
	}
	return sc.Err()
}

func respond(w io.Writer, format string, args ...interface{}) error {
	_, err := fmt.Fprintf(w, format+"\n", args...)
	return err
}
