// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// owctl talks to a 1-wire EEPROM bridge over a serial port.
//
//	owctl -port /dev/ttyUSB0 search
//	owctl -port /dev/ttyUSB0 read eeprom.bin
//	owctl -port /dev/ttyUSB0 write eeprom.bin
//	owctl -port /dev/ttyUSB0 reset | version | debug
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mattn/go-colorable"

	"github.com/cartforge/owbridge/client"
	"github.com/cartforge/owbridge/serial"
)

var (
	port    = flag.String("port", "/dev/ttyUSB0", "serial port of the bridge")
	baud    = flag.Int("baud", 115200, "baud rate")
	timeout = flag.Duration("timeout", 2*time.Second, "serial read timeout")
)

// stdout renders ANSI escapes safely on every platform.
var stdout = colorable.NewColorableStdout()

func usage() {
	fmt.Fprintf(os.Stderr, "usage: owctl [flags] <command>\n\ncommands:\n")
	fmt.Fprintf(os.Stderr, "  search             discover the EEPROM and print its ROM identity\n")
	fmt.Fprintf(os.Stderr, "  read <file> [n]    read n bytes (default 512) into file\n")
	fmt.Fprintf(os.Stderr, "  write <file>       write file to the EEPROM and verify by reading back\n")
	fmt.Fprintf(os.Stderr, "  reset              pulse the bus and report device presence\n")
	fmt.Fprintf(os.Stderr, "  version            print the bridge build identifier\n")
	fmt.Fprintf(os.Stderr, "  debug              print the bridge wiring diagnostics\n\nflags:\n")
	flag.PrintDefaults()
}

func mainImpl() error {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		return fmt.Errorf("missing command")
	}

	fmt.Fprintf(stdout, "Connecting to bridge on %s...\n", *port)
	p, err := serial.Open(&serial.Config{Device: *port, Baud: *baud, ReadTimeout: *timeout})
	if err != nil {
		return err
	}
	defer p.Close()
	c := client.New(p)
	if err := c.Initialize(); err != nil {
		return err
	}
	ok("bridge initialized")

	switch cmd := flag.Arg(0); cmd {
	case "search":
		return search(c)
	case "read":
		return read(c, flag.Args()[1:])
	case "write":
		return write(c, flag.Args()[1:])
	case "reset":
		if err := c.ResetBus(); err != nil {
			return err
		}
		ok("device present on the bus")
		return nil
	case "version":
		v, err := c.Version()
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, v)
		return nil
	case "debug":
		return c.Debug(stdout)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func search(c *client.Client) error {
	rom, err := c.Search()
	if err != nil {
		return err
	}
	ok("device found: " + rom)
	return nil
}

func read(c *client.Client, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: owctl read <file> [n]")
	}
	n := client.MaxTransfer
	if len(args) == 2 {
		var err error
		if n, err = strconv.Atoi(args[1]); err != nil {
			return fmt.Errorf("bad size %q", args[1])
		}
	}
	if err := search(c); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Reading %d bytes...\n", n)
	data, err := c.Read(n)
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[0], data, 0o644); err != nil {
		return err
	}
	ok(fmt.Sprintf("saved %d bytes to %s", len(data), args[0]))
	return nil
}

func write(c *client.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: owctl write <file>")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	if len(data) > client.MaxTransfer {
		return fmt.Errorf("%s is %d bytes, the EEPROM holds at most %d", args[0], len(data), client.MaxTransfer)
	}
	// Pad to the full EEPROM so stale content past the image is cleared.
	if len(data) < client.MaxTransfer {
		data = append(data, make([]byte, client.MaxTransfer-len(data))...)
	}
	if err := search(c); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Writing %d bytes... (this may take a minute)\n", len(data))
	if err := c.Write(data); err != nil {
		return err
	}
	ok("write complete")
	fmt.Fprintln(stdout, "Verifying...")
	got, err := c.Read(len(data))
	if err != nil {
		return err
	}
	if !bytes.Equal(got, data) {
		return fmt.Errorf("verification failed: read back data differs")
	}
	ok("verification successful")
	return nil
}

func ok(msg string) {
	fmt.Fprintf(stdout, "\x1b[32mOK\x1b[0m %s\n", msg)
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "\x1b[31mERROR\x1b[0m owctl: %s.\n", err)
		os.Exit(1)
	}
}
