// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// owbridge serves the 1-wire EEPROM command protocol.
//
// The 1-wire side is a DS248x bus master on an I²C bus. The host side is
// stdin/stdout by default, a serial port with -device, or a TCP listener
// with -tcp.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ds248x"
	"periph.io/x/host/v3"

	"github.com/cartforge/owbridge/bridge"
	"github.com/cartforge/owbridge/serial"
)

var (
	i2cName = flag.String("i2c", "", "I²C bus of the DS248x bus master (\"\" for the first available)")
	i2cAddr = flag.Uint("i2caddr", 0x18, "I²C address of the DS248x")
	device  = flag.String("device", "", "serial port to serve on instead of stdin/stdout")
	baud    = flag.Int("baud", 115200, "baud rate for -device")
	tcpAddr = flag.String("tcp", "", "TCP address to listen on instead of stdin/stdout, e.g. :5000")
)

func mainImpl() error {
	flag.Parse()
	if flag.NArg() != 0 {
		return fmt.Errorf("unexpected argument: %s", flag.Arg(0))
	}
	if *device != "" && *tcpAddr != "" {
		return fmt.Errorf("-device and -tcp are mutually exclusive")
	}

	if _, err := host.Init(); err != nil {
		return err
	}
	i2cBus, err := i2creg.Open(*i2cName)
	if err != nil {
		return err
	}
	defer i2cBus.Close()
	ow, err := ds248x.New(i2cBus, uint16(*i2cAddr), &ds248x.DefaultOpts)
	if err != nil {
		return err
	}
	br := bridge.New(ow)

	switch {
	case *tcpAddr != "":
		return serveTCP(br, *tcpAddr)
	case *device != "":
		// Block forever on reads; the protocol has no timeouts shorter than
		// its own fixed delays.
		port, err := serial.Open(&serial.Config{Device: *device, Baud: *baud})
		if err != nil {
			return err
		}
		defer port.Close()
		return br.Serve(port, port)
	default:
		return br.Serve(os.Stdin, os.Stdout)
	}
}

// serveTCP accepts one client at a time: the bus has a single owner and the
// protocol is strictly sequential anyway.
func serveTCP(br *bridge.Bridge, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	log.Printf("listening on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		log.Printf("client connected: %s", conn.RemoteAddr())
		if err := br.Serve(conn, conn); err != nil {
			log.Printf("client %s: %s", conn.RemoteAddr(), err)
		}
		conn.Close()
		log.Printf("client disconnected: %s", conn.RemoteAddr())
	}
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "owbridge: %s.\n", err)
		os.Exit(1)
	}
}
