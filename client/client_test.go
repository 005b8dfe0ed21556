// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package client

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/cartforge/owbridge/bridge"
	"github.com/cartforge/owbridge/ds2433/ds2433test"
)

// mockPeer plays back scripted response lines and records the command
// lines the client wrote.
type mockPeer struct {
	in  bytes.Buffer
	out bytes.Buffer
}

func newMockPeer(responses ...string) *mockPeer {
	m := &mockPeer{}
	for _, r := range responses {
		m.in.WriteString(r + "\n")
	}
	return m
}

func (m *mockPeer) Read(p []byte) (int, error)  { return m.in.Read(p) }
func (m *mockPeer) Write(p []byte) (int, error) { return m.out.Write(p) }

func (m *mockPeer) commands() []string {
	s := strings.TrimSuffix(m.out.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestSearch(t *testing.T) {
	m := newMockPeer("ROM:2362474D0100006B")
	c := New(m)
	rom, err := c.Search()
	if err != nil {
		t.Fatal(err)
	}
	if rom != "2362474D0100006B" {
		t.Fatal(rom)
	}
	if cmds := m.commands(); len(cmds) != 1 || cmds[0] != "SEARCH" {
		t.Fatalf("%q", cmds)
	}
}

func TestSearch_error(t *testing.T) {
	m := newMockPeer("ERROR No device found")
	_, err := New(m).Search()
	var re *ResponseError
	if !errors.As(err, &re) {
		t.Fatalf("expected a ResponseError, got %v", err)
	}
	if re.Command != "SEARCH" || re.Response != "ERROR No device found" {
		t.Fatalf("%+v", re)
	}
}

func TestRead(t *testing.T) {
	m := newMockPeer("DATA:AABBCCDD")
	data, err := New(m).Read(4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte{0xaa, 0xbb, 0xcc, 0xdd}) {
		t.Fatalf("%x", data)
	}
	if cmds := m.commands(); cmds[0] != "READ 4" {
		t.Fatalf("%q", cmds)
	}
}

func TestRead_shortAnswer(t *testing.T) {
	m := newMockPeer("DATA:AABB")
	if _, err := New(m).Read(4); err == nil {
		t.Fatal("expected a length error")
	}
}

func TestRead_sizeGuard(t *testing.T) {
	c := New(newMockPeer())
	if _, err := c.Read(0); err == nil {
		t.Fatal("0 must be rejected before touching the wire")
	}
	if _, err := c.Read(513); err == nil {
		t.Fatal("513 must be rejected before touching the wire")
	}
}

func TestWrite(t *testing.T) {
	m := newMockPeer("OK")
	if err := New(m).Write([]byte{0xab, 0xcd}); err != nil {
		t.Fatal(err)
	}
	if cmds := m.commands(); cmds[0] != "WRITE 2 ABCD" {
		t.Fatalf("%q", cmds)
	}
}

func TestWrite_error(t *testing.T) {
	m := newMockPeer("ERROR Write failed")
	err := New(m).Write([]byte{0x01})
	var re *ResponseError
	if !errors.As(err, &re) {
		t.Fatalf("expected a ResponseError, got %v", err)
	}
}

func TestResetBus(t *testing.T) {
	if err := New(newMockPeer("OK")).ResetBus(); err != nil {
		t.Fatal(err)
	}
	if err := New(newMockPeer("ERROR Reset failed")).ResetBus(); err == nil {
		t.Fatal("expected an error")
	}
}

func TestInitialize_banner(t *testing.T) {
	// A bridge that just booted: the probe response is queued behind the
	// banner.
	m := newMockPeer("owbridge 1-Wire Bridge v1.0", "Ready", "owbridge 1-Wire Bridge v1.0")
	if err := New(m).Initialize(); err != nil {
		t.Fatal(err)
	}
}

func TestInitialize_silent(t *testing.T) {
	m := newMockPeer()
	err := New(m, WithProbeAttempts(2)).Initialize()
	if err == nil {
		t.Fatal("expected a failure with nothing answering")
	}
	if cmds := m.commands(); len(cmds) != 2 {
		t.Fatalf("expected 2 probes, saw %q", cmds)
	}
}

func TestDebug(t *testing.T) {
	m := newMockPeer(
		"DEBUG: Testing 1-wire bus on sim...",
		"  Reset #1: NO PRESENCE (no device responding)",
		bridge.DebugClosing,
	)
	var out bytes.Buffer
	if err := New(m).Debug(&out); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(strings.TrimSpace(out.String()), bridge.DebugClosing) {
		t.Fatalf("%q", out.String())
	}
}

// loopback runs a Bridge in-process: command lines written by the client
// are handed to the bridge synchronously and its responses buffered for the
// client to read back. No goroutines, no timing.
type loopback struct {
	br      *bridge.Bridge
	pending []byte
	out     bytes.Buffer
}

func (l *loopback) Write(p []byte) (int, error) {
	l.pending = append(l.pending, p...)
	for {
		i := bytes.IndexByte(l.pending, '\n')
		if i < 0 {
			return len(p), nil
		}
		line := string(l.pending[:i])
		l.pending = l.pending[i+1:]
		if err := l.br.Process(line, &l.out); err != nil {
			return len(p), err
		}
	}
}

func (l *loopback) Read(p []byte) (int, error) {
	return l.out.Read(p)
}

// TestEndToEnd drives the whole stack: client -> bridge -> driver ->
// simulated EEPROM and back.
func TestEndToEnd(t *testing.T) {
	sim := &ds2433test.Sim{ROM: [8]byte{0x23, 0x62, 0x47, 0x4d, 0x01, 0x00, 0x00, 0x6b}}
	c := New(&loopback{br: bridge.New(sim)})

	if err := c.Initialize(); err != nil {
		t.Fatal(err)
	}
	rom, err := c.Search()
	if err != nil {
		t.Fatal(err)
	}
	if rom != "2362474D0100006B" {
		t.Fatal(rom)
	}
	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(255 - i%251)
	}
	if err := c.Write(payload); err != nil {
		t.Fatal(err)
	}
	got, err := c.Read(len(payload))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("roundtrip through the full stack lost data")
	}
	if err := c.ResetBus(); err != nil {
		t.Fatal(err)
	}
	var dbg bytes.Buffer
	if err := c.Debug(&dbg); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(dbg.String(), "PRESENCE DETECTED") {
		t.Fatalf("%s", dbg.String())
	}
}
