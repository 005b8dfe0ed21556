// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds2433test simulates a single DS2433-class EEPROM on a 1-wire bus.
//
// Unlike onewiretest.Playback, which replays recorded transactions, the
// simulator models the device itself: it keeps a memory array and a
// scratchpad, answers read-memory and read-scratchpad commands from them,
// and only commits a copy-scratchpad command whose authorization bytes
// match what it latched. That makes it usable to test the full
// stage/verify/commit sequence, including the property that a corrupted
// readback never leads to a commit.
package ds2433test

import (
	"encoding/binary"
	"sync"

	"github.com/sigurn/crc16"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/onewire"
)

// Sim implements onewire.Bus backed by an in-memory EEPROM model.
//
// The zero value needs ROM to be set to a CRC-valid identity before use;
// everything else works out of the box.
type Sim struct {
	sync.Mutex

	// ROM is the 8-byte identity in wire order (family code first, CRC
	// last). Search returns it as-is, valid CRC or not.
	ROM [8]byte
	// Mem is the EEPROM content.
	Mem [512]byte

	// Absent simulates an empty bus: every reset sees no presence pulse.
	Absent bool
	// Shorted simulates a data line shorted to ground.
	Shorted bool
	// Corrupt, if set, is applied to the staged data as the scratchpad
	// reports it back, simulating a transfer error between host and device.
	Corrupt func(data []byte)

	// Commits counts accepted copy-scratchpad commands.
	Commits int
	// AuthFailures counts copy-scratchpad commands rejected because the
	// TA1/TA2/ES authorization bytes did not match.
	AuthFailures int

	scratch [32]byte
	length  int
	ta1     byte
	ta2     byte
	es      byte
	staged  bool
}

func (s *Sim) String() string {
	return "ds2433sim"
}

// IdleLevel reports the simulated idle level of the data line. A shorted
// line idles low.
func (s *Sim) IdleLevel() gpio.Level {
	s.Lock()
	defer s.Unlock()
	if s.Shorted {
		return gpio.Low
	}
	return gpio.High
}

// Search implements onewire.Bus. It enumerates the one simulated device.
func (s *Sim) Search(alarmOnly bool) ([]onewire.Address, error) {
	s.Lock()
	defer s.Unlock()
	if s.Absent || s.Shorted {
		return nil, nil
	}
	return []onewire.Address{onewire.Address(binary.LittleEndian.Uint64(s.ROM[:]))}, nil
}

// Tx implements onewire.Bus. Every transaction starts with a reset and a
// match-ROM, like a real bus master issues them.
func (s *Sim) Tx(w, r []byte, power onewire.Pullup) error {
	s.Lock()
	defer s.Unlock()
	if s.Shorted {
		return shortedBusError("ds2433test: bus has a short")
	}
	if s.Absent {
		return busError("ds2433test: no device present")
	}
	if len(w) == 0 {
		// Raw reset probe.
		return nil
	}
	if len(w) < 10 || w[0] != 0x55 {
		return busError("ds2433test: expected a match ROM")
	}
	for i, b := range s.ROM {
		if w[1+i] != b {
			// Nobody answers a foreign address.
			return busError("ds2433test: match ROM for an unknown device")
		}
	}
	cmd, args := w[9], w[10:]

	switch cmd {
	case 0xf0: // read memory
		if len(args) != 2 {
			return busError("ds2433test: read memory needs TA1 and TA2")
		}
		addr := int(args[0]) | int(args[1])<<8
		for i := range r {
			r[i] = s.Mem[(addr+i)%len(s.Mem)]
		}
	case 0x0f: // write scratchpad
		if len(args) < 3 {
			return busError("ds2433test: write scratchpad needs TA1, TA2 and data")
		}
		s.ta1, s.ta2 = args[0], args[1]
		data := args[2:]
		if len(data) > len(s.scratch) {
			data = data[:len(s.scratch)]
		}
		s.length = copy(s.scratch[:], data)
		s.es = byte((int(s.ta1) + s.length - 1) & 0x1f)
		s.staged = true
		if len(r) == 2 {
			// CRC-capable parts send the inverted CRC16 of the whole
			// transfer once the host stops writing.
			binary.LittleEndian.PutUint16(r, crc16.Checksum(w[9:], crcTable))
		}
	case 0xaa: // read scratchpad
		out := make([]byte, 3+s.length)
		out[0], out[1], out[2] = s.ta1, s.ta2, s.es
		copy(out[3:], s.scratch[:s.length])
		if s.Corrupt != nil {
			s.Corrupt(out[3:])
		}
		for i := range r {
			if i < len(out) {
				r[i] = out[i]
			} else {
				r[i] = 0xff
			}
		}
	case 0x55: // copy scratchpad
		if len(args) != 3 {
			return busError("ds2433test: copy scratchpad needs TA1, TA2 and ES")
		}
		if !s.staged || args[0] != s.ta1 || args[1] != s.ta2 || args[2] != s.es {
			s.AuthFailures++
			return nil
		}
		addr := int(s.ta1) | int(s.ta2)<<8
		for i := 0; i < s.length; i++ {
			s.Mem[(addr+i)%len(s.Mem)] = s.scratch[i]
		}
		s.staged = false
		s.Commits++
	default:
		return busError("ds2433test: unsupported command")
	}
	return nil
}

// busError implements error and onewire.BusError.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

// shortedBusError implements error and onewire.ShortedBusError.
type shortedBusError string

func (e shortedBusError) Error() string   { return string(e) }
func (e shortedBusError) BusError() bool  { return true }
func (e shortedBusError) IsShorted() bool { return true }

var crcTable = crc16.MakeTable(crc16.CRC16_MAXIM)

var _ onewire.Bus = &Sim{}
