// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds2433 controls a Dallas Semi / Maxim DS2433 (or compatible)
// 1-wire EEPROM.
//
// Writes go through the device's volatile scratchpad: the bytes are staged,
// read back and compared, and only committed to EEPROM once the readback
// matches what was staged. A block that fails verification is never
// committed.
package ds2433

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/sigurn/crc16"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/onewire"
)

// Family is the family code of the specific device type.
type Family byte

func (f Family) String() string {
	switch f {
	case DS2433:
		return "DS2433"
	case DS2432:
		return "DS2432"
	default:
		return "unknown"
	}
}

// DS2433 is a 4kbit (512 byte) EEPROM.
const DS2433 Family = 0x23

// DS2432 is a 1kbit part with a 128 byte user space.
const DS2432 Family = 0x33

// ScratchpadSize is the size of the device's volatile staging buffer. It is
// also the EEPROM page size: a single scratchpad write may not cross a page
// boundary.
const ScratchpadSize = 32

// Opts contains options to pass to the constructor.
type Opts struct {
	// SettleDelay is how long to wait after staging bytes in the scratchpad
	// before reading them back.
	SettleDelay time.Duration
	// CommitDelay is how long to wait for a copy-scratchpad command to
	// complete. The datasheet maximum is 10ms; the extra margin matches what
	// the part needs at the low end of its supply range.
	CommitDelay time.Duration
	// CheckCRC16 verifies the inverted CRC-16 that CRC-capable parts append
	// to the write-scratchpad transfer. The baseline DS2433 does not
	// generate it.
	CheckCRC16 bool
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	SettleDelay: 10 * time.Millisecond,
	CommitDelay: 15 * time.Millisecond,
}

// Presence is the outcome of a raw reset pulse on the bus.
type Presence int

const (
	// None means no device answered the reset pulse.
	None Presence = iota
	// Detected means at least one device answered with a presence pulse.
	Detected
	// Shorted means the data line is shorted to ground.
	Shorted
)

func (p Presence) String() string {
	switch p {
	case Detected:
		return "presence"
	case Shorted:
		return "shorted"
	default:
		return "none"
	}
}

// Probe issues a bus reset with no further traffic and reports whether a
// device answered with a presence pulse.
//
// It does not address any device, so it can be used before discovery and it
// never alters driver state.
func Probe(o onewire.Bus) Presence {
	err := o.Tx(nil, nil, onewire.WeakPullup)
	if err == nil {
		return Detected
	}
	if s, ok := err.(interface{ IsShorted() bool }); ok && s.IsShorted() {
		return Shorted
	}
	return None
}

// Search enumerates the EEPROM devices present on the bus.
//
// Addresses whose embedded CRC does not validate are dropped, as are devices
// of other families. An empty slice with a nil error means the bus answered
// but no usable EEPROM was found.
func Search(o onewire.Bus) ([]onewire.Address, error) {
	all, err := o.Search(false)
	if err != nil {
		return nil, err
	}
	var found []onewire.Address
	for _, a := range all {
		if !ValidAddress(a) {
			continue
		}
		switch Family(a & 0xff) {
		case DS2433, DS2432:
			found = append(found, a)
		}
	}
	return found, nil
}

// ValidAddress reports whether the CRC byte embedded in a 64-bit ROM address
// matches the rest of the address.
func ValidAddress(addr onewire.Address) bool {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(addr))
	return onewire.CheckCRC(b[:])
}

// New returns an object that communicates over 1-wire to the EEPROM with the
// specified 64-bit address.
//
// The address must carry a valid CRC and a supported family code; an
// identity that fails either check never yields a usable device handle.
func New(o onewire.Bus, addr onewire.Address, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	if !ValidAddress(addr) {
		return nil, errors.New("ds2433: ROM address has an invalid CRC")
	}
	switch Family(addr & 0xff) {
	case DS2433, DS2432:
	default:
		return nil, fmt.Errorf("ds2433: unsupported family code %#02x", byte(addr&0xff))
	}
	return &Dev{onewire: onewire.Dev{Bus: o, Addr: addr}, opts: *opts}, nil
}

// Dev is a handle to a 1-wire EEPROM device.
type Dev struct {
	onewire onewire.Dev // device on 1-wire bus
	opts    Opts
}

func (d *Dev) Family() Family {
	return Family(d.onewire.Addr & 0xFF)
}

func (d *Dev) String() string {
	return d.Family().String() + "{" + d.onewire.String() + "}"
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return nil
}

// Addr returns the 64-bit ROM address the device was created with.
func (d *Dev) Addr() onewire.Address {
	return d.onewire.Addr
}

// ROM returns the 8-byte ROM identity in wire order: family code first,
// six serial number bytes, CRC last.
func (d *Dev) ROM() [8]byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(d.onewire.Addr))
	return b
}

// Size returns the EEPROM capacity in bytes.
func (d *Dev) Size() int {
	if d.Family() == DS2432 {
		return 128
	}
	return 512
}

// Read fills b with EEPROM contents starting at offset.
//
// The whole read is a single bus transaction. A bus fault aborts with an
// error and no partial data.
func (d *Dev) Read(offset uint16, b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return d.onewire.Tx([]byte{cmdReadMemory, byte(offset), byte(offset >> 8)}, b)
}

// Write stores data in the EEPROM starting at offset.
//
// The data is split on scratchpad page boundaries and each block goes
// through the full stage/verify/commit sequence. If a block fails, Write
// returns immediately: blocks committed before the failure stay committed,
// so after an error the caller must assume an indeterminate prefix of data
// has been written and should re-issue the whole write.
func (d *Dev) Write(offset uint16, data []byte) error {
	for len(data) > 0 {
		n := ScratchpadSize - int(offset)%ScratchpadSize
		if n > len(data) {
			n = len(data)
		}
		if err := d.writeBlock(offset, data[:n]); err != nil {
			return err
		}
		offset += uint16(n)
		data = data[n:]
	}
	return nil
}

// writeBlock runs the scratchpad transaction for a single block, which must
// fit within one page.
func (d *Dev) writeBlock(offset uint16, block []byte) error {
	ta1, ta2 := byte(offset), byte(offset>>8)

	// Stage the block in the scratchpad.
	w := make([]byte, 0, 3+len(block))
	w = append(w, cmdWriteScratchpad, ta1, ta2)
	w = append(w, block...)
	if d.opts.CheckCRC16 {
		var rx [2]byte
		if err := d.onewire.Tx(w, rx[:]); err != nil {
			return err
		}
		if got, want := binary.LittleEndian.Uint16(rx[:]), crc16.Checksum(w, crc16Table); got != want {
			return &CRCError{Offset: offset, Want: want, Got: got}
		}
	} else if err := d.onewire.Tx(w, nil); err != nil {
		return err
	}
	sleep(d.opts.SettleDelay)

	// Read the scratchpad back. The device answers with the target address
	// it latched, its ending-offset status byte and the staged data.
	r := make([]byte, 3+len(block))
	if err := d.onewire.Tx([]byte{cmdReadScratchpad}, r); err != nil {
		return err
	}
	if r[0] != ta1 {
		return &VerifyError{Offset: offset, Field: "TA1", Want: ta1, Got: r[0]}
	}
	if r[1] != ta2 {
		return &VerifyError{Offset: offset, Field: "TA2", Want: ta2, Got: r[1]}
	}
	es := r[2]
	for i, b := range block {
		if r[3+i] != b {
			return &VerifyError{Offset: offset + uint16(i), Field: "data", Want: b, Got: r[3+i]}
		}
	}

	// Commit. TA1/TA2/ES are echoed exactly as read back, not recomputed:
	// the device re-validates them before touching the EEPROM. The copy
	// needs power, so finish with a strong pull-up.
	if err := d.onewire.TxPower([]byte{cmdCopyScratchpad, r[0], r[1], es}, nil); err != nil {
		return err
	}
	sleep(d.opts.CommitDelay)
	return nil
}

// VerifyError reports a scratchpad readback that did not match the staged
// bytes. No copy command is issued when it occurs, so the EEPROM content at
// the failed block is untouched.
type VerifyError struct {
	Offset uint16 // EEPROM address of the mismatch
	Field  string // "TA1", "TA2" or "data"
	Want   byte
	Got    byte
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("ds2433: scratchpad verify failed at %#04x: %s staged %#02x, read back %#02x",
		e.Offset, e.Field, e.Want, e.Got)
}

// CRCError reports a write-scratchpad transfer whose CRC-16 did not match
// the bytes put on the wire.
type CRCError struct {
	Offset uint16
	Want   uint16
	Got    uint16
}

func (e *CRCError) Error() string {
	return fmt.Sprintf("ds2433: write scratchpad at %#04x: calculated CRC16 %#04x, device sent %#04x",
		e.Offset, e.Want, e.Got)
}

var crc16Table = crc16.MakeTable(crc16.CRC16_MAXIM)

var sleep = time.Sleep

var _ conn.Resource = &Dev{}

const (
	cmdReadMemory      = 0xf0 // read from an EEPROM address
	cmdWriteScratchpad = 0x0f // stage bytes in the scratchpad
	cmdReadScratchpad  = 0xaa // read back TA1, TA2, ES and the staged bytes
	cmdCopyScratchpad  = 0x55 // commit the scratchpad to EEPROM
)
