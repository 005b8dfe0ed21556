// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bridge

import (
	"bytes"
	"testing"
)

func TestParseCommand(t *testing.T) {
	var tests = []struct {
		line   string
		kind   kind
		reason string
	}{
		{"", kindBlank, ""},
		{"   \t ", kindBlank, ""},
		{"SEARCH", kindSearch, ""},
		{"search", kindSearch, ""},
		{"SEARCH now", kindUnknown, ""},
		{"RESET", kindReset, ""},
		{"VERSION", kindVersion, ""},
		{"DEBUG", kindDebug, ""},
		{"FOO", kindUnknown, ""},
		{"READ", kindInvalid, "Invalid READ command"},
		{"READ 1 2", kindInvalid, "Invalid READ command"},
		{"READ 0", kindInvalid, "Invalid size"},
		{"READ 513", kindInvalid, "Invalid size"},
		{"READ abc", kindInvalid, "Invalid size"},
		{"READ -4", kindInvalid, "Invalid size"},
		{"READ 512", kindRead, ""},
		{"read 16", kindRead, ""},
		{"WRITE", kindInvalid, "Invalid WRITE command"},
		{"WRITE 4", kindInvalid, "Invalid WRITE command"},
		{"WRITE 0 AA", kindInvalid, "Invalid size"},
		{"WRITE 2 xxyy", kindInvalid, "Invalid hex data"},
		{"WRITE 2 aab", kindInvalid, "Invalid hex data"},
		{"WRITE 4 AABBCC", kindInvalid, "Size mismatch"},
		{"WRITE 3 AABBCC", kindWrite, ""},
		{"WRITE 3 aabbcc", kindWrite, ""},
	}
	for _, test := range tests {
		cmd := parseCommand(test.line)
		if cmd.kind != test.kind {
			t.Errorf("parseCommand(%q): kind %d, expected %d", test.line, cmd.kind, test.kind)
		}
		if cmd.reason != test.reason {
			t.Errorf("parseCommand(%q): reason %q, expected %q", test.line, cmd.reason, test.reason)
		}
	}
}

func TestParseCommand_writeData(t *testing.T) {
	cmd := parseCommand("WRITE 3 AaBbCc")
	if cmd.kind != kindWrite || cmd.size != 3 {
		t.Fatalf("%+v", cmd)
	}
	if !bytes.Equal(cmd.data, []byte{0xaa, 0xbb, 0xcc}) {
		t.Fatalf("decoded %x", cmd.data)
	}
}

func TestParseCommand_readSize(t *testing.T) {
	if cmd := parseCommand("READ 512"); cmd.size != 512 {
		t.Fatal(cmd.size)
	}
	if cmd := parseCommand("READ 1"); cmd.size != 1 {
		t.Fatal(cmd.size)
	}
}
