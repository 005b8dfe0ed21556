// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package owbridge reads and writes 1-wire scratchpad EEPROMs
// (DS2433/DS2432-class identification devices) through a small
// line-oriented command protocol.
//
// The ds2433 package is the device driver, the bridge package speaks the
// command protocol on behalf of a host, and the client package is the host
// side of that protocol. The cmd directory holds the bridge daemon and a
// host CLI.
package owbridge
