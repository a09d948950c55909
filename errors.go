// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostlink

import "fmt"

// TransportError wraps a USB bulk transfer failure or short transfer. It is
// retryable only at the mode-kick layer; a command-phase
// TransportError leaves the Session usable, the next command resyncs at
// the framing level.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func newTransportError(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

// ProtocolError is returned when a command's response has an unexpected
// length, or its status byte is debugStatusFalse (or any value other than
// debugStatusOk) where debugStatusOk was required.
type ProtocolError struct {
	Op     string
	Status byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error during %s: status 0x%02x", e.Op, e.Status)
}

func newProtocolError(op string, status byte) error {
	return &ProtocolError{Op: op, Status: status}
}

// DeviceMismatch is surfaced once at session construction when VID/PID do
// not identify a supported ST-Link v2 dongle.
type DeviceMismatch struct {
	Vendor, Product uint16
}

func (e *DeviceMismatch) Error() string {
	return fmt.Sprintf("device [%04x:%04x] is not a supported ST-Link v2 dongle", e.Vendor, e.Product)
}

// ChipUnknown indicates the IDCODE did not match the descriptor table.
// identifyChip returns it, but Open never passes it on to its caller; Open
// logs it as a warning and keeps the generic fallback descriptor.
type ChipUnknown struct {
	IDCode uint32
}

func (e *ChipUnknown) Error() string {
	return fmt.Sprintf("IDCODE 0x%08x did not match any known chip descriptor", e.IDCode)
}

// FlashEraseTimeout is returned when the busy bit never clears within the
// the erase polling budget.
type FlashEraseTimeout struct {
	Register uint32
	Polls    int
}

func (e *FlashEraseTimeout) Error() string {
	return fmt.Sprintf("flash erase timed out after %d polls of FLASH_SR at 0x%08x", e.Polls, e.Register)
}

// FlashWriteError reports the most specific post-chunk FLASH_SR cause
// available.
type FlashWriteError struct {
	Address        uint32
	WriteProtected bool
}

func (e *FlashWriteError) Error() string {
	if e.WriteProtected {
		return fmt.Sprintf("wrote a write-protected region at 0x%08x", e.Address)
	}
	return fmt.Sprintf("wrote an unerased location at 0x%08x", e.Address)
}

// LoaderHangTimeout is returned when the core does not halt on the
// loader stub's closing bkpt within the status polling budget.
type LoaderHangTimeout struct {
	Polls int
}

func (e *LoaderHangTimeout) Error() string {
	return fmt.Sprintf("flash loader did not halt within %d status polls", e.Polls)
}

// VerifyMismatch reports the first diverging byte found while streaming a
// flash-vs-source comparison.
type VerifyMismatch struct {
	Address   uint32
	Got, Want byte
}

func (e *VerifyMismatch) Error() string {
	return fmt.Sprintf("verify mismatch at 0x%08x: flash=0x%02x source=0x%02x", e.Address, e.Got, e.Want)
}
