// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostlink

import (
	"context"

	"github.com/boljen/go-bitmap"
)

// fakeTransport is an in-memory stand-in for the dongle's bulk endpoints,
// implementing just enough of the bulk command protocol to drive the
// command and memory layers under test without real hardware. It is deliberately
// simple: one command in flight at a time, matching the Session's own
// single-threaded synchronous usage.
type fakeTransport struct {
	mem map[uint32]byte

	regs       [numCoreRegisters]uint32
	coreHalted bool
	coreID     uint32
	mode       byte

	// autoHaltOnRun simulates the loader stub's closing bkpt firing
	// immediately, so flash-write tests don't need a real busy-poll loop.
	autoHaltOnRun bool

	// forceF1Fault simulates the FPEC controller rejecting an F1 erase
	// (e.g. a write-protected sector): the STRT-triggered completion
	// reports WRPRTERR instead of EOP.
	forceF1Fault bool

	expectPayload bool
	payloadAddr   uint32
	payloadLen    int

	pending []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		mem:        make(map[uint32]byte),
		coreHalted: true,
		coreID:     0x1ba01477,
		mode:       deviceModeDebug,
	}
}

func (f *fakeTransport) readMem(addr uint32, n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = f.mem[addr+uint32(i)]
	}
	return out
}

// storeMem is the literal byte-store primitive, used both by protocol
// writes (after any register-specific semantics below) and by seedMem,
// which sets up test fixtures directly and must bypass those semantics.
func (f *fakeTransport) storeMem(addr uint32, data []byte) {
	for i, b := range data {
		f.mem[addr+uint32(i)] = b
	}
}

func (f *fakeTransport) writeMem(addr uint32, data []byte) {
	// The FPEC status registers are write-1-to-clear on real silicon, and
	// EOP is set by the controller itself when an erase/program operation
	// completes, not by software. A literal byte-store would make every
	// erase coincidentally read back as "done" (the clear masks happen to
	// share bit positions with EOP), so both are special-cased here to let
	// tests exercise genuine success and failure paths.
	switch addr {
	case f1FlashSR, f4FlashSR, l1FlashSR:
		if len(data) >= 4 {
			cur := leUint32(f.readMem(addr, 4))
			cleared := cur &^ leUint32(data)
			var buf [4]byte
			putLeUint32(buf[:], cleared)
			f.storeMem(addr, buf[:])
			return
		}
	case f1FlashCR:
		if len(data) >= 4 && leUint32(data)&f1CRStrt != 0 {
			if f.forceF1Fault {
				f.setStatusBit(f1FlashSR, f1SRWrprtErr)
			} else {
				f.setStatusBit(f1FlashSR, f1SREop)
			}
		}
	}

	f.storeMem(addr, data)
}

// setStatusBit ORs bit into the 4-byte register at addr, simulating the
// controller asserting a status flag on its own.
func (f *fakeTransport) setStatusBit(addr uint32, bit uint32) {
	cur := leUint32(f.readMem(addr, 4))
	var buf [4]byte
	putLeUint32(buf[:], cur|bit)
	f.storeMem(addr, buf[:])
}

func (f *fakeTransport) seedMem(addr uint32, data []byte) {
	f.storeMem(addr, data)
}

// simulateLoaderRun stands in for actually executing the Thumb-2 loader
// stub: it reads the same four-word parameter tail the stub itself pulls
// out of SRAM via PC-relative loads (source_addr, target_addr,
// halfword_count, immediately following the stub at the PC the debugger
// just set via SetRegister(15, ...)), and performs the halfword copy the
// real core would. Both loaderStubF1 and loaderStubF4 are the same
// length, so the tail's offset from PC does not depend on which family
// staged it.
func (f *fakeTransport) simulateLoaderRun() {
	pc := f.regs[15]
	tail := f.readMem(pc+uint32(len(loaderStubF1)), 16)

	sourceAddr := leUint32(tail[4:8])
	targetAddr := leUint32(tail[8:12])
	halfwordCount := leUint32(tail[12:16])

	n := int(halfwordCount) * 2
	if n == 0 {
		return
	}
	f.storeMem(targetAddr, f.readMem(sourceAddr, n))
}

func (f *fakeTransport) WriteContext(_ context.Context, b []byte) (int, error) {
	if f.expectPayload {
		f.writeMem(f.payloadAddr, b[:f.payloadLen])
		f.expectPayload = false
		f.pending = []byte{debugStatusOk, 0x00}
		return len(b), nil
	}

	cmd := make([]byte, len(b))
	copy(cmd, b)
	f.handleCommand(cmd)
	return len(b), nil
}

func (f *fakeTransport) ReadContext(_ context.Context, b []byte) (int, error) {
	n := copy(b, f.pending)
	return n, nil
}

func (f *fakeTransport) handleCommand(cmd []byte) {
	switch cmd[0] {
	case cmdGetVersion:
		packed := uint16(2)<<12 | uint16(30)<<6 | uint16(0)
		resp := make([]byte, 6)
		resp[0] = byte(packed >> 8)
		resp[1] = byte(packed)
		putLeUint16(resp[2:], uint16(stlinkVendorID))
		putLeUint16(resp[4:], uint16(stlinkV2ProductID))
		f.pending = resp

	case cmdGetCurrentMode:
		f.pending = []byte{f.mode, 0x00}

	case cmdDfu:
		f.mode = deviceModeDFU
		f.pending = nil

	case cmdGetTargetVoltage:
		resp := make([]byte, 8)
		putLeUint32(resp[0:], 1000)
		putLeUint32(resp[4:], 1650)
		f.pending = resp

	case cmdDebug:
		f.handleDebugCommand(cmd)
	}
}

func (f *fakeTransport) handleDebugCommand(cmd []byte) {
	switch cmd[1] {
	case debugGetStatus:
		status := byte(debugCoreRunning)
		if f.coreHalted {
			status = debugCoreHalted
		}
		f.pending = []byte{status, 0x00}

	case debugForceDebug:
		f.coreHalted = true
		f.pending = nil

	case debugRunCore:
		if f.autoHaltOnRun {
			f.simulateLoaderRun()
		}
		f.coreHalted = f.autoHaltOnRun
		f.pending = nil

	case debugStepCore:
		f.pending = nil

	case debugResetSys:
		f.coreHalted = false
		f.pending = nil

	case debugEnterMode:
		f.mode = deviceModeDebug
		f.pending = nil

	case debugExitMode:
		f.pending = nil

	case debugReadCoreID:
		resp := make([]byte, 4)
		putLeUint32(resp, f.coreID)
		f.pending = resp

	case debugReadAllRegs:
		resp := make([]byte, numCoreRegisters*4)
		for i := 0; i < numCoreRegisters; i++ {
			putLeUint32(resp[i*4:], f.regs[i])
		}
		f.pending = resp

	case debugReadReg:
		idx := cmd[2]
		resp := make([]byte, 4)
		putLeUint32(resp, f.regs[idx])
		f.pending = resp

	case debugWriteReg:
		idx := cmd[2]
		f.regs[idx] = leUint32(cmd[3:])
		f.pending = []byte{debugStatusOk, 0x00}

	case debugReadMem32Bit:
		addr := leUint32(cmd[2:])
		length := leUint16(cmd[6:])
		f.pending = f.readMem(addr, int(length))

	case debugWriteMem32Bit, debugWriteMem8Bit:
		addr := leUint32(cmd[2:])
		length := leUint16(cmd[6:])
		f.expectPayload = true
		f.payloadAddr = addr
		f.payloadLen = int(length)
	}
}

func newTestSession(transport *fakeTransport) *Session {
	return &Session{
		cmdScratch:  NewBuffer(cmdFrameSize),
		dataScratch: NewBuffer(dataScratchSize),
		txEndpoint:  transport,
		rxEndpoint:  transport,
		log:         componentLog("test"),
		CoreState:   CoreHalted,
		ChipIndex:   0,
		pageErased:  bitmap.New(pageErasedBits),
	}
}
