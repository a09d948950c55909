// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// this code is mainly inspired and based on the openocd project source code
// for detailed information see

// https://sourceforge.net/p/openocd/code

package gostlink

// numCoreRegisters is the register-file width of ReadAllRegs' 84-byte
// response: R0-R15, xPSR, MSP, PSP, and two reserved trailing words.
const numCoreRegisters = 21

// GetStatus issues debugGetStatus and updates h.CoreState.
func (h *Session) GetStatus() (CoreState, error) {
	ctx := h.initTransfer(transferRxEndpoint)
	ctx.cmdBuffer.WriteByte(cmdDebug)
	ctx.cmdBuffer.WriteByte(debugGetStatus)

	if err := h.usbTransferNoErrCheck(ctx, 2); err != nil {
		return CoreUnknown, err
	}

	switch ctx.DataBytes()[0] {
	case debugCoreRunning:
		h.CoreState = CoreRunning
	case debugCoreHalted:
		h.CoreState = CoreHalted
	default:
		h.CoreState = CoreUnknown
	}

	return h.CoreState, nil
}

// Halt forces the core into debug halt.
func (h *Session) Halt() error {
	ctx := h.initTransfer(transferRxEndpoint)
	ctx.cmdBuffer.WriteByte(cmdDebug)
	ctx.cmdBuffer.WriteByte(debugForceDebug)

	if err := h.usbTransferNoErrCheck(ctx, 0); err != nil {
		return err
	}

	h.CoreState = CoreHalted
	return nil
}

// Run resumes a halted core.
func (h *Session) Run() error {
	ctx := h.initTransfer(transferRxEndpoint)
	ctx.cmdBuffer.WriteByte(cmdDebug)
	ctx.cmdBuffer.WriteByte(debugRunCore)

	if err := h.usbTransferNoErrCheck(ctx, 0); err != nil {
		return err
	}

	h.CoreState = CoreRunning
	return nil
}

// Step single-steps a halted core.
func (h *Session) Step() error {
	ctx := h.initTransfer(transferRxEndpoint)
	ctx.cmdBuffer.WriteByte(cmdDebug)
	ctx.cmdBuffer.WriteByte(debugStepCore)

	return h.usbTransferNoErrCheck(ctx, 0)
}

// ResetSys issues a system reset, leaving the core running.
func (h *Session) ResetSys() error {
	ctx := h.initTransfer(transferRxEndpoint)
	ctx.cmdBuffer.WriteByte(cmdDebug)
	ctx.cmdBuffer.WriteByte(debugResetSys)

	if err := h.usbTransferNoErrCheck(ctx, 0); err != nil {
		return err
	}

	h.CoreState = CoreRunning
	return nil
}

// ResetHalt resets the target and immediately halts it, the usual entry
// point for a flash session.
func (h *Session) ResetHalt() error {
	if err := h.ResetSys(); err != nil {
		return err
	}
	return h.Halt()
}

// ReadCoreID issues debugReadCoreID, the SWD-DP IDCODE as seen by the
// dongle rather than the target's DBGMCU_IDCODE.
func (h *Session) ReadCoreID() (uint32, error) {
	ctx := h.initTransfer(transferRxEndpoint)
	ctx.cmdBuffer.WriteByte(cmdDebug)
	ctx.cmdBuffer.WriteByte(debugReadCoreID)

	if err := h.usbTransferNoErrCheck(ctx, 4); err != nil {
		return 0, err
	}
	return leUint32(ctx.DataBytes()), nil
}

// Registers returns a snapshot of the full core register file. The core
// must be halted; callers that need a single register should prefer
// Register to avoid the larger transfer.
func (h *Session) Registers() ([numCoreRegisters]uint32, error) {
	var regs [numCoreRegisters]uint32

	if h.CoreState != CoreHalted {
		return regs, newProtocolError("read registers", debugCoreRunning)
	}

	ctx := h.initTransfer(transferRxEndpoint)
	ctx.cmdBuffer.WriteByte(cmdDebug)
	ctx.cmdBuffer.WriteByte(debugReadAllRegs)

	if err := h.usbTransferNoErrCheck(ctx, numCoreRegisters*4); err != nil {
		return regs, err
	}

	raw := ctx.DataBytes()
	for i := 0; i < numCoreRegisters; i++ {
		regs[i] = leUint32(raw[i*4:])
	}
	return regs, nil
}

// Register reads a single register by index.
func (h *Session) Register(index byte) (uint32, error) {
	if h.CoreState != CoreHalted {
		return 0, newProtocolError("read register", debugCoreRunning)
	}

	ctx := h.initTransfer(transferRxEndpoint)
	ctx.cmdBuffer.WriteByte(cmdDebug)
	ctx.cmdBuffer.WriteByte(debugReadReg)
	ctx.cmdBuffer.WriteByte(index)

	if err := h.usbTransferNoErrCheck(ctx, 4); err != nil {
		return 0, err
	}
	return leUint32(ctx.DataBytes()), nil
}

// SetRegister writes a single register by index.
func (h *Session) SetRegister(index byte, value uint32) error {
	if h.CoreState != CoreHalted {
		return newProtocolError("write register", debugCoreRunning)
	}

	ctx := h.initTransfer(transferRxEndpoint)
	ctx.cmdBuffer.WriteByte(cmdDebug)
	ctx.cmdBuffer.WriteByte(debugWriteReg)
	ctx.cmdBuffer.WriteByte(index)
	ctx.cmdBuffer.WriteUint32LE(value)

	return h.usbTransferErrCheck(ctx, "write register")
}

// ReadMem32 reads a 4-aligned, 4-byte-multiple-length memory span in one
// transfer. Callers with arbitrary alignment use ReadMemory.
func (h *Session) ReadMem32(addr uint32, length uint16) ([]byte, error) {
	addr &^= 0x3
	length = roundUp4(length)

	ctx := h.initTransfer(transferRxEndpoint)
	ctx.cmdBuffer.WriteByte(cmdDebug)
	ctx.cmdBuffer.WriteByte(debugReadMem32Bit)
	ctx.cmdBuffer.WriteUint32LE(addr)
	ctx.cmdBuffer.WriteUint16LE(length)

	if err := h.usbTransferNoErrCheck(ctx, uint32(length)); err != nil {
		return nil, err
	}

	out := make([]byte, length)
	copy(out, ctx.DataBytes())
	return out, nil
}

// WriteMem32 writes a 4-aligned, 4-byte-multiple-length payload.
func (h *Session) WriteMem32(addr uint32, payload []byte) error {
	if len(payload)%4 != 0 {
		return newProtocolError("write mem32", 0)
	}

	ctx := h.initTransfer(transferTxEndpoint)
	ctx.cmdBuffer.WriteByte(cmdDebug)
	ctx.cmdBuffer.WriteByte(debugWriteMem32Bit)
	ctx.cmdBuffer.WriteUint32LE(addr)
	ctx.cmdBuffer.WriteUint16LE(uint16(len(payload)))
	ctx.dataBuffer.Write(payload)

	return h.usbTransferNoErrCheck(ctx, uint32(len(payload)))
}

// WriteMem8 writes up to 64 bytes at an arbitrary address; used for odd
// leftover memory writes that do not fit the 32-bit path.
func (h *Session) WriteMem8(addr uint32, payload []byte) error {
	if len(payload) > maxWriteMem8 {
		return newProtocolError("write mem8", 0)
	}

	ctx := h.initTransfer(transferTxEndpoint)
	ctx.cmdBuffer.WriteByte(cmdDebug)
	ctx.cmdBuffer.WriteByte(debugWriteMem8Bit)
	ctx.cmdBuffer.WriteUint32LE(addr)
	ctx.cmdBuffer.WriteUint16LE(uint16(len(payload)))
	ctx.dataBuffer.Write(payload)

	return h.usbTransferNoErrCheck(ctx, uint32(len(payload)))
}

// ReadMemory reads an arbitrary address/length span, handling unaligned
// leads and chunking into memChunkBytes-sized ReadMem32 bursts.
func (h *Session) ReadMemory(addr uint32, length uint32) ([]byte, error) {
	out := make([]byte, 0, length)

	if misalign := addr & 0x3; misalign != 0 && length > 0 {
		aligned, err := h.ReadMem32(addr&^0x3, 4)
		if err != nil {
			return nil, err
		}
		prefix := aligned[misalign:]
		n := minInt(len(prefix), int(length))
		out = append(out, prefix[:n]...)
		addr += uint32(n)
		length -= uint32(n)
	}

	for length > 0 {
		chunk := min32(length, memChunkBytes)
		data, err := h.ReadMem32(addr, uint16(chunk))
		if err != nil {
			return nil, err
		}

		n := minInt(len(data), int(chunk))
		out = append(out, data[:n]...)
		addr += chunk
		length -= chunk
	}

	return out, nil
}
