// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// this code is mainly inspired and based on the openocd project source code
// for detailed information see

// https://sourceforge.net/p/openocd/code

package gostlink

import "io"

func (h *Session) readReg32(addr uint32) (uint32, error) {
	data, err := h.ReadMem32(addr, 4)
	if err != nil {
		return 0, err
	}
	return leUint32(data), nil
}

func (h *Session) writeReg32(addr uint32, value uint32) error {
	var buf [4]byte
	putLeUint32(buf[:], value)
	return h.WriteMem32(addr, buf[:])
}

// pollBusyClear polls srAddr until busyBit clears, up to flashEraseMaxPolls
// times, returning the final status register value.
func (h *Session) pollBusyClear(srAddr uint32, busyBit uint32) (uint32, error) {
	for i := 0; i < flashEraseMaxPolls; i++ {
		sr, err := h.readReg32(srAddr)
		if err != nil {
			return 0, err
		}
		if sr&busyBit == 0 {
			return sr, nil
		}
	}
	return 0, &FlashEraseTimeout{Register: srAddr, Polls: flashEraseMaxPolls}
}

func (h *Session) eraseF1(addr uint32) error {
	if err := h.writeReg32(f1FlashKeyR, f1FlashKey1); err != nil {
		return err
	}
	if err := h.writeReg32(f1FlashKeyR, f1FlashKey2); err != nil {
		return err
	}
	if err := h.writeReg32(f1FlashSR, f1SRClearMask); err != nil {
		return err
	}

	if addr == massEraseSentinel {
		if err := h.writeReg32(f1FlashCR, f1CRMer); err != nil {
			return err
		}
		if err := h.writeReg32(f1FlashCR, f1CRStrt|f1CRMer); err != nil {
			return err
		}
	} else {
		if err := h.writeReg32(f1FlashAR, addr); err != nil {
			return err
		}
		if err := h.writeReg32(f1FlashCR, f1CRPer); err != nil {
			return err
		}
		if err := h.writeReg32(f1FlashCR, f1CRStrt|f1CRPer); err != nil {
			return err
		}
	}

	sr, err := h.pollBusyClear(f1FlashSR, f1SRBusy)
	if err != nil {
		return err
	}
	if sr&f1SREop == 0 {
		return newProtocolError("f1 erase", byte(sr))
	}
	return nil
}

func (h *Session) eraseF4(addr uint32) error {
	if err := h.writeReg32(f4FlashKeyR, f4FlashKey1); err != nil {
		return err
	}
	if err := h.writeReg32(f4FlashKeyR, f4FlashKey2); err != nil {
		return err
	}

	if addr == massEraseSentinel {
		const f4CRMer = 0x00000004
		if err := h.writeReg32(f4FlashCR, f4CRMer); err != nil {
			return err
		}
		if err := h.writeReg32(f4FlashCR, f4CRStrt|f4CRMer); err != nil {
			return err
		}
	} else {
		d := h.Chip()
		sector := (addr - d.FlashBase) / d.FlashPageSize
		cr1 := uint32(0x00000202) | (sector << 3)
		cr2 := uint32(0x00010202) | (sector << 3)
		if err := h.writeReg32(f4FlashCR, cr1); err != nil {
			return err
		}
		if err := h.writeReg32(f4FlashCR, cr2); err != nil {
			return err
		}
	}

	sr, err := h.pollBusyClear(f4FlashSR, f4SRBusy)
	if err != nil {
		return err
	}
	if sr&f4SRPgErr != 0 {
		return &FlashWriteError{Address: addr}
	}
	if sr&f4SRWrpErr != 0 {
		return &FlashWriteError{Address: addr, WriteProtected: true}
	}
	return nil
}

// eraseL1 implements the two-stage PECR unlock. Mass-erase has no
// dedicated command on this family; it is emulated by toggling OBR.
func (h *Session) eraseL1(addr uint32) error {
	if err := h.writeReg32(l1FlashPEKeyR, l1PeKey1); err != nil {
		return err
	}
	if err := h.writeReg32(l1FlashPEKeyR, l1PeKey2); err != nil {
		return err
	}
	if err := h.writeReg32(l1FlashPRKeyR, l1PrKey1); err != nil {
		return err
	}
	if err := h.writeReg32(l1FlashPRKeyR, l1PrKey2); err != nil {
		return err
	}

	pecr, err := h.readReg32(l1FlashPECR)
	if err != nil {
		return err
	}
	if err := h.writeReg32(l1FlashPECR, pecr|l1PECRErase); err != nil {
		return err
	}

	if addr == massEraseSentinel {
		obr, err := h.readReg32(l1FlashOBR)
		if err != nil {
			return err
		}
		if err := h.writeReg32(l1FlashOBR, obr); err != nil {
			return err
		}
	} else {
		if err := h.writeReg32(addr, 0); err != nil {
			return err
		}
	}

	sr, err := h.pollBusyClear(l1FlashSR, l1SRBusy)
	if err != nil {
		return err
	}

	if pecr, rerr := h.readReg32(l1FlashPECR); rerr == nil {
		h.writeReg32(l1FlashPECR, pecr&^l1PECRErase)
	}

	if sr&l1SRWrpErr != 0 {
		return &FlashWriteError{Address: addr, WriteProtected: true}
	}
	return nil
}

// pageIndexFor maps a flash address to its slot in h.pageErased; an address
// below FlashBase or past the bitmap's capacity maps to slot 0, so a bogus
// address never panics the tracker. It is a diagnostics aid, not a
// correctness dependency.
func (h *Session) pageIndexFor(addr uint32) int {
	d := h.Chip()
	if d.FlashPageSize == 0 || addr < d.FlashBase {
		return 0
	}
	idx := int((addr - d.FlashBase) / d.FlashPageSize)
	if idx >= pageErasedBits {
		return 0
	}
	return idx
}

// markPagesErased flips the erased-this-session bit for every page the
// mass-erase sentinel or a single page-erase just covered.
func (h *Session) markPagesErased(addr uint32) {
	if h.pageErased == nil {
		return
	}
	if addr == massEraseSentinel {
		for i := 0; i < pageErasedBits; i++ {
			h.pageErased.Set(i, true)
		}
		return
	}
	h.pageErased.Set(h.pageIndexFor(addr), true)
}

// pageErasedThisSession reports whether the page containing addr has been
// erased via Erase/MassErase during the current Session.
func (h *Session) pageErasedThisSession(addr uint32) bool {
	if h.pageErased == nil {
		return false
	}
	return h.pageErased.Get(h.pageIndexFor(addr))
}

// Erase dispatches to the strategy matching the identified chip family.
// Pass massEraseSentinel to erase the whole device.
func (h *Session) Erase(addr uint32) error {
	var err error
	switch h.Chip().Family {
	case chipFamilyF4:
		err = h.eraseF4(addr)
	case chipFamilyL1:
		err = h.eraseL1(addr)
	default:
		err = h.eraseF1(addr)
	}
	if err == nil {
		h.markPagesErased(addr)
	}
	return err
}

// MassErase erases the whole device. A failed first attempt is retried
// exactly once before giving up; repeated unconditional retries would mask
// a genuinely write-protected device.
func (h *Session) MassErase() error {
	err := h.Erase(massEraseSentinel)
	if err == nil {
		return nil
	}

	h.log.Warnf("mass erase failed, retrying once: %v", err)
	return h.Erase(massEraseSentinel)
}

func (h *Session) unlockFlash() error {
	switch h.Chip().Family {
	case chipFamilyF4:
		if err := h.writeReg32(f4FlashKeyR, f4FlashKey1); err != nil {
			return err
		}
		return h.writeReg32(f4FlashKeyR, f4FlashKey2)
	case chipFamilyL1:
		if err := h.writeReg32(l1FlashPEKeyR, l1PeKey1); err != nil {
			return err
		}
		if err := h.writeReg32(l1FlashPEKeyR, l1PeKey2); err != nil {
			return err
		}
		if err := h.writeReg32(l1FlashPRKeyR, l1PrKey1); err != nil {
			return err
		}
		return h.writeReg32(l1FlashPRKeyR, l1PrKey2)
	default:
		if err := h.writeReg32(f1FlashKeyR, f1FlashKey1); err != nil {
			return err
		}
		return h.writeReg32(f1FlashKeyR, f1FlashKey2)
	}
}

func (h *Session) lockFlash() error {
	switch h.Chip().Family {
	case chipFamilyF4:
		return h.writeReg32(f4FlashCR, f4CRLock)
	case chipFamilyL1:
		pecr, err := h.readReg32(l1FlashPECR)
		if err != nil {
			return err
		}
		return h.writeReg32(l1FlashPECR, pecr|0x1)
	default:
		return h.writeReg32(f1FlashCR, f1CRLock)
	}
}

// flashControllerBaseFor picks the flash-controller register base used by
// the loader stub for a given target address, including the F1
// high-density second-bank override.
func (h *Session) flashControllerBaseFor(addr uint32) uint32 {
	switch h.Chip().Family {
	case chipFamilyF1:
		if h.FlashSizeKB*1024 > f1HighDensityThreshold && addr >= f1HighDensityBankBAddr {
			return f1FlashRegsBankB
		}
		return f1FlashRegsBase
	case chipFamilyL1:
		return l1FlashRegsBase
	default:
		return f4FlashRegsBase
	}
}

func padTo4(b []byte) []byte {
	n := len(b)
	rem := n % 4
	if rem == 0 {
		return b
	}
	out := make([]byte, n+4-rem)
	copy(out, b)
	return out
}

// Write programs payload starting at targetAddr using the download-and-run
// loader: flash cannot be driven directly by the dongle, so
// each chunk is staged into SRAM with its parameter tail and run to
// completion before the next chunk begins.
func (h *Session) Write(targetAddr uint32, payload []byte) error {
	// The pad byte is 0xFF: programming only clears bits, so an all-ones
	// halfword tail is a no-op against the erased flash it lands on.
	if padded := roundUp2(len(payload)); padded != len(payload) {
		payload = append(append(make([]byte, 0, padded), payload...), 0xFF)
	}

	if err := h.unlockFlash(); err != nil {
		return err
	}
	if h.Chip().Family != chipFamilyF4 && h.Chip().Family != chipFamilyL1 {
		if err := h.writeReg32(f1FlashSR, f1SRClearMask); err != nil {
			h.lockFlash()
			return err
		}
	}

	if err := h.writeChunks(targetAddr, payload); err != nil {
		h.lockFlash()
		return err
	}

	srAddr, pgErrBit, wrpErrBit := uint32(f1FlashSR), uint32(f1SRPgErr), uint32(f1SRWrprtErr)
	if h.Chip().Family == chipFamilyF4 || h.Chip().Family == chipFamilyL1 {
		srAddr, pgErrBit, wrpErrBit = f4FlashSR, f4SRPgErr, f4SRWrpErr
	}

	if sr, err := h.readReg32(srAddr); err == nil {
		if sr&pgErrBit != 0 {
			h.lockFlash()
			if !h.pageErasedThisSession(targetAddr) {
				h.log.Warnf("PGERR at 0x%08x: page was never erased this session", targetAddr)
			}
			return &FlashWriteError{Address: targetAddr}
		}
		if sr&wrpErrBit != 0 {
			h.lockFlash()
			return &FlashWriteError{Address: targetAddr, WriteProtected: true}
		}
	}

	return h.lockFlash()
}

// writeChunks drives one download-and-run cycle per flashChunkBytes-sized
// slice of payload. The caller holds the flash unlock and is responsible
// for re-locking whether or not a chunk fails.
func (h *Session) writeChunks(targetAddr uint32, payload []byte) error {
	stub := loaderStubF1
	if h.Chip().Family == chipFamilyF4 || h.Chip().Family == chipFamilyL1 {
		stub = loaderStubF4
	}

	addr := targetAddr
	remaining := payload

	for len(remaining) > 0 {
		chunkLen := minInt(len(remaining), flashChunkBytes)
		chunk := remaining[:chunkLen]
		remaining = remaining[chunkLen:]

		flashBase := h.flashControllerBaseFor(addr)
		image := padTo4(assembleLoaderImage(stub, flashBase, addr, chunk))

		if err := h.WriteMem32(loaderSRAMBase, image); err != nil {
			return err
		}
		if err := h.SetRegister(15, loaderSRAMBase); err != nil {
			return err
		}
		if err := h.Run(); err != nil {
			return err
		}

		halted := false
		for i := 0; i < loaderRunMaxPolls; i++ {
			state, err := h.GetStatus()
			if err != nil {
				return err
			}
			if state == CoreHalted {
				halted = true
				break
			}
		}
		if !halted {
			return &LoaderHangTimeout{Polls: loaderRunMaxPolls}
		}

		addr += uint32(chunkLen)
	}

	return nil
}

// Verify streams source in <=128KiB chunks and compares it byte-for-byte
// against flash starting at addr, aborting on the first mismatch.
func (h *Session) Verify(addr uint32, source io.Reader) error {
	buf := make([]byte, 128*1024)

	for {
		n, rerr := source.Read(buf)
		if n > 0 {
			flashData, err := h.ReadMemory(addr, uint32(n))
			if err != nil {
				return err
			}
			for i := 0; i < n; i++ {
				if flashData[i] != buf[i] {
					return &VerifyMismatch{Address: addr + uint32(i), Got: flashData[i], Want: buf[i]}
				}
			}
			addr += uint32(n)
		}

		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
