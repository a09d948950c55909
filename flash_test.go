// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostlink

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const f1ChipIndex = 1 // STM32F100, chipDescriptors[1]
const f4ChipIndex = 3 // STM32F4xx, chipDescriptors[3]
const l1ChipIndex = 4 // STM32L15x, chipDescriptors[4]

func TestEraseF1PageWritesPerThenStrt(t *testing.T) {
	transport := newFakeTransport()
	session := newTestSession(transport)
	session.ChipIndex = f1ChipIndex

	const pageAddr = 0x08000400
	require.NoError(t, session.Erase(pageAddr))

	cr := leUint32(transport.readMem(f1FlashCR, 4))
	assert.Equal(t, uint32(f1CRStrt|f1CRPer), cr)
	assert.True(t, session.pageErasedThisSession(pageAddr))
}

func TestMassEraseF1WritesMer(t *testing.T) {
	transport := newFakeTransport()
	session := newTestSession(transport)
	session.ChipIndex = f1ChipIndex

	require.NoError(t, session.MassErase())

	cr := leUint32(transport.readMem(f1FlashCR, 4))
	assert.Equal(t, uint32(f1CRStrt|f1CRMer), cr)
	assert.True(t, session.pageErasedThisSession(0x08000000))
	assert.True(t, session.pageErasedThisSession(0x0801FC00))
}

func TestMassEraseRetriesOnceOnFailure(t *testing.T) {
	transport := newFakeTransport()
	transport.forceF1Fault = true // every erase attempt reports WRPRTERR, never EOP
	session := newTestSession(transport)
	session.ChipIndex = f1ChipIndex

	err := session.MassErase()
	assert.Error(t, err)
}

func TestEraseL1PageRunsTwoStageUnlock(t *testing.T) {
	transport := newFakeTransport()
	session := newTestSession(transport)
	session.ChipIndex = l1ChipIndex

	const pageAddr = 0x08000400
	require.NoError(t, session.Erase(pageAddr))

	// both unlock stages must have run: PEKEY then PRGKEY, last key of
	// each pair still latched in the register.
	assert.Equal(t, uint32(l1PeKey2), leUint32(transport.readMem(l1FlashPEKeyR, 4)))
	assert.Equal(t, uint32(l1PrKey2), leUint32(transport.readMem(l1FlashPRKeyR, 4)))

	// the erase bit is cleared again once the operation completes.
	pecr := leUint32(transport.readMem(l1FlashPECR, 4))
	assert.Zero(t, pecr&l1PECRErase)
	assert.True(t, session.pageErasedThisSession(pageAddr))
}

func TestMassEraseL1TogglesOBR(t *testing.T) {
	transport := newFakeTransport()
	transport.seedMem(l1FlashOBR, []byte{0x78, 0x56, 0x34, 0x12})
	session := newTestSession(transport)
	session.ChipIndex = l1ChipIndex

	require.NoError(t, session.MassErase())

	// the OBR round-trip emulating mass-erase must not corrupt it.
	assert.Equal(t, uint32(0x12345678), leUint32(transport.readMem(l1FlashOBR, 4)))
	assert.True(t, session.pageErasedThisSession(0x08000000))
}

func TestEraseL1ReportsWriteProtected(t *testing.T) {
	transport := newFakeTransport()
	transport.seedMem(l1FlashSR, []byte{0x00, 0x01, 0x00, 0x00}) // WRPERR
	session := newTestSession(transport)
	session.ChipIndex = l1ChipIndex

	err := session.Erase(0x08000400)
	var writeErr *FlashWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.True(t, writeErr.WriteProtected)
	assert.False(t, session.pageErasedThisSession(0x08000400))
}

func TestWriteStagesLoaderImageInSram(t *testing.T) {
	transport := newFakeTransport()
	transport.autoHaltOnRun = true
	session := newTestSession(transport)
	session.ChipIndex = f4ChipIndex

	payload := []byte{0xaa, 0xbb, 0xcc, 0xdd}
	const targetAddr = 0x08010000
	require.NoError(t, session.Write(targetAddr, payload))

	image := transport.readMem(loaderSRAMBase, len(loaderStubF4)+16+len(payload))
	assert.Equal(t, loaderStubF4, image[:len(loaderStubF4)])

	tail := image[len(loaderStubF4) : len(loaderStubF4)+16]
	assert.Equal(t, uint32(f4FlashRegsBase), leUint32(tail[0:4]))
	assert.Equal(t, uint32(loaderSRAMBase)+uint32(len(loaderStubF4))+16, leUint32(tail[4:8]))
	assert.Equal(t, uint32(targetAddr), leUint32(tail[8:12]))
	assert.Equal(t, uint32(len(payload)/2), leUint32(tail[12:16]))

	assert.Equal(t, payload, image[len(loaderStubF4)+16:])

	cr := leUint32(transport.readMem(f4FlashCR, 4))
	assert.Equal(t, uint32(f4CRLock), cr)
}

func TestWriteOddLengthPadsToExtraHalfword(t *testing.T) {
	transport := newFakeTransport()
	transport.autoHaltOnRun = true
	session := newTestSession(transport)
	session.ChipIndex = f4ChipIndex

	payload := []byte{0x01, 0x02, 0x03}
	require.NoError(t, session.Write(0x08001000, payload))

	tail := transport.readMem(loaderSRAMBase+uint32(len(loaderStubF4)), 16)
	assert.Equal(t, uint32(2), leUint32(tail[12:16])) // 4 padded bytes / 2

	// the pad byte must program as a no-op, so it is 0xFF, not 0x00.
	padded := transport.readMem(loaderSRAMBase+uint32(len(loaderStubF4))+16, 4)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0xFF}, padded)
}

func TestWriteReportsUnerasedLocation(t *testing.T) {
	transport := newFakeTransport()
	transport.autoHaltOnRun = true
	transport.seedMem(f4FlashSR, []byte{f4SRPgErr, 0, 0, 0})
	session := newTestSession(transport)
	session.ChipIndex = f4ChipIndex

	err := session.Write(0x08010000, []byte{0x01, 0x02})
	require.Error(t, err)
	var writeErr *FlashWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.False(t, writeErr.WriteProtected)

	// flash is re-locked even on failure.
	cr := leUint32(transport.readMem(f4FlashCR, 4))
	assert.Equal(t, uint32(f4CRLock), cr)
}

func TestWriteReportsWriteProtected(t *testing.T) {
	transport := newFakeTransport()
	transport.autoHaltOnRun = true
	transport.seedMem(f4FlashSR, []byte{f4SRWrpErr, 0, 0, 0})
	session := newTestSession(transport)
	session.ChipIndex = f4ChipIndex

	err := session.Write(0x08010000, []byte{0x01, 0x02})
	require.Error(t, err)
	var writeErr *FlashWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.True(t, writeErr.WriteProtected)
}

func TestWriteLoaderHangTimeout(t *testing.T) {
	transport := newFakeTransport()
	transport.autoHaltOnRun = false // stub never halts
	session := newTestSession(transport)
	session.ChipIndex = f4ChipIndex

	err := session.Write(0x08010000, []byte{0x01, 0x02})
	var hang *LoaderHangTimeout
	require.ErrorAs(t, err, &hang)

	// the aborted write must still re-lock the controller.
	cr := leUint32(transport.readMem(f4FlashCR, 4))
	assert.Equal(t, uint32(f4CRLock), cr)
}

func TestVerifyMismatchReportsFirstDivergingByte(t *testing.T) {
	transport := newFakeTransport()
	transport.seedMem(0x08000000, []byte{0x01, 0x02, 0x03, 0x04})
	session := newTestSession(transport)

	err := session.Verify(0x08000000, bytes.NewReader([]byte{0x01, 0x02, 0xff, 0x04}))
	var mismatch *VerifyMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, uint32(0x08000002), mismatch.Address)
}

// Writing a full-chunk all-0x42 payload and reading it straight back must
// yield exactly what was written. Unlike the staging-only tests above,
// this asserts on flash content at the target address, not just the SRAM
// image and lock bit.
func TestWriteThenReadMemoryRoundTripsPayload(t *testing.T) {
	transport := newFakeTransport()
	transport.autoHaltOnRun = true
	session := newTestSession(transport)
	session.ChipIndex = f4ChipIndex

	payload := bytes.Repeat([]byte{0x42}, flashChunkBytes)
	const targetAddr = 0x08000000
	require.NoError(t, session.Write(targetAddr, payload))

	got, err := session.ReadMemory(targetAddr, uint32(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestVerifyMatchSucceeds(t *testing.T) {
	transport := newFakeTransport()
	data := []byte{0x42, 0x42, 0x42, 0x42}
	transport.seedMem(0x08000000, data)
	session := newTestSession(transport)

	require.NoError(t, session.Verify(0x08000000, bytes.NewReader(data)))
}
