// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// this code is mainly inspired and based on the openocd project source code
// for detailed information see

// https://sourceforge.net/p/openocd/code

package gostlink

import "time"

// USB identity. Only the v2 dongle (0x3748) speaks the wire protocol this
// package implements; v1 (0x3744) is recognized only so Open can report
// a clear DeviceMismatch instead of a confusing protocol error.
const (
	stlinkVendorID    = 0x0483
	stlinkV1ProductID = 0x3744
	stlinkV2ProductID = 0x3748
)

// fixed endpoint roles.
const (
	usbTxEndpointAddr    = 0x02 // bulk OUT: commands + host->device payload
	usbRxEndpointAddr    = 0x81 // bulk IN: device->host responses
	usbTraceEndpointAddr = 0x83 // unused by this protocol subset
)

const usbTransferTimeout = 800 * time.Millisecond

// dongle commands (2-byte frames: cmdGetVersion/cmdDfu/cmdGetCurrentMode).
const (
	cmdGetVersion       = 0xF1
	cmdDebug            = 0xF2
	cmdDfu              = 0xF3
	cmdGetCurrentMode   = 0xF5
	cmdGetTargetVoltage = 0xF7
)

// sub-opcodes of cmdDebug. This is the legacy, single-core register-file
// command set (0x00-0x22) rather than the ADIv5/DAP command set (0x30+)
// newer STLink firmware layers on top of it.
const (
	debugEnterJTag   = 0x00
	debugGetStatus   = 0x01
	debugForceDebug  = 0x02
	debugResetSys    = 0x03
	debugReadAllRegs = 0x04
	debugReadReg     = 0x05
	debugWriteReg    = 0x06

	debugReadMem32Bit  = 0x07
	debugWriteMem32Bit = 0x08

	debugRunCore  = 0x09
	debugStepCore = 0x0A

	debugWriteMem8Bit = 0x0D

	debugEnterMode  = 0x20
	debugExitMode   = 0x21
	debugReadCoreID = 0x22
)

// parameter byte following debugEnterMode.
const (
	debugEnterModeJTag = 0x00
	debugEnterModeSWD  = 0xA3
)

const dfuExit = 0x07

// cmdGetCurrentMode response values.
const (
	deviceModeDFU        = 0x00
	deviceModeMass       = 0x01
	deviceModeDebug      = 0x02
	deviceModeSwim       = 0x03
	deviceModeBootloader = 0x04
)

// core status, low byte of the 2-byte status response to debugGetStatus.
const (
	debugCoreRunning = 0x80
	debugCoreHalted  = 0x81
)

// generic command status word, returned by the handful of commands that
// acknowledge rather than reply with data (e.g. debugWriteReg). Shares its
// two values with the core-running/core-halted encoding above; the wire
// protocol reuses the same OK/FALSE convention in both places.
const (
	debugStatusOk    = 0x80
	debugStatusFalse = 0x81
)

// CoreState is the Session's cached view of the attached core.
type CoreState int

const (
	CoreUnknown CoreState = iota
	CoreRunning
	CoreHalted
)

func (s CoreState) String() string {
	switch s {
	case CoreRunning:
		return "running"
	case CoreHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// mode-kick retry parameters.
const (
	modeKickMaxRetries  = 10
	modeKickRetryWait   = 1 * time.Second
	modeKickReopenDelay = 250 * time.Millisecond
)

// memory access parameters.
const (
	memChunkBytes       = 1024 // successive ReadMem32 call size
	maxWriteMem8        = 64
	cpuIDBaseRegister   = 0xE0042000
	cpuIDBaseRegisterM0 = 0x40015800
)

// chip family tags: a tagged enumeration instead of OR-ed capability
// ints, dispatched on with a single switch.
type chipFamily int

const (
	chipFamilyGeneric chipFamily = iota
	chipFamilyF1
	chipFamilyF4
	chipFamilyL1
)

// F1-class flash controller (FPEC).
const (
	f1FlashRegsBase  = 0x40022000
	f1FlashRegsBankB = 0x40022040 // high-density second bank

	f1FlashKeyR = f1FlashRegsBase + 0x04
	f1FlashSR   = f1FlashRegsBase + 0x0C
	f1FlashCR   = f1FlashRegsBase + 0x10
	f1FlashAR   = f1FlashRegsBase + 0x14

	f1FlashKey1 = 0x45670123
	f1FlashKey2 = 0xCDEF89AB

	f1SRClearMask = 0x34 // EOP | WRPRTERR | PGERR
	f1CRPer       = 0x02
	f1CRMer       = 0x04
	f1CRStrt      = 0x40
	f1CRLock      = 0x80
	f1CRPg        = 0x01

	f1SRBusy     = 0x01
	f1SREop      = 0x20
	f1SRPgErr    = 0x04
	f1SRWrprtErr = 0x10
)

// F4-class flash controller.
const (
	f4FlashRegsBase = 0x40023C00

	f4FlashKeyR = f4FlashRegsBase + 0x04
	f4FlashSR   = f4FlashRegsBase + 0x0C
	f4FlashCR   = f4FlashRegsBase + 0x10

	f4FlashKey1 = 0x45670123
	f4FlashKey2 = 0xCDEF89AB

	f4CRSer  = 0x00000002
	f4CRStrt = 0x00010000
	f4CRPg   = 0x00000001
	f4CRLock = 0x80000000

	f4SRBusy   = 0x00010000
	f4SRPgErr  = 0x00000040
	f4SRWrpErr = 0x00000010
)

// L1-class flash controller, two-stage PECR unlock.
const (
	l1FlashRegsBase = 0x40023C00

	l1FlashPEKeyR = l1FlashRegsBase + 0x0C
	l1FlashPRKeyR = l1FlashRegsBase + 0x10
	l1FlashPECR   = l1FlashRegsBase + 0x04
	l1FlashSR     = l1FlashRegsBase + 0x18
	l1FlashOBR    = l1FlashRegsBase + 0x1C

	l1PeKey1 = 0x89ABCDEF
	l1PeKey2 = 0x02030405
	l1PrKey1 = 0x8C9DAEBF
	l1PrKey2 = 0x13141516

	l1PECRProg  = 0x00000008
	l1PECRErase = 0x00000200
	l1PECRFPrg  = 0x00000400

	l1SRBusy   = 0x00000001
	l1SREop    = 0x00000002
	l1SRWrpErr = 0x00000100
)

// mass-erase sentinel: the page address reserved to mean "erase all user
// flash" rather than a specific page.
const massEraseSentinel = 0xA11

// SRAM staging area for the download-and-run loader.
const loaderSRAMBase = 0x20000000

const (
	flashEraseMaxPolls     = 1000
	loaderRunMaxPolls      = 200
	flashChunkBytes        = 2048
	f1HighDensityThreshold = 256 * 1024
	f1HighDensityBankBAddr = 0x08080000
)

// pageErasedBits sizes Session.pageErased; it must cover the largest
// per-page erase-unit count among chipDescriptors (the widest is L1's
// 128KiB/256B pages = 512 pages, well under this bound).
const pageErasedBits = 4096

// dongle capability flags on the version descriptor, trimmed from the
// full ADIv5-era flag set to the handful this command subset actually
// consults.
const (
	flagHasMem16Bit      = 0
	flagHasTargetVoltage = 1
)
