// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// this code is mainly inspired and based on the openocd project source code
// for detailed information see

// https://sourceforge.net/p/openocd/code

package gostlink

import (
	"errors"
	"time"

	"github.com/google/gousb"
)

// usbCurrentMode issues cmdGetCurrentMode and returns the raw deviceMode*
// value.
func (h *Session) usbCurrentMode() (byte, error) {
	ctx := h.initTransfer(transferRxEndpoint)
	ctx.cmdBuffer.WriteByte(cmdGetCurrentMode)

	if err := h.usbTransferNoErrCheck(ctx, 2); err != nil {
		return 0, err
	}
	return ctx.DataBytes()[0], nil
}

// usbEnterMode asks the dongle to enter SWD debug mode. The legacy enter
// command has no response phase.
func (h *Session) usbEnterMode(param byte) error {
	ctx := h.initTransfer(transferRxEndpoint)
	ctx.cmdBuffer.WriteByte(cmdDebug)
	ctx.cmdBuffer.WriteByte(debugEnterMode)
	ctx.cmdBuffer.WriteByte(param)

	return h.usbTransferNoErrCheck(ctx, 0)
}

// usbExitDebugMode issues debugExitMode, taking the dongle out of debug
// mode. modeKick does not call it.
func (h *Session) usbExitDebugMode() error {
	ctx := h.initTransfer(transferRxEndpoint)
	ctx.cmdBuffer.WriteByte(cmdDebug)
	ctx.cmdBuffer.WriteByte(debugExitMode)

	return h.usbTransferNoErrCheck(ctx, 0)
}

// usbExitDFU issues cmdDfu/dfuExit, the only way to move the dongle out of
// its DFU bootloader personality.
func (h *Session) usbExitDFU() error {
	ctx := h.initTransfer(transferRxEndpoint)
	ctx.cmdBuffer.WriteByte(cmdDfu)
	ctx.cmdBuffer.WriteByte(dfuExit)

	return h.usbTransferNoErrCheck(ctx, 0)
}

// modeKick moves the dongle into SWD debug mode. A freshly
// attached dongle can come up in DFU, mass-storage, or an already-debug
// mode left over from a previous session; debug and mass-storage are used
// directly. Every other mode gets a DFU exit and a transport reopen before
// SWD debug mode can be entered, and real dongles are occasionally slow
// to settle after that reopen, hence the bounded retry loop.
func (h *Session) modeKick(connectUnderReset bool) error {
	mode, err := h.usbCurrentMode()
	if err != nil {
		return err
	}
	h.log.Debugf("current device mode: 0x%02x", mode)

	if mode != deviceModeDebug && mode != deviceModeMass {
		if err := h.usbExitDFU(); err != nil {
			h.log.Warnf("dfu exit failed, proceeding anyway: %v", err)
		}

		if err := h.reopenTransport(); err != nil {
			return err
		}

		var lastErr error
		for attempt := 1; attempt <= modeKickMaxRetries; attempt++ {
			if err := h.usbEnterMode(debugEnterModeSWD); err != nil {
				lastErr = err
				h.log.Debugf("mode-kick attempt %d/%d: enter mode failed: %v", attempt, modeKickMaxRetries, err)
				time.Sleep(modeKickRetryWait)
				continue
			}

			mode, err = h.usbCurrentMode()
			if err == nil && mode == deviceModeDebug {
				lastErr = nil
				break
			}
			lastErr = err
			h.log.Debugf("mode-kick attempt %d/%d: still in mode 0x%02x", attempt, modeKickMaxRetries, mode)
			time.Sleep(modeKickRetryWait)
		}

		if lastErr != nil {
			return newTransportError("mode-kick", lastErr)
		}
	}

	if connectUnderReset {
		if err := h.ResetSys(); err != nil {
			h.log.Warnf("reset under connect failed, continuing: %v", err)
		}
	}

	if err := h.usbEnterMode(debugEnterModeSWD); err != nil {
		return err
	}

	mode, err = h.usbCurrentMode()
	if err != nil {
		return err
	}

	if mode != deviceModeDebug {
		h.log.Warnf("dongle reports mode 0x%02x after mode-kick, expected debug mode", mode)
	} else {
		h.CoreState = CoreRunning
	}

	if h.version.flags != nil && h.version.flags.Get(flagHasTargetVoltage) {
		if voltage, err := h.GetTargetVoltage(); err != nil {
			h.log.Warnf("could not read target voltage: %v", err)
		} else if voltage < 1.5 {
			h.log.Warnf("target voltage %.2fV looks too low for reliable debugging", voltage)
		}
	}

	return nil
}

// reopenTransport closes and reclaims the USB device by serial number;
// the dongle disconnects and re-enumerates after a DFU exit, so the old
// handle is dead before the first SWD enter attempt.
func (h *Session) reopenTransport() error {
	serial, _ := h.usbDevice.SerialNumber()

	h.releaseUSB()
	h.usbConfig = nil
	h.usbInterface = nil
	h.usbDevice = nil

	time.Sleep(modeKickReopenDelay)

	devices, err := usbFindDevices([]gousb.ID{stlinkVendorID}, []gousb.ID{stlinkV2ProductID})
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return errors.New("st-link disappeared during mode-kick transport reopen")
	}

	device, err := selectDevice(devices, serial)
	if err != nil {
		return err
	}

	h.usbDevice = device
	return h.claimInterface()
}
