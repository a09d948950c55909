// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostlink

import (
	"errors"

	"github.com/boljen/go-bitmap"
	"github.com/google/gousb"
)

var libUsbCtx *gousb.Context = nil

// ensureUSBContext lazily creates the package-wide libusb context;
// Open/Close manage it internally so callers never juggle a separate
// global lifecycle.
func ensureUSBContext() error {
	if libUsbCtx != nil {
		return nil
	}

	libUsbCtx = gousb.NewContext()
	if libUsbCtx == nil {
		return errors.New("could not initialize libusb context")
	}

	return nil
}

// closeUSBContext exits the libusb context once the last USB handle is
// gone; ensureUSBContext recreates it on the next Open.
func closeUSBContext() {
	if libUsbCtx != nil {
		libUsbCtx.Close()
		libUsbCtx = nil
	}
}

func idExists(ids []gousb.ID, id gousb.ID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func usbFindDevices(vids []gousb.ID, pids []gousb.ID) ([]*gousb.Device, error) {
	devices, err := libUsbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if idExists(vids, desc.Vendor) && idExists(pids, desc.Product) {
			logger.Debugf("inspecting usb device [%04x:%04x] on bus %03d:%03d", uint16(desc.Vendor), uint16(desc.Product), desc.Bus, desc.Address)
			return true
		}
		return false
	})

	// OpenDevices' error has no per-device attribution, so as long as we
	// got at least one handle back there is no actual error to surface.
	if len(devices) > 0 {
		return devices, nil
	}
	return nil, err
}

// usbGetVersion issues cmdGetVersion and populates h.version. Only the
// plain v1/v2 6-byte response is parsed; the v3-specific follow-up
// command belongs to a DAP generation this package does not implement.
func (h *Session) usbGetVersion() error {
	ctx := h.initTransfer(transferRxEndpoint)
	ctx.cmdBuffer.WriteByte(cmdGetVersion)

	if err := h.usbTransferNoErrCheck(ctx, 6); err != nil {
		return err
	}

	raw := ctx.DataBytes()
	packed := beUint16(raw)

	h.version.stlinkMajor = int((packed >> 12) & 0x0f)
	h.version.jtag = int((packed >> 6) & 0x3f)
	h.version.swim = int(packed & 0x3f)
	h.version.vendor = gousb.ID(leUint16(raw[2:]))
	h.version.product = gousb.ID(leUint16(raw[4:]))

	flags := bitmap.New(32)
	if h.version.jtag >= 13 {
		flags.Set(flagHasTargetVoltage, true)
	}
	if h.version.jtag >= 26 {
		flags.Set(flagHasMem16Bit, true)
	}
	h.version.flags = flags

	h.log.Debugf("ST-Link v%d, jtag api %d, swim api %d, [%04x:%04x]",
		h.version.stlinkMajor, h.version.jtag, h.version.swim, uint16(h.version.vendor), uint16(h.version.product))

	return nil
}

// VersionInfo is the decoded form of the 6-byte version descriptor,
// exposed for the CLI's version/info surface.
type VersionInfo struct {
	STLink int
	JTAG   int
	SWIM   int

	Vendor  uint16
	Product uint16
}

// Version returns the dongle identity captured at Open time.
func (h *Session) Version() VersionInfo {
	return VersionInfo{
		STLink:  h.version.stlinkMajor,
		JTAG:    h.version.jtag,
		SWIM:    h.version.swim,
		Vendor:  uint16(h.version.vendor),
		Product: uint16(h.version.product),
	}
}

// GetTargetVoltage reads the dongle's VAPP sense ADC.
func (h *Session) GetTargetVoltage() (float32, error) {
	ctx := h.initTransfer(transferRxEndpoint)
	ctx.cmdBuffer.WriteByte(cmdGetTargetVoltage)

	if err := h.usbTransferNoErrCheck(ctx, 8); err != nil {
		return 0, err
	}

	raw := ctx.DataBytes()
	a0 := leUint32(raw[0:])
	a1 := leUint32(raw[4:])
	if a0 == 0 {
		return 0, nil
	}
	return 2 * (float32(a1) * (1.2 / float32(a0))), nil
}
