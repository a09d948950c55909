// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// this code is mainly inspired and based on the openocd project source code
// for detailed information see

// https://sourceforge.net/p/openocd/code

package gostlink

import (
	"errors"
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/google/gousb"
	"github.com/sirupsen/logrus"
)

// cmdFrameSize is the fixed command-frame length written to the OUT
// endpoint on every transfer; the dongle ignores trailing bytes, so
// shorter logical commands are conceptually padded to this size.
const cmdFrameSize = 16

// dataScratchSize is 6 KiB plus 4 bytes of scratch, enough for one
// flash-write chunk (2048 bytes) plus the loader stub and its parameter
// tail, or one ReadMem32 burst.
const dataScratchSize = 6*1024 + 4

// versionDescriptor is the packed 6-byte dongle identity blob.
type versionDescriptor struct {
	stlinkMajor int
	jtag        int
	swim        int
	vendor      gousb.ID
	product     gousb.ID
	flags       bitmap.Bitmap
}

// SessionConfig selects which dongle to open and how to bring up the
// target.
type SessionConfig struct {
	Serial            string // empty: accept the lone attached dongle
	ConnectUnderReset bool
}

// Session is one connected dongle. It exclusively owns the USB handle and
// both scratch buffers; it has no concurrent mutators and issues
// commands strictly sequentially.
type Session struct {
	usbDevice    *gousb.Device
	usbConfig    *gousb.Config
	usbInterface *gousb.Interface

	rxEndpoint inEndpoint
	txEndpoint outEndpoint

	cmdScratch  *Buffer
	dataScratch *Buffer

	version versionDescriptor

	CoreState   CoreState
	ChipIndex   int
	CPUIDCode   uint32
	FlashSizeKB uint32

	pageErased bitmap.Bitmap // per-erase-unit "erased this session" tracking

	log *logrus.Entry
}

// Open scans the USB bus for an attached ST-Link v2 dongle, claims its
// interface, mode-kicks it into SWD debug mode, and identifies the
// attached chip. The returned Session must be closed by the caller.
func Open(config SessionConfig) (*Session, error) {
	if err := ensureUSBContext(); err != nil {
		return nil, err
	}

	devices, err := usbFindDevices([]gousb.ID{stlinkVendorID}, []gousb.ID{stlinkV1ProductID, stlinkV2ProductID})
	if err != nil {
		closeUSBContext()
		return nil, err
	}
	if len(devices) == 0 {
		closeUSBContext()
		return nil, errors.New("could not find any ST-Link connected to this computer")
	}

	device, err := selectDevice(devices, config.Serial)
	if err != nil {
		closeUSBContext()
		return nil, err
	}

	session := &Session{
		usbDevice:   device,
		cmdScratch:  NewBuffer(cmdFrameSize),
		dataScratch: NewBuffer(dataScratchSize),
		pageErased:  bitmap.New(pageErasedBits),
		CoreState:   CoreUnknown,
	}

	serial, _ := device.SerialNumber()
	session.log = componentLog("session").WithField("serial", serial)

	if err := session.claimInterface(); err != nil {
		session.Close()
		return nil, err
	}

	if err := session.usbGetVersion(); err != nil {
		session.Close()
		return nil, err
	}

	if uint16(session.version.vendor) != stlinkVendorID || uint16(session.version.product) != stlinkV2ProductID {
		session.Close()
		return nil, &DeviceMismatch{Vendor: uint16(session.version.vendor), Product: uint16(session.version.product)}
	}

	if err := session.modeKick(config.ConnectUnderReset); err != nil {
		session.Close()
		return nil, err
	}

	if err := session.identifyChip(); err != nil {
		var unknown *ChipUnknown
		if !errors.As(err, &unknown) {
			session.Close()
			return nil, err
		}
		session.log.Warn(err)
	}

	return session, nil
}

// claimInterface resets the device, then selects configuration 1 and
// claims interface 0 with both bulk endpoints.
func (h *Session) claimInterface() error {
	var err error

	if err = h.usbDevice.Reset(); err != nil {
		return fmt.Errorf("could not reset st-link device: %w", err)
	}

	h.usbDevice.SetAutoDetach(true)

	h.usbConfig, err = h.usbDevice.Config(1)
	if err != nil {
		return fmt.Errorf("could not request configuration #1 for st-link debugger: %w", err)
	}

	h.usbInterface, err = h.usbConfig.Interface(0, 0)
	if err != nil {
		return fmt.Errorf("could not claim interface 0,0 for st-link debugger: %w", err)
	}

	h.rxEndpoint, err = h.usbInterface.InEndpoint(usbRxEndpointAddr & 0x7F)
	if err != nil {
		return fmt.Errorf("could not get rx endpoint for debugger: %w", err)
	}

	h.txEndpoint, err = h.usbInterface.OutEndpoint(usbTxEndpointAddr)
	if err != nil {
		return fmt.Errorf("could not get tx endpoint for debugger: %w", err)
	}

	return nil
}

// Close releases USB resources, including the libusb context. It is safe
// to call after a partially successful Open.
func (h *Session) Close() error {
	h.releaseUSB()
	closeUSBContext()
	return nil
}

func (h *Session) releaseUSB() {
	if h.usbInterface != nil {
		h.usbInterface.Close()
	}
	if h.usbConfig != nil {
		h.usbConfig.Close()
	}
	if h.usbDevice != nil {
		h.usbDevice.Close()
	}
}

func selectDevice(devices []*gousb.Device, serial string) (*gousb.Device, error) {
	if len(devices) == 1 {
		return devices[0], nil
	}

	if serial == "" {
		for _, d := range devices {
			d.Close()
		}
		return nil, errors.New("more than one ST-Link attached; a serial number is required to disambiguate")
	}

	for _, d := range devices {
		devSerial, _ := d.SerialNumber()
		if devSerial == serial {
			for _, other := range devices {
				if other != d {
					other.Close()
				}
			}
			return d, nil
		}
	}

	for _, d := range devices {
		d.Close()
	}
	return nil, fmt.Errorf("no attached ST-Link matches serial number %q", serial)
}
