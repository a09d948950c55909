// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostlink

import (
	"context"
	"fmt"
)

// outEndpoint and inEndpoint are satisfied by *gousb.OutEndpoint and
// *gousb.InEndpoint respectively; narrowing to just the context-aware
// transfer methods lets tests substitute an in-memory fake transport
// without touching libusb.
type outEndpoint interface {
	WriteContext(ctx context.Context, data []byte) (int, error)
}

type inEndpoint interface {
	ReadContext(ctx context.Context, data []byte) (int, error)
}

type usbTransferDirection uint8

const (
	transferRxEndpoint usbTransferDirection = iota // device -> host
	transferTxEndpoint                             // host -> device
)

// transferCtx bundles one command's command buffer and data buffer. Both
// buffers are the Session's scratch buffers: no command
// retains bytes belonging to another command, since initTransfer resets
// them both before every exchange.
type transferCtx struct {
	cmdBuffer  *Buffer
	dataBuffer *Buffer
	direction  usbTransferDirection
}

func (ctx *transferCtx) DataBytes() []byte {
	return ctx.dataBuffer.Bytes()
}

func (h *Session) initTransfer(direction usbTransferDirection) *transferCtx {
	h.cmdScratch.Reset()
	h.dataScratch.Reset()

	return &transferCtx{
		cmdBuffer:  h.cmdScratch,
		dataBuffer: h.dataScratch,
		direction:  direction,
	}
}

// usbTransferNoErrCheck performs the two-phase bulk exchange: the
// command frame always goes out first, padded to cmdFrameSize, then either
// a host-to-device payload already staged in ctx.dataBuffer or a
// device-to-host read of dataSize bytes. It does not interpret the
// response; callers that expect a status word call usbTransferErrCheck
// instead.
func (h *Session) usbTransferNoErrCheck(ctx *transferCtx, dataSize uint32) error {
	cmd := make([]byte, cmdFrameSize)
	copy(cmd, ctx.cmdBuffer.Bytes())

	if _, err := usbWrite(h.txEndpoint, cmd); err != nil {
		return newTransportError("command phase", err)
	}

	switch {
	case ctx.direction == transferTxEndpoint && dataSize > 0:
		payload := ctx.dataBuffer.Bytes()
		if uint32(len(payload)) < dataSize {
			return newTransportError("write phase", fmt.Errorf("payload too short: have %d want %d", len(payload), dataSize))
		}
		if _, err := usbWrite(h.txEndpoint, payload[:dataSize]); err != nil {
			return newTransportError("write phase", err)
		}

	case ctx.direction == transferRxEndpoint && dataSize > 0:
		buf := make([]byte, dataSize)
		n, err := usbRead(h.rxEndpoint, buf)
		if err != nil {
			return newTransportError("read phase", err)
		}
		if uint32(n) != dataSize {
			return newTransportError("read phase", fmt.Errorf("short read: got %d want %d", n, dataSize))
		}
		ctx.dataBuffer.Reset()
		ctx.dataBuffer.Write(buf)
	}

	return nil
}

// usbTransferErrCheck is for the handful of commands whose response is a
// 2-byte status word (debugStatusOk/debugStatusFalse) rather than data,
// e.g. WriteReg.
func (h *Session) usbTransferErrCheck(ctx *transferCtx, op string) error {
	if err := h.usbTransferNoErrCheck(ctx, 2); err != nil {
		return err
	}

	data := ctx.DataBytes()
	if len(data) < 1 || data[0] != debugStatusOk {
		status := byte(debugStatusFalse)
		if len(data) > 0 {
			status = data[0]
		}
		return newProtocolError(op, status)
	}

	return nil
}

func usbWrite(endpoint outEndpoint, buffer []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), usbTransferTimeout)
	defer cancel()

	n, err := endpoint.WriteContext(ctx, buffer)
	if err != nil {
		return -1, err
	}
	logger.Tracef("%d bytes -> device", n)
	return n, nil
}

func usbRead(endpoint inEndpoint, buffer []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), usbTransferTimeout)
	defer cancel()

	n, err := endpoint.ReadContext(ctx, buffer)
	if err != nil {
		return -1, err
	}
	logger.Tracef("device -> %d bytes", n)
	return n, nil
}
