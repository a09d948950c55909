// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostlink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMem32AlignedRoundTrip(t *testing.T) {
	transport := newFakeTransport()
	transport.seedMem(0x20000000, []byte{0xde, 0xad, 0xbe, 0xef})
	session := newTestSession(transport)

	data, err := session.ReadMem32(0x20000000, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, data)
}

func TestWriteMem32ThenReadBack(t *testing.T) {
	transport := newFakeTransport()
	session := newTestSession(transport)

	payload := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	require.NoError(t, session.WriteMem32(0x20000100, payload))

	data, err := session.ReadMem32(0x20000100, 8)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestReadMemoryUnalignedPrefix(t *testing.T) {
	transport := newFakeTransport()
	// backing aligned word at 0x20000000 is {0x11,0x22,0x33,0x44}; a read
	// starting at 0x20000001 must return the trailing 3 bytes of it first.
	transport.seedMem(0x20000000, []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88})
	session := newTestSession(transport)

	data, err := session.ReadMemory(0x20000001, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x22, 0x33, 0x44, 0x55, 0x66}, data)
}

func TestReadMemoryMultiChunk(t *testing.T) {
	transport := newFakeTransport()
	want := make([]byte, 2500)
	for i := range want {
		want[i] = byte(i)
	}
	transport.seedMem(0x08000000, want)
	session := newTestSession(transport)

	got, err := session.ReadMemory(0x08000000, uint32(len(want)))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRegisterRoundTripRequiresHalted(t *testing.T) {
	transport := newFakeTransport()
	session := newTestSession(transport)

	require.NoError(t, session.SetRegister(0, 0xcafef00d))
	value, err := session.Register(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xcafef00d), value)

	session.CoreState = CoreRunning
	_, err = session.Register(0)
	assert.Error(t, err)
}

func TestRunHaltUpdateCoreState(t *testing.T) {
	transport := newFakeTransport()
	session := newTestSession(transport)

	require.NoError(t, session.Run())
	assert.Equal(t, CoreRunning, session.CoreState)

	require.NoError(t, session.Halt())
	assert.Equal(t, CoreHalted, session.CoreState)

	state, err := session.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, CoreHalted, state)
}

func TestReadAllRegsMatchesRegisterFile(t *testing.T) {
	transport := newFakeTransport()
	transport.regs[2] = 0x12345678
	session := newTestSession(transport)

	regs, err := session.Registers()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x12345678), regs[2])
}
