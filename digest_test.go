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

func TestImageDigestIsStableAndSensitiveToContent(t *testing.T) {
	a, err := ImageDigest(bytes.NewReader([]byte{0x01, 0x02, 0x03, 0x04}))
	require.NoError(t, err)

	again, err := ImageDigest(bytes.NewReader([]byte{0x01, 0x02, 0x03, 0x04}))
	require.NoError(t, err)
	assert.Equal(t, a, again)

	b, err := ImageDigest(bytes.NewReader([]byte{0x01, 0x02, 0x03, 0x05}))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	assert.Len(t, a, 64) // blake2b-256 -> 32 bytes -> 64 hex chars
}

func TestVerifyDigestMatchesImageDigestOnSuccess(t *testing.T) {
	transport := newFakeTransport()
	data := []byte{0xde, 0xad, 0xbe, 0xef}
	transport.seedMem(0x08000000, data)
	session := newTestSession(transport)

	want, err := ImageDigest(bytes.NewReader(data))
	require.NoError(t, err)

	got, err := session.VerifyDigest(0x08000000, bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestVerifyDigestFailsOnMismatchWithoutReturningPartialDigest(t *testing.T) {
	transport := newFakeTransport()
	transport.seedMem(0x08000000, []byte{0x01, 0x02, 0x03, 0x04})
	session := newTestSession(transport)

	digest, err := session.VerifyDigest(0x08000000, bytes.NewReader([]byte{0x01, 0xff, 0x03, 0x04}))
	require.Error(t, err)
	assert.Empty(t, digest)
}
