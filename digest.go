// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostlink

import (
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
)

// ImageDigest hashes a firmware image with blake2b-256 so flash/verify
// pipelines can log a short, collision-resistant fingerprint of what was
// written without re-reading the whole image back over USB.
func ImageDigest(r io.Reader) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// VerifyDigest verifies source against flash starting at addr while
// simultaneously hashing it, so a single pass over the image
// both confirms the write and produces the fingerprint logged for it.
func (h *Session) VerifyDigest(addr uint32, source io.Reader) (string, error) {
	digest, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}

	tee := io.TeeReader(source, digest)
	if err := h.Verify(addr, tee); err != nil {
		return "", err
	}

	return fmt.Sprintf("%x", digest.Sum(nil)), nil
}
