// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostlink

import (
	"bytes"
	"io"
)

// FlashJob is the structured form of the CLI's program=/flash:w:/flash:v:
// surface: a thin parameter object the command
// dispatcher builds from argv and hands to Session.Program, instead of the
// CLI reaching into flash internals itself.
type FlashJob struct {
	// Source supplies the firmware image. Program consumes it once.
	Source io.Reader

	// BaseAddr is where the image is written; zero means the identified
	// chip's FlashBase, the usual target for program=/flash:w:.
	BaseAddr uint32

	// Verify re-reads flash after writing and compares it against Source.
	Verify bool
}

// ProgramResult reports what a Program run actually did, for the CLI's
// pass/fail banner.
type ProgramResult struct {
	BytesWritten int
	Digest       string
	Verified     bool
}

// Program runs the standard program= pipeline: reset-halt,
// mass-erase, write, and an optional verify pass, the sequence the CLI's
// program=<path> entry point drives end to end.
func (h *Session) Program(job FlashJob) (ProgramResult, error) {
	var result ProgramResult

	addr := job.BaseAddr
	if addr == 0 {
		addr = h.Chip().FlashBase
	}

	if err := h.ResetHalt(); err != nil {
		return result, err
	}

	if err := h.MassErase(); err != nil {
		return result, err
	}

	image, err := io.ReadAll(job.Source)
	if err != nil {
		return result, err
	}

	if err := h.Write(addr, image); err != nil {
		return result, err
	}
	result.BytesWritten = len(image)

	digest, err := ImageDigest(bytes.NewReader(image))
	if err != nil {
		return result, err
	}
	result.Digest = digest
	h.log.Infof("wrote %d bytes at 0x%08x, blake2b-256 %s", len(image), addr, digest)

	if job.Verify {
		if err := h.Verify(addr, bytes.NewReader(image)); err != nil {
			return result, err
		}
		result.Verified = true
	}

	return result, nil
}
