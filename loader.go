// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostlink

// loaderStubF1 is the Thumb-2 flash-write loop staged into SRAM for
// F1-class targets. It takes no register inputs from the
// debugger beyond PC: the first five instructions pull
// flash_controller_base/source_addr/target_addr/halfword_count out of the
// four-word tail assembleLoaderImage lays immediately after it (into
// r0..r3), plus the family's FLASH_SR busy mask out of its own trailing
// literal (into r6). It then sets FLASH_CR.PG, copies halfwords one at a
// time polling FLASH_SR.BSY between each, clears PG on normal completion,
// and halts on the trailing bkpt #0. Post-run: r2=0 signals success, r3
// holds the final FLASH_SR value, r5 an approximate busy-poll iteration
// count.
var loaderStubF1 = []byte{
	0x0d, 0x48, // ldr  r0, [pc, #52]   ; r0 = flash_controller_base
	0x0e, 0x49, // ldr  r1, [pc, #56]   ; r1 = source_addr
	0x0e, 0x4a, // ldr  r2, [pc, #56]   ; r2 = target_addr
	0x0f, 0x4b, // ldr  r3, [pc, #60]   ; r3 = halfword_count
	0x0a, 0x4e, // ldr  r6, [pc, #40]   ; r6 = FLASH_SR busy mask
	0x00, 0x25, // movs r5, #0          ; busy-poll iteration count
	0x00, 0x2b, // cmp  r3, #0
	0x0e, 0xd0, // beq  done            ; nothing to program
	0x01, 0x24, // movs r4, #1
	0x04, 0x61, // str  r4, [r0, #0x10] ; FLASH_CR.PG = 1
	// loop:
	0x0c, 0x88, // ldrh r4, [r1]
	0x14, 0x80, // strh r4, [r2]
	0x02, 0x31, // adds r1, r1, #2
	0x02, 0x32, // adds r2, r2, #2
	0x01, 0x3b, // subs r3, r3, #1
	// busy:
	0x01, 0x35, // adds r5, r5, #1
	0xc4, 0x68, // ldr  r4, [r0, #0x0c] ; FLASH_SR
	0x34, 0x40, // ands r4, r6
	0xfb, 0xd1, // bne  busy
	0x00, 0x2b, // cmp  r3, #0
	0xf4, 0xd1, // bne  loop
	0x00, 0x24, // movs r4, #0
	0x04, 0x61, // str  r4, [r0, #0x10] ; FLASH_CR.PG = 0
	// done:
	0xc3, 0x68, // ldr  r3, [r0, #0x0c] ; r3 = final FLASH_SR
	0x00, 0x22, // movs r2, #0          ; r2 = 0 (success)
	0x00, 0xbe, // bkpt #0
	0x01, 0x00, 0x00, 0x00, // literal: FLASH_SR.BSY (bit 0)
}

// loaderStubF4 is the F4-class equivalent, also staged unchanged for L1
// targets; the only difference from loaderStubF1
// is the trailing busy-mask literal, since F4's FLASH_SR.BSY sits at bit
// 16 instead of bit 0.
var loaderStubF4 = []byte{
	0x0d, 0x48, // ldr  r0, [pc, #52]
	0x0e, 0x49, // ldr  r1, [pc, #56]
	0x0e, 0x4a, // ldr  r2, [pc, #56]
	0x0f, 0x4b, // ldr  r3, [pc, #60]
	0x0a, 0x4e, // ldr  r6, [pc, #40]   ; r6 = FLASH_SR busy mask
	0x00, 0x25, // movs r5, #0
	0x00, 0x2b, // cmp  r3, #0
	0x0e, 0xd0, // beq  done
	0x01, 0x24, // movs r4, #1
	0x04, 0x61, // str  r4, [r0, #0x10] ; FLASH_CR.PG = 1
	// loop:
	0x0c, 0x88, // ldrh r4, [r1]
	0x14, 0x80, // strh r4, [r2]
	0x02, 0x31, // adds r1, r1, #2
	0x02, 0x32, // adds r2, r2, #2
	0x01, 0x3b, // subs r3, r3, #1
	// busy:
	0x01, 0x35, // adds r5, r5, #1
	0xc4, 0x68, // ldr  r4, [r0, #0x0c] ; FLASH_SR
	0x34, 0x40, // ands r4, r6
	0xfb, 0xd1, // bne  busy
	0x00, 0x2b, // cmp  r3, #0
	0xf4, 0xd1, // bne  loop
	0x00, 0x24, // movs r4, #0
	0x04, 0x61, // str  r4, [r0, #0x10] ; FLASH_CR.PG = 0
	// done:
	0xc3, 0x68, // ldr  r3, [r0, #0x0c] ; r3 = final FLASH_SR
	0x00, 0x22, // movs r2, #0          ; r2 = 0 (success)
	0x00, 0xbe, // bkpt #0
	0x00, 0x00, 0x01, 0x00, // literal: FLASH_SR.BSY (bit 16)
}

// loaderParams is the four-word tail immediately following the stub bytes
// in the assembled SRAM image.
type loaderParams struct {
	FlashControllerBase uint32
	SourceAddr          uint32
	TargetAddr          uint32
	HalfwordCount       uint32
}

// assembleLoaderImage lays out [stub][params][payload] as one contiguous
// buffer ready for a single WriteMem32 to loaderSRAMBase. sourceAddr in the returned image's tail always equals
// loaderSRAMBase + len(stub) + 16, the address the payload lands at; the
// stub's own PC-relative loads read this same tail to recover its
// arguments, so the two must always agree on this layout.
func assembleLoaderImage(stub []byte, flashControllerBase uint32, targetAddr uint32, payload []byte) []byte {
	sourceAddr := loaderSRAMBase + uint32(len(stub)) + 16

	image := make([]byte, 0, len(stub)+16+len(payload))
	image = append(image, stub...)

	var tail [16]byte
	putLeUint32(tail[0:4], flashControllerBase)
	putLeUint32(tail[4:8], sourceAddr)
	putLeUint32(tail[8:12], targetAddr)
	putLeUint32(tail[12:16], uint32(len(payload)/2))
	image = append(image, tail[:]...)

	image = append(image, payload...)
	return image
}
