// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// this code is mainly inspired and based on the openocd project source code
// for detailed information see

// https://sourceforge.net/p/openocd/code

package gostlink

// chipDescriptor is one row of the static device table. The
// table is a closed enumeration: adding a chip is a source edit here, not
// a runtime-extension point.
type chipDescriptor struct {
	Name   string
	Family chipFamily

	ExpectedIDCode uint32

	FlashBase     uint32
	FlashSize     uint32
	FlashPageSize uint32

	SysFlashBase     uint32
	SysFlashSize     uint32
	SysFlashPageSize uint32

	SRAMBase uint32
	SRAMSize uint32
}

// chipDescriptors is scanned in order; index 0 is the fallback used when
// no IDCODE matches.
var chipDescriptors = []chipDescriptor{
	{
		Name:      "Generic Cortex-M target",
		Family:    chipFamilyGeneric,
		FlashBase: 0x08000000, FlashSize: 64 * 1024, FlashPageSize: 1024,
		SRAMBase: 0x20000000, SRAMSize: 8 * 1024,
	},
	{
		Name:           "STM32F100",
		Family:         chipFamilyF1,
		ExpectedIDCode: 0x10016420,
		FlashBase:      0x08000000, FlashSize: 128 * 1024, FlashPageSize: 1024,
		SysFlashBase: 0x1FFFF000, SysFlashSize: 2 * 1024, SysFlashPageSize: 2 * 1024,
		SRAMBase: 0x20000000, SRAMSize: 8 * 1024,
	},
	{
		Name:           "STM32F101/F103 medium/high density",
		Family:         chipFamilyF1,
		ExpectedIDCode: 0x20036410,
		FlashBase:      0x08000000, FlashSize: 128 * 1024, FlashPageSize: 1024,
		SysFlashBase: 0x1FFFF000, SysFlashSize: 2 * 1024, SysFlashPageSize: 2 * 1024,
		SRAMBase: 0x20000000, SRAMSize: 20 * 1024,
	},
	{
		Name:           "STM32F4xx",
		Family:         chipFamilyF4,
		ExpectedIDCode: 0x10016413,
		FlashBase:      0x08000000, FlashSize: 1024 * 1024, FlashPageSize: 16 * 1024,
		SysFlashBase: 0x1FFF0000, SysFlashSize: 30 * 1024, SysFlashPageSize: 16 * 1024,
		SRAMBase: 0x20000000, SRAMSize: 192 * 1024,
	},
	{
		Name:           "STM32L15x category 1/2",
		Family:         chipFamilyL1,
		ExpectedIDCode: 0x10000416,
		FlashBase:      0x08000000, FlashSize: 128 * 1024, FlashPageSize: 256,
		SysFlashBase: 0x1FF00000, SysFlashSize: 4 * 1024, SysFlashPageSize: 256,
		SRAMBase: 0x20000000, SRAMSize: 16 * 1024,
	},
}

// identifyChip reads DBGMCU_IDCODE, falling back to the Cortex-M0 mapping
// when the primary address reads back zero, and matches the result
// against chipDescriptors by exact equality.
func (h *Session) identifyChip() error {
	raw, err := h.ReadMem32(cpuIDBaseRegister, 4)
	if err != nil {
		return err
	}
	idcode := leUint32(raw)

	if idcode == 0 {
		raw, err = h.ReadMem32(cpuIDBaseRegisterM0, 4)
		if err != nil {
			return err
		}
		idcode = leUint32(raw)
	}

	h.CPUIDCode = idcode

	if coreID, err := h.ReadCoreID(); err != nil {
		h.log.Warnf("could not read swd core id: %v", err)
	} else if coreID&0xFFFF != 0x1477 || (coreID>>24)&0xF != 0xB {
		h.log.Warnf("swd core id 0x%08x does not match the expected *B**1477 nibble pattern", coreID)
	}

	for i, d := range chipDescriptors {
		if d.ExpectedIDCode != 0 && d.ExpectedIDCode == idcode {
			h.ChipIndex = i
			h.FlashSizeKB = d.FlashSize / 1024
			h.log.Infof("identified %s (idcode 0x%08x)", d.Name, idcode)
			return nil
		}
	}

	h.ChipIndex = 0
	h.FlashSizeKB = chipDescriptors[0].FlashSize / 1024
	return &ChipUnknown{IDCode: idcode}
}

// Chip returns the descriptor selected for the attached target.
func (h *Session) Chip() chipDescriptor {
	return chipDescriptors[h.ChipIndex]
}
