// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	gostlink "stlinkprog"
)

var programCommand = &cli.Command{
	Name:  "program",
	Usage: "erase, write, and verify a firmware image",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "file", Required: true, Usage: "firmware image to write"},
		&cli.StringFlag{Name: "addr", Usage: "base address (default: the identified chip's flash base)"},
		&cli.BoolFlag{Name: "no-verify", Usage: "skip the post-write verify pass"},
	},
	Action: func(c *cli.Context) error {
		f, err := os.Open(c.String("file"))
		if err != nil {
			return err
		}
		defer f.Close()

		var addr uint32
		if a := c.String("addr"); a != "" {
			if addr, err = parseUint32(a); err != nil {
				return fmt.Errorf("bad --addr: %w", err)
			}
		}

		return withSession(c, func(s *gostlink.Session) error {
			result, err := s.Program(gostlink.FlashJob{
				Source:   f,
				BaseAddr: addr,
				Verify:   !c.Bool("no-verify"),
			})
			if err != nil {
				return err
			}
			printOK("wrote %d bytes, blake2b-256 %s", result.BytesWritten, result.Digest)
			if result.Verified {
				printOK("verify passed")
			} else {
				printWarn("verify skipped")
			}
			return nil
		})
	},
}

var infoCommand = &cli.Command{
	Name:  "info",
	Usage: "print identified chip and dongle information",
	Action: func(c *cli.Context) error {
		return withSession(c, func(s *gostlink.Session) error {
			chip := s.Chip()
			printLabel("chip", chip.Name)
			printLabel("idcode", fmt.Sprintf("0x%08x", s.CPUIDCode))
			printLabel("flash", fmt.Sprintf("%d KiB at 0x%08x", s.FlashSizeKB, chip.FlashBase))
			printLabel("sram", fmt.Sprintf("%d bytes at 0x%08x", chip.SRAMSize, chip.SRAMBase))
			printLabel("core state", s.CoreState.String())
			return nil
		})
	},
}

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "print the dongle's firmware version descriptor",
	Action: func(c *cli.Context) error {
		return withSession(c, func(s *gostlink.Session) error {
			v := s.Version()
			printLabel("st-link", fmt.Sprintf("v%d", v.STLink))
			printLabel("jtag api", fmt.Sprintf("%d", v.JTAG))
			printLabel("swim api", fmt.Sprintf("%d", v.SWIM))
			printLabel("usb id", fmt.Sprintf("%04x:%04x", v.Vendor, v.Product))

			voltage, err := s.GetTargetVoltage()
			if err != nil {
				return err
			}
			printLabel("target voltage", fmt.Sprintf("%.2fV", voltage))
			return nil
		})
	},
}

var blinkCommand = &cli.Command{
	Name:  "blink",
	Usage: "exercise the link end-to-end as a connectivity check",
	Action: func(c *cli.Context) error {
		return withSession(c, func(s *gostlink.Session) error {
			state, err := s.GetStatus()
			if err != nil {
				return err
			}
			printOK("ST-Link responds, core is %s", state)
			return nil
		})
	},
}

var regsCommand = &cli.Command{
	Name:  "regs",
	Usage: "dump the full core register file (core must be halted)",
	Action: func(c *cli.Context) error {
		return withSession(c, func(s *gostlink.Session) error {
			regs, err := s.Registers()
			if err != nil {
				return err
			}
			for i, v := range regs {
				printLabel(registerName(i), fmt.Sprintf("0x%08x", v))
			}
			return nil
		})
	},
}

var regCommand = &cli.Command{
	Name:      "reg",
	Usage:     "read one core register by index (core must be halted)",
	ArgsUsage: "<index>",
	Action: func(c *cli.Context) error {
		idx, err := parseUint32(c.Args().First())
		if err != nil {
			return fmt.Errorf("bad register index: %w", err)
		}
		return withSession(c, func(s *gostlink.Session) error {
			v, err := s.Register(byte(idx))
			if err != nil {
				return err
			}
			printOK("r%d = 0x%08x", idx, v)
			return nil
		})
	},
}

var wregCommand = &cli.Command{
	Name:      "wreg",
	Usage:     "write one core register by index (core must be halted)",
	ArgsUsage: "<index> <value>",
	Action: func(c *cli.Context) error {
		if c.Args().Len() < 2 {
			return fmt.Errorf("wreg needs <index> <value>")
		}
		idx, err := parseUint32(c.Args().Get(0))
		if err != nil {
			return fmt.Errorf("bad register index: %w", err)
		}
		value, err := parseUint32(c.Args().Get(1))
		if err != nil {
			return fmt.Errorf("bad register value: %w", err)
		}
		return withSession(c, func(s *gostlink.Session) error {
			if err := s.SetRegister(byte(idx), value); err != nil {
				return err
			}
			printOK("r%d = 0x%08x", idx, value)
			return nil
		})
	},
}

var resetCommand = &cli.Command{
	Name:  "reset",
	Usage: "reset the target and halt it",
	Action: func(c *cli.Context) error {
		return withSession(c, func(s *gostlink.Session) error {
			if err := s.ResetHalt(); err != nil {
				return err
			}
			printOK("reset, core halted")
			return nil
		})
	},
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "resume a halted core",
	Action: func(c *cli.Context) error {
		return withSession(c, func(s *gostlink.Session) error {
			if err := s.Run(); err != nil {
				return err
			}
			printOK("core running")
			return nil
		})
	},
}

var stepCommand = &cli.Command{
	Name:  "step",
	Usage: "single-step a halted core",
	Action: func(c *cli.Context) error {
		return withSession(c, func(s *gostlink.Session) error {
			if err := s.Step(); err != nil {
				return err
			}
			printOK("stepped")
			return nil
		})
	},
}

var statusCommand = &cli.Command{
	Name:  "status",
	Usage: "query and print the core's run/halt status",
	Action: func(c *cli.Context) error {
		return withSession(c, func(s *gostlink.Session) error {
			state, err := s.GetStatus()
			if err != nil {
				return err
			}
			printLabel("core state", state.String())
			return nil
		})
	},
}

var debugCommand = &cli.Command{
	Name:  "debug",
	Usage: "re-assert SWD debug mode on the dongle",
	Action: func(c *cli.Context) error {
		return withSession(c, func(s *gostlink.Session) error {
			printOK("debug mode active")
			return nil
		})
	},
}

var eraseCommand = &cli.Command{
	Name:  "erase",
	Usage: "mass-erase, or page-erase a single address",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "addr", Usage: "page address to erase; omit or pass \"all\" for mass-erase"},
	},
	Action: func(c *cli.Context) error {
		addrFlag := c.String("addr")
		return withSession(c, func(s *gostlink.Session) error {
			if addrFlag == "" || addrFlag == "all" {
				if err := s.MassErase(); err != nil {
					return err
				}
				printOK("mass erase complete")
				return nil
			}
			addr, err := parseUint32(addrFlag)
			if err != nil {
				return fmt.Errorf("bad --addr: %w", err)
			}
			if err := s.Erase(addr); err != nil {
				return err
			}
			printOK("erased page at 0x%08x", addr)
			return nil
		})
	},
}

var readCommand = &cli.Command{
	Name:      "read",
	Usage:     "read bytes from target memory",
	ArgsUsage: "<addr>",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "len", Value: 16, Usage: "number of bytes to read"},
	},
	Action: func(c *cli.Context) error {
		addr, err := parseUint32(c.Args().First())
		if err != nil {
			return fmt.Errorf("bad address: %w", err)
		}
		return withSession(c, func(s *gostlink.Session) error {
			data, err := s.ReadMemory(addr, uint32(c.Int("len")))
			if err != nil {
				return err
			}
			printLabel(fmt.Sprintf("0x%08x", addr), fmt.Sprintf("% x", data))
			return nil
		})
	},
}

var writeCommand = &cli.Command{
	Name:      "write",
	Usage:     "write one 32-bit word to target memory",
	ArgsUsage: "<addr> <value>",
	Action: func(c *cli.Context) error {
		if c.Args().Len() < 2 {
			return fmt.Errorf("write needs <addr> <value>")
		}
		addr, err := parseUint32(c.Args().Get(0))
		if err != nil {
			return fmt.Errorf("bad address: %w", err)
		}
		value, err := parseUint32(c.Args().Get(1))
		if err != nil {
			return fmt.Errorf("bad value: %w", err)
		}
		return withSession(c, func(s *gostlink.Session) error {
			var buf [4]byte
			buf[0] = byte(value)
			buf[1] = byte(value >> 8)
			buf[2] = byte(value >> 16)
			buf[3] = byte(value >> 24)
			if err := s.WriteMem32(addr, buf[:]); err != nil {
				return err
			}
			printOK("wrote 0x%08x = 0x%08x", addr, value)
			return nil
		})
	},
}

var flashCommand = &cli.Command{
	Name:  "flash",
	Usage: "read, write, or verify the chip's user flash region from/to a file",
	Subcommands: []*cli.Command{
		{
			Name:      "read",
			Usage:     "flash:r:<file> — dump user flash to a file",
			ArgsUsage: "<file>",
			Action: func(c *cli.Context) error {
				path := c.Args().First()
				if path == "" {
					return fmt.Errorf("flash read needs a file path")
				}
				return withSession(c, func(s *gostlink.Session) error {
					chip := s.Chip()
					data, err := s.ReadMemory(chip.FlashBase, chip.FlashSize)
					if err != nil {
						return err
					}
					if err := os.WriteFile(path, data, 0o644); err != nil {
						return err
					}
					printOK("read %d bytes from 0x%08x to %s", len(data), chip.FlashBase, path)
					return nil
				})
			},
		},
		{
			Name:      "write",
			Usage:     "flash:w:<file> — erase and write a file to user flash",
			ArgsUsage: "<file>",
			Action: func(c *cli.Context) error {
				path := c.Args().First()
				if path == "" {
					return fmt.Errorf("flash write needs a file path")
				}
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()

				return withSession(c, func(s *gostlink.Session) error {
					result, err := s.Program(gostlink.FlashJob{Source: f, Verify: false})
					if err != nil {
						return err
					}
					printOK("wrote %d bytes, blake2b-256 %s", result.BytesWritten, result.Digest)
					return nil
				})
			},
		},
		{
			Name:      "verify",
			Usage:     "flash:v:<file> — compare user flash against a file",
			ArgsUsage: "<file>",
			Action: func(c *cli.Context) error {
				path := c.Args().First()
				if path == "" {
					return fmt.Errorf("flash verify needs a file path")
				}
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()

				return withSession(c, func(s *gostlink.Session) error {
					chip := s.Chip()
					digest, err := s.VerifyDigest(chip.FlashBase, f)
					if err != nil {
						return err
					}
					printOK("verify passed, blake2b-256 %s", digest)
					return nil
				})
			},
		},
	},
}

var sysCommand = &cli.Command{
	Name:  "sys",
	Usage: "read the system-flash (bootloader) region",
	Subcommands: []*cli.Command{
		{
			Name:      "read",
			Usage:     "sys:r:<file> — dump system flash to a file",
			ArgsUsage: "<file>",
			Action: func(c *cli.Context) error {
				path := c.Args().First()
				if path == "" {
					return fmt.Errorf("sys read needs a file path")
				}
				return withSession(c, func(s *gostlink.Session) error {
					chip := s.Chip()
					data, err := s.ReadMemory(chip.SysFlashBase, chip.SysFlashSize)
					if err != nil {
						return err
					}
					if err := os.WriteFile(path, data, 0o644); err != nil {
						return err
					}
					printOK("read %d bytes from 0x%08x to %s", len(data), chip.SysFlashBase, path)
					return nil
				})
			},
		},
	},
}

func registerName(i int) string {
	switch {
	case i < 13:
		return fmt.Sprintf("r%d", i)
	case i == 13:
		return "sp"
	case i == 14:
		return "lr"
	case i == 15:
		return "pc"
	case i == 16:
		return "xpsr"
	case i == 17:
		return "msp"
	case i == 18:
		return "psp"
	default:
		return fmt.Sprintf("rw%d", i-18)
	}
}
