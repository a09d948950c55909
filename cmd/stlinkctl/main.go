// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// Command stlinkctl programs and debugs STM32 targets over an ST-Link v2
// dongle. It owns argument parsing only, building a gostlink.SessionConfig
// or gostlink.FlashJob per invocation and calling into the Session's
// methods; no protocol or flash logic lives here.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	gostlink "stlinkprog"
)

func main() {
	app := &cli.App{
		Name:  "stlinkctl",
		Usage: "program and debug STM32 targets over an ST-Link v2 dongle",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "serial", Usage: "serial number of the ST-Link to use when more than one is attached"},
			&cli.BoolFlag{Name: "connect-under-reset", Usage: "hold the target in reset while attaching"},
			&cli.BoolFlag{Name: "verbose", Usage: "enable debug-level protocol logging"},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("verbose") {
				gostlink.SetLogger(verboseLogger())
			}
			return nil
		},
		Commands: []*cli.Command{
			programCommand,
			infoCommand,
			versionCommand,
			blinkCommand,
			regsCommand,
			regCommand,
			wregCommand,
			resetCommand,
			runCommand,
			stepCommand,
			statusCommand,
			debugCommand,
			eraseCommand,
			readCommand,
			writeCommand,
			flashCommand,
			sysCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		printFail("%v", err)
		os.Exit(1)
	}
}

func verboseLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.DebugLevel)
	return l
}

// withSession opens a Session (scan, attach, mode-kick, identify), runs
// fn, and closes it on every path including when fn returns an error.
func withSession(c *cli.Context, fn func(*gostlink.Session) error) error {
	cfg := gostlink.SessionConfig{
		Serial:            c.String("serial"),
		ConnectUnderReset: c.Bool("connect-under-reset"),
	}

	session, err := gostlink.Open(cfg)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer session.Close()

	return fn(session)
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	return uint32(v), err
}
