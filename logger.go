// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostlink

import (
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/sirupsen/logrus"
)

var (
	logger *logrus.Logger = nil
)

const MaxLogLevel = logrus.DebugLevel

func init() {
	logger = logrus.New()
	logger.SetFormatter(&prefixed.TextFormatter{
		ForceColors:     true,
		ForceFormatting: true,
	})
}

// SetLogger replaces the package-wide logger, e.g. so a CLI front end can
// route gostlink's diagnostics through its own logrus instance.
func SetLogger(loggerInstance *logrus.Logger) {
	logger = loggerInstance
}

func componentLog(component string) *logrus.Entry {
	return logger.WithField("component", component)
}
