/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package main

import (
	"github.com/sirupsen/logrus"
)

func newLogger(disableTimestamp bool, logLevelString string) (logrus.FieldLogger, error) {
	logger := logrus.New()
	logger.Formatter = &logrus.TextFormatter{
		DisableTimestamp: disableTimestamp,
	}

	logLevel, err := logrus.ParseLevel(logLevelString)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(logLevel)

	return logger, nil
}
