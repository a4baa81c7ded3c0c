//go:build !arm && !arm64

package main

import (
	"errors"

	"github.com/timex-sinclair-projects/TS-2050-Wifi/debug"
)

func openPinBank(logger *debug.Logger) (pinBank, error) {
	return nil, errors.New("gpio: only available on arm builds")
}
