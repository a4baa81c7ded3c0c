package main

import "github.com/timex-sinclair-projects/TS-2050-Wifi/usart"

// pinBank is what openPinBank hands back: a bus pin bank that can be torn
// down on exit.
type pinBank interface {
	usart.PinBank
	Close() error
}
