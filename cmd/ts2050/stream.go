package main

import (
	"context"
	"io"
	"time"

	"github.com/timex-sinclair-projects/TS-2050-Wifi/debug"
	"github.com/timex-sinclair-projects/TS-2050-Wifi/usart"
)

// hostMode8N1 is the mode instruction a typical host ROM programs: async,
// 16x clock, 8 data bits, no parity, 1 stop bit.
const hostMode8N1 = 0x4E

// attachStream drives the emulator's register interface from a byte stream
// (pty or serial port), standing in for the host bus. It programs the chip
// the way the host ROM would, then shuttles bytes both directions until the
// stream errors out or ctx is cancelled.
func attachStream(ctx context.Context, u *usart.Usart, rw io.ReadWriter, logger *debug.Logger) {
	u.WriteRegisterSync(usart.RegControl, hostMode8N1)
	u.WriteRegisterSync(usart.RegControl,
		usart.CmdTxEn|usart.CmdRxEn|usart.CmdDTR|usart.CmdRTS)

	go func() {
		buf := make([]byte, 256)
		for {
			n, err := rw.Read(buf)
			if err != nil {
				logger.Printf(debug.INTERFACE, "stream read: %v", err)
				return
			}
			for _, b := range buf[:n] {
				u.WriteRegisterSync(usart.RegData, b)
			}
		}
	}()

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	out := make([]byte, 0, 256)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		out = out[:0]
		for u.ReadRegisterSync(usart.RegControl)&usart.StatusRxRdy != 0 {
			out = append(out, u.ReadRegisterSync(usart.RegData))
			if len(out) == cap(out) {
				break
			}
		}
		if len(out) == 0 {
			continue
		}
		if _, err := rw.Write(out); err != nil {
			logger.Printf(debug.INTERFACE, "stream write: %v", err)
			return
		}
	}
}
