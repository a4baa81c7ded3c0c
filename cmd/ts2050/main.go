package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aymanbagabas/go-pty"
	"github.com/jessevdk/go-flags"
	"go.bug.st/serial"

	"github.com/timex-sinclair-projects/TS-2050-Wifi/debug"
	"github.com/timex-sinclair-projects/TS-2050-Wifi/store"
	"github.com/timex-sinclair-projects/TS-2050-Wifi/usart"
	"github.com/timex-sinclair-projects/TS-2050-Wifi/wifi"
)

type options struct {
	DataDir        string        `short:"d" long:"data-dir" description:"Directory holding wifi_config.txt and shortcuts.json" default:"."`
	Iface          string        `long:"iface" description:"Host WiFi interface reported to the modem" default:"wlan0"`
	Sim            bool          `long:"sim" description:"Use a simulated WiFi station instead of the host interface"`
	Pty            bool          `long:"pty" description:"Expose the emulated data path on a new pseudo-terminal"`
	Serial         string        `long:"serial" description:"Bridge the emulated data path to this serial device"`
	Baud           int           `long:"baud" description:"Baud rate for --serial" default:"9600"`
	Gpio           bool          `long:"gpio" description:"Run the GPIO bus engine (Raspberry Pi)"`
	ConnectTimeout int           `long:"connect-timeout" description:"Outbound dial timeout in seconds" default:"10"`
	NoAutoConnect  bool          `long:"no-auto-connect" description:"Skip joining the saved WiFi network at startup"`
	Debug          []string      `long:"debug" description:"Enable a debug category (gpio, usart, network, hayes, interface, system)"`
	Verbose        bool          `short:"v" long:"verbose" description:"Per-byte debug output"`
}

func run() error {
	opts := &options{}
	if _, err := flags.Parse(opts); err != nil {
		if flags.WroteHelp(err) {
			return nil
		}
		return err
	}

	logger := debug.New(nil)
	for _, name := range opts.Debug {
		c, ok := debug.CategoryFromString(name)
		if !ok {
			return fmt.Errorf("unknown debug category %q", name)
		}
		logger.Enable(c, true)
	}
	logger.SetVerbose(opts.Verbose)

	creds := store.NewCredentials(opts.DataDir)
	shortcuts := store.NewShortcuts(opts.DataDir)
	if err := shortcuts.Load(); err != nil {
		logger.Printf(debug.SYSTEM, "shortcuts: %v", err)
	}

	var station wifi.Station
	if opts.Sim {
		station = wifi.NewSimStation(simNetworks(), nil)
	} else {
		station = &wifi.HostStation{Iface: opts.Iface}
	}

	u, err := usart.New(&usart.Config{
		Station:            station,
		Credentials:        creds,
		Shortcuts:          shortcuts,
		Logger:             logger,
		ConnectTimeout:     time.Duration(opts.ConnectTimeout) * time.Second,
		DisableAutoConnect: opts.NoAutoConnect,
	})
	if err != nil {
		return err
	}
	defer u.CloseSync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if opts.Gpio {
		pins, err := openPinBank(logger)
		if err != nil {
			return err
		}
		defer pins.Close()
		bus := usart.NewBus(u, pins, &usart.BusConfig{Logger: logger})
		go bus.Run(ctx)
	}

	if opts.Pty {
		p, err := pty.New()
		if err != nil {
			return err
		}
		defer p.Close()
		fmt.Printf("pty: %s\n", p.Name())
		go attachStream(ctx, u, p, logger)
	}

	if opts.Serial != "" {
		mode := &serial.Mode{
			BaudRate: opts.Baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
		port, err := serial.Open(opts.Serial, mode)
		if err != nil {
			return err
		}
		defer port.Close()
		go attachStream(ctx, u, port, logger)
	}

	runConsole(u, station, creds, logger)
	return nil
}

// simNetworks is the bench environment seen by --sim.
func simNetworks() []wifi.Network {
	return []wifi.Network{
		{SSID: "TS2050-BENCH", Channel: 6, RSSI: -42, Auth: wifi.AuthWPA2PSK},
		{SSID: "GUEST", Channel: 11, RSSI: -71, Auth: wifi.AuthOpen},
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ts2050: %v\n", err)
		os.Exit(1)
	}
}
