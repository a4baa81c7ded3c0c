package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/timex-sinclair-projects/TS-2050-Wifi/debug"
	"github.com/timex-sinclair-projects/TS-2050-Wifi/store"
	"github.com/timex-sinclair-projects/TS-2050-Wifi/usart"
	"github.com/timex-sinclair-projects/TS-2050-Wifi/wifi"
)

// runConsole is the interactive maintenance console on stdin. It blocks
// until QUIT or EOF. AT lines go straight to the modem; the named commands
// wrap the most common operations.
func runConsole(u *usart.Usart, station wifi.Station, creds *store.Credentials, logger *debug.Logger) {
	fmt.Println("TS-2050 console ready. HELP for commands.")
	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !sc.Scan() {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch strings.ToUpper(fields[0]) {
		case "QUIT", "EXIT":
			return
		case "HELP":
			printHelp()
		case "STATUS":
			printStatus(u, station)
		case "WIFI":
			if len(fields) != 3 {
				fmt.Println("USAGE: WIFI <ssid> <password>")
				continue
			}
			reply(u.CommandSync(fmt.Sprintf("AT+CWJAP=%q,%q", fields[1], fields[2])))
		case "RECONNECT":
			ssid, password, err := creds.Load()
			if err != nil {
				fmt.Println("ERROR: No saved WiFi config")
				continue
			}
			reply(u.CommandSync(fmt.Sprintf("AT+CWJAP=%q,%q", ssid, password)))
		case "FORGET_WIFI":
			reply(u.CommandSync("AT+CWFORGET"))
		case "AUTO_CONNECT":
			switch {
			case len(fields) == 1:
				reply(u.CommandSync("AT+CWAUTO"))
			case strings.EqualFold(fields[1], "on"):
				reply(u.CommandSync("AT+CWAUTO=1"))
			case strings.EqualFold(fields[1], "off"):
				reply(u.CommandSync("AT+CWAUTO=0"))
			default:
				fmt.Println("USAGE: AUTO_CONNECT on|off")
			}
		case "CONNECT":
			if len(fields) < 2 || len(fields) > 3 {
				fmt.Println("USAGE: CONNECT <host> [port]")
				continue
			}
			target := fields[1]
			if len(fields) == 3 {
				if _, err := strconv.Atoi(fields[2]); err != nil {
					fmt.Printf("ERROR: Invalid port: %s\n", fields[2])
					continue
				}
				target += ":" + fields[2]
			}
			// The dial completes in the background; the result lands in
			// the host RX queue.
			reply(u.CommandSync("ATD" + target))
			fmt.Printf("DIALING %s\n", target)
		case "DISCONNECT":
			reply(u.CommandSync("ATH"))
			fmt.Println("DISCONNECTED")
		default:
			if strings.HasPrefix(strings.ToUpper(fields[0]), "AT") {
				reply(u.CommandSync(line))
				continue
			}
			fmt.Printf("UNKNOWN COMMAND: %s\n", fields[0])
			logger.Printf(debug.INTERFACE, "unknown console command %q", line)
		}
	}
}

func reply(lines []string) {
	for _, l := range lines {
		fmt.Println(l)
	}
}

func printStatus(u *usart.Usart, station wifi.Station) {
	m := u.MetricsSync()
	fmt.Printf("USART state: %v  Modem: %v\n", m.State, m.ModemMode)
	if station.Associated() {
		fmt.Println("WiFi: CONNECTED")
		if cfg, err := station.IPConfig(); err == nil {
			fmt.Printf("  SSID: %s  IP: %s\n", station.SSID(), cfg.Addr)
		}
	} else {
		fmt.Println("WiFi: DISCONNECTED")
	}
	fmt.Printf("Register reads: %d  writes: %d  bus timeouts: %d\n",
		m.RegisterReads, m.RegisterWrites, m.BusTimeouts)
	fmt.Printf("Bytes to host: %d  from host: %d  queue drops: %d\n",
		m.BytesToHost, m.BytesFromHost, m.QueueDrops)
	fmt.Printf("Connections: %d  net rx: %d  net tx: %d\n",
		m.NumConns, m.ConnRxBytes, m.ConnTxBytes)
}

func printHelp() {
	fmt.Println("WiFi: WIFI <ssid> <pass> | RECONNECT | FORGET_WIFI | AUTO_CONNECT on|off")
	fmt.Println("Connect: CONNECT <host> [port] | DISCONNECT")
	fmt.Println("Other: STATUS | AT<command> | HELP | QUIT")
	fmt.Println("Examples:")
	fmt.Println("  WIFI MyNetwork MyPassword")
	fmt.Println("  CONNECT bbs.fozztexx.com 23")
	fmt.Println("  AT+CWLAP")
}
