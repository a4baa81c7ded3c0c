package usart

import (
	"errors"
	"testing"
)

func TestParseATLine(t *testing.T) {
	cases := []struct {
		line string
		want atCommand
	}{
		{"AT", atCommand{kind: cmdAttention}},
		{"at", atCommand{kind: cmdAttention}},
		{"ATI", atCommand{kind: cmdIdentify}},
		{"ati0", atCommand{kind: cmdIdentify}},
		{"ATZ", atCommand{kind: cmdReset}},
		{"AT&F", atCommand{kind: cmdFactory}},
		{"ATH", atCommand{kind: cmdHangup}},
		{"ATH0", atCommand{kind: cmdHangup}},
		{"ATO", atCommand{kind: cmdResume}},
		{"AT&V", atCommand{kind: cmdListShortcuts}},
		{"ATDbbs.example.com", atCommand{kind: cmdDial, host: "bbs.example.com", port: 23}},
		{"ATD192.168.1.10:2323", atCommand{kind: cmdDial, host: "192.168.1.10", port: 2323}},
		{"ATDtelnet.example.com:6400", atCommand{kind: cmdDial, host: "telnet.example.com", port: 6400}},
		{"ATDS3", atCommand{kind: cmdDialShortcut, index: 3}},
		{"AT&Z0=bbs.example.com:23,Example BBS", atCommand{kind: cmdStoreShortcut, index: 0, host: "bbs.example.com", port: 23, desc: "Example BBS"}},
		{"AT&Z7=town.example.org", atCommand{kind: cmdStoreShortcut, index: 7, host: "town.example.org", port: 23}},
		{"AT&Z2=", atCommand{kind: cmdStoreShortcut, index: 2, clear: true}},
		{"AT+CWLAP", atCommand{kind: cmdWifiScan}},
		{"AT+CWSCAN", atCommand{kind: cmdWifiScan}},
		{"AT+CWJAP?", atCommand{kind: cmdWifiQuery}},
		{`AT+CWJAP="MyNet","MyPass"`, atCommand{kind: cmdWifiJoin, ssid: "MyNet", password: "MyPass"}},
		{`AT+cwjap="CaseSensitive","PaSs"`, atCommand{kind: cmdWifiJoin, ssid: "CaseSensitive", password: "PaSs"}},
		{`AT+CWJAP="OpenNet"`, atCommand{kind: cmdWifiJoin, ssid: "OpenNet"}},
		{"AT+CWQAP", atCommand{kind: cmdWifiLeave}},
		{"AT+CWSTAT", atCommand{kind: cmdWifiStatus}},
		{"AT+CWSAVE", atCommand{kind: cmdWifiSave}},
		{"AT+CWFORGET", atCommand{kind: cmdWifiForget}},
		{"AT+CWAUTO", atCommand{kind: cmdWifiAuto, query: true}},
		{"AT+CWAUTO?", atCommand{kind: cmdWifiAuto, query: true}},
		{"AT+CWAUTO=1", atCommand{kind: cmdWifiAuto, enable: true}},
		{"AT+CWAUTO=0", atCommand{kind: cmdWifiAuto}},
	}
	for _, c := range cases {
		got, err := parseATLine(c.line)
		if err != nil {
			t.Errorf("parseATLine(%q): %v", c.line, err)
			continue
		}
		if *got != c.want {
			t.Errorf("parseATLine(%q) = %+v, want %+v", c.line, *got, c.want)
		}
	}
}

func TestParseATLineErrors(t *testing.T) {
	bad := []string{
		"",
		"HELLO",
		"AT$",
		"ATX9",
		"ATD",
		"ATD:23",
		"ATDhost:notaport",
		"ATDSx",
		"AT&Z=host",
		"AT&Znope=host",
		`AT+CWJAP=MyNet`,
		"AT+CWAUTO=2",
	}
	for _, line := range bad {
		if _, err := parseATLine(line); err == nil {
			t.Errorf("parseATLine(%q) succeeded, want error", line)
		}
	}
}

func TestParseATLineErrorKinds(t *testing.T) {
	if _, err := parseATLine("ATQ1"); !errors.Is(err, ErrAtSyntax) {
		t.Fatalf("unknown command error = %v, want ErrAtSyntax", err)
	}
	if _, err := parseATLine("ATDhost:99999"); !errors.Is(err, ErrDial) {
		t.Fatalf("bad port error = %v, want ErrDial", err)
	}
}

func TestParseTarget(t *testing.T) {
	host, port, err := parseTarget("bbs.example.com")
	if err != nil || host != "bbs.example.com" || port != 23 {
		t.Fatalf("parseTarget default = %q %d %v", host, port, err)
	}
	host, port, err = parseTarget("10.0.0.5:6502")
	if err != nil || host != "10.0.0.5" || port != 6502 {
		t.Fatalf("parseTarget explicit = %q %d %v", host, port, err)
	}
}
