package result

import (
	"fmt"
	"net"
	"strings"

	"github.com/vk/gridbench/internal/analyzer"
	"github.com/vk/gridbench/internal/config"
)

const defaultSyslogPort = 541

// SendSyslog emits one datagram per row to cfg.Host:cfg.Port (or cfg.Socket
// for a unix domain socket), rendering each row with cfg.Format — a
// template string with "$name" placeholders resolved against the row's
// params and values (spec §4.6).
func SendSyslog(cfg *config.SyslogResult, rows []*analyzer.Row) error {
	conn, err := dialSyslog(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	for _, r := range rows {
		line := renderFormat(cfg.Format, r)
		if _, err := conn.Write([]byte(line + "\n")); err != nil {
			return err
		}
	}
	return nil
}

func dialSyslog(cfg *config.SyslogResult) (net.Conn, error) {
	if cfg.Socket != "" {
		return net.DialUnix("unixgram", nil, &net.UnixAddr{Name: cfg.Socket, Net: "unixgram"})
	}
	port := cfg.Port
	if port == 0 {
		port = defaultSyslogPort
	}
	return net.Dial("udp", fmt.Sprintf("%s:%d", cfg.Host, port))
}

func renderFormat(format string, r *analyzer.Row) string {
	if format == "" {
		var parts []string
		for _, col := range Columns([]*analyzer.Row{r}) {
			parts = append(parts, col+"="+cellValue(r, col))
		}
		return strings.Join(parts, " ")
	}
	out := format
	for _, col := range Columns([]*analyzer.Row{r}) {
		out = strings.ReplaceAll(out, "$"+col, cellValue(r, col))
	}
	return out
}
