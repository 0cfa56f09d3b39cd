package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/loykin/watchdogd/internal/config"
)

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

// apiURLFromConfig derives the API base URL from a config file's [server]
// section. Wildcard listen hosts are dialled on loopback.
func apiURLFromConfig(path string) (string, error) {
	fc, err := config.ReadFile(path)
	if err != nil {
		return "", err
	}
	host, port, err := net.SplitHostPort(fc.Server.Listen)
	if err != nil {
		return "", fmt.Errorf("server.listen %q: %w", fc.Server.Listen, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	base := strings.TrimRight(fc.Server.BasePath, "/")
	if base != "" && !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return "http://" + net.JoinHostPort(host, port) + base, nil
}

func formatCode(code *int) string {
	if code == nil {
		return "-"
	}
	return fmt.Sprint(*code)
}

func formatAge(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return now.Sub(t).Truncate(time.Second).String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func pidOrDash(pid int) string {
	if pid == 0 {
		return "-"
	}
	return fmt.Sprint(pid)
}
