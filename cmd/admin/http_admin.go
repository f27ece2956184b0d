package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// stateCmd prints the running server's metrics page.
func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	req, _ := http.NewRequest(http.MethodGet, endpoint(*baseURL, "/metrics"), nil)
	do(req, 5*time.Second)
}

// derailCmd stops the running engine; the server restarts it from the
// snapshot written on the way out.
func derailCmd(args []string) {
	fs := flag.NewFlagSet("derail", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	req, _ := http.NewRequest(http.MethodPost, endpoint(*baseURL, "/derail"), nil)
	do(req, 10*time.Second)
}

func endpoint(base, path string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + path
}

func do(req *http.Request, timeout time.Duration) {
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(string(b))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
