// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
)

// FakeNginx writes a shell script that behaves like nginx from the
// supervisor's point of view: it prints error-log lines on stderr, records
// SIGHUP reloads and either exits or keeps running.
type FakeNginx struct {
	Dir      string
	Lines    []string // written to stderr at startup
	Hold     bool     // keep running after the lines are written
	ExitCode int      // used when Hold is false
}

// NewFakeNginx creates a fake nginx under dir.
func NewFakeNginx(dir string) *FakeNginx {
	return &FakeNginx{Dir: dir}
}

// ScriptPath returns the generated script path.
func (f *FakeNginx) ScriptPath() string {
	return filepath.Join(f.Dir, "fake-nginx.sh")
}

// ReloadLog returns the file that receives one line per SIGHUP.
func (f *FakeNginx) ReloadLog() string {
	return filepath.Join(f.Dir, "reloads.log")
}

// Create writes the script and returns the command to launch it.
func (f *FakeNginx) Create() ([]string, error) {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&b, "trap 'echo reload >> %s' HUP\n", shellQuote(f.ReloadLog()))
	for _, line := range f.Lines {
		fmt.Fprintf(&b, "printf '%%s\\n' %s >&2\n", shellQuote(line))
	}
	if f.Hold {
		b.WriteString("while :; do sleep 1 & wait $!; done\n")
	} else {
		fmt.Fprintf(&b, "exit %d\n", f.ExitCode)
	}

	if err := os.MkdirAll(f.Dir, 0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(f.ScriptPath(), []byte(b.String()), 0755); err != nil {
		return nil, err
	}
	return []string{"/bin/sh", f.ScriptPath()}, nil
}

// Reloads returns how many SIGHUPs the script has handled.
func (f *FakeNginx) Reloads() int {
	data, err := os.ReadFile(f.ReloadLog())
	if err != nil {
		return 0
	}
	return strings.Count(string(data), "reload")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// SampleRegistry is a small delegated-stats file with one JP block of each
// family, a US block and the header/summary lines real files carry.
const SampleRegistry = `2|apnic|20240101|3|19830613|20240101|+1000
apnic|*|ipv4|*|2|summary
apnic|JP|ipv4|1.0.16.0|4096|20110412|allocated
apnic|US|ipv4|8.8.8.0|256|20110412|allocated
apnic|JP|ipv6|2001:200::|35|19990813|allocated
`

// NewFakeRegistry serves body on every request, or HTTP 500 when body is empty.
func NewFakeRegistry(body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if body == "" {
			http.Error(w, "unavailable", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, body)
	}))
}
