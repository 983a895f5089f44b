package main

import (
	"bufio"
	"encoding/base64"
	"io"
	"os/exec"
	"regexp"
	"sync"
	"syscall"

	qrcode "github.com/skip2/go-qrcode"
)

var tunnelURLPattern = regexp.MustCompile(`https://[\w.-]+\.trycloudflare\.com`)

// TunnelStatus is the wire shape for /tunnel/* responses. QRPNGBase64
// holds a PNG of the public URL for phones to scan.
type TunnelStatus struct {
	Running     bool   `json:"running"`
	PublicURL   string `json:"public_url,omitempty"`
	Error       string `json:"error,omitempty"`
	QRPNGBase64 string `json:"qr_png_base64,omitempty"`
}

// TunnelManager runs a cloudflared quick tunnel pointing at the local
// server so players can join over the internet without port forwarding.
// A missing cloudflared binary is reported in the status, never fatal.
type TunnelManager struct {
	targetURL string
	mu        sync.Mutex
	cmd       *exec.Cmd
	publicURL string
	errMsg    string
}

func newTunnelManager(targetURL string) *TunnelManager {
	return &TunnelManager{targetURL: targetURL}
}

// Start launches the tunnel subprocess. Calling it while a tunnel is
// already running just returns the current status.
func (t *TunnelManager) Start() TunnelStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd != nil {
		return t.statusLocked()
	}
	t.publicURL = ""
	t.errMsg = ""

	if _, err := exec.LookPath("cloudflared"); err != nil {
		t.errMsg = "cloudflared not found. Install it or use localhost.run."
		return t.statusLocked()
	}

	// cloudflared logs to stderr; merge both streams like a shell 2>&1
	// and scan them for the assigned URL.
	pr, pw := io.Pipe()
	cmd := exec.Command("cloudflared", "tunnel", "--url", t.targetURL)
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		t.errMsg = err.Error()
		return t.statusLocked()
	}
	t.cmd = cmd

	go t.readOutput(pr)
	go func() {
		cmd.Wait()
		pw.Close()
		t.mu.Lock()
		if t.cmd == cmd {
			t.cmd = nil
		}
		t.mu.Unlock()
	}()

	return t.statusLocked()
}

func (t *TunnelManager) readOutput(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if match := tunnelURLPattern.FindString(scanner.Text()); match != "" {
			t.mu.Lock()
			t.publicURL = match
			t.mu.Unlock()
			DebugLog("TunnelManager", "public URL: %s", match)
		}
	}
}

func (t *TunnelManager) Status() TunnelStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked()
}

// Stop sends SIGTERM to the subprocess. The status may briefly still
// report running until the process exits.
func (t *TunnelManager) Stop() TunnelStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd != nil && t.cmd.Process != nil {
		t.cmd.Process.Signal(syscall.SIGTERM)
	}
	return t.statusLocked()
}

func (t *TunnelManager) statusLocked() TunnelStatus {
	st := TunnelStatus{
		Running:   t.cmd != nil,
		PublicURL: t.publicURL,
		Error:     t.errMsg,
	}
	if st.PublicURL != "" {
		if png, err := qrcode.Encode(st.PublicURL, qrcode.Medium, 256); err == nil {
			st.QRPNGBase64 = base64.StdEncoding.EncodeToString(png)
		} else {
			logError("TunnelManager: qr encode", err)
		}
	}
	return st
}
