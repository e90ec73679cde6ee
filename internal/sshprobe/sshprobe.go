// Package sshprobe implements the authenticated-probe stage of discovery:
// given a reachable address and a decrypted credential, it opens one SSH
// session, runs a fixed set of fact-gathering commands, and derives a
// device type from the output.
//
// Unlike a configuration-management executor that reconnects to the same
// hosts repeatedly, a discovery job visits each address exactly once, so
// this package does no connection caching and no TOFU host-key
// persistence: every probe uses ssh.InsecureIgnoreHostKey(), matching the
// "disable host-key verification — scan context" requirement. Per-host
// failures are swallowed by the caller (internal/engine), not here — this
// package just reports them.
package sshprobe

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/fenwicklabs/discoveryd/internal/models"
)

// DefaultTimeout bounds both the SSH connect phase and the combined
// command-execution phase for a single host.
const DefaultTimeout = 5 * time.Second

// Credential is the decrypted material needed to authenticate; the
// caller is responsible for decrypting a models.CredentialProfile via
// internal/secretstore before building one of these.
type Credential struct {
	Username   string
	Password   string // empty if PrivateKey is set
	PrivateKey []byte // PEM-encoded, empty if Password is set
	Port       int
}

// Facts is the raw and derived information extracted from one host.
type Facts struct {
	Hostname   string
	DeviceType models.DeviceType
	OSFacts    map[string]interface{}
}

const (
	factHostname     = "hostname"
	factOS           = "os"
	factOSVersion    = "osVersion"
	factArchitecture = "architecture"
	factUptime       = "uptime"
	factCPUInfo      = "cpuInfo"
	factMemoryInfo   = "memoryInfo"
	factDiskInfo     = "diskInfo"
)

// factCommands is the fixed, ordered command set run against every host.
// cpuInfo is special-cased: the command dumps the whole file, and only
// the first "model name" line is kept.
var factCommands = []struct {
	key string
	cmd string
}{
	{factHostname, "hostname"},
	{factOS, "uname -s"},
	{factOSVersion, "uname -r"},
	{factArchitecture, "uname -m"},
	{factUptime, "uptime"},
	{factCPUInfo, "cat /proc/cpuinfo"},
	{factMemoryInfo, "free -h"},
	{factDiskInfo, "df -h"},
}

// Probe connects to addr, authenticates with cred, runs the fixed
// fact-gathering command set, and derives the host's device type.
//
// Any session or command failure aborts the whole probe — the caller
// skips the device entirely rather than persisting a partial row.
func Probe(ctx context.Context, addr string, cred Credential) (*Facts, error) {
	port := cred.Port
	if port == 0 {
		port = 22
	}

	config, err := buildClientConfig(cred)
	if err != nil {
		return nil, fmt.Errorf("build ssh config: %w", err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	target := net.JoinHostPort(addr, strconv.Itoa(port))
	client, err := dial(probeCtx, target, config)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", target, err)
	}
	defer client.Close()

	facts := &Facts{OSFacts: make(map[string]interface{})}

	for _, fc := range factCommands {
		out, err := runCommand(probeCtx, client, fc.cmd)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", fc.key, err)
		}

		if fc.key == factCPUInfo {
			out = firstModelNameLine(out)
		}
		if out == "" {
			out = "unknown"
		}
		facts.OSFacts[fc.key] = out

		if fc.key == factHostname {
			facts.Hostname = out
		}
	}

	facts.DeviceType = deriveDeviceType(facts.OSFacts[factOS].(string))
	return facts, nil
}

// firstModelNameLine returns the trimmed value of the first "model name"
// line in /proc/cpuinfo output, or "" if none is present.
func firstModelNameLine(cpuinfo string) string {
	for _, line := range strings.Split(cpuinfo, "\n") {
		if !strings.Contains(line, "model name") {
			continue
		}
		if idx := strings.Index(line, ":"); idx != -1 {
			return strings.TrimSpace(line[idx+1:])
		}
		return strings.TrimSpace(line)
	}
	return ""
}

func dial(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}

func runCommand(ctx context.Context, client *ssh.Client, cmd string) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	var stdout bytes.Buffer
	session.Stdout = &stdout

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("run %q: %w", cmd, err)
		}
		return strings.TrimSpace(stdout.String()), nil
	}
}

func buildClientConfig(cred Credential) (*ssh.ClientConfig, error) {
	if cred.Username == "" {
		return nil, fmt.Errorf("credential has no username")
	}

	var auth []ssh.AuthMethod
	switch {
	case len(cred.PrivateKey) > 0:
		signer, err := ssh.ParsePrivateKey(cred.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	case cred.Password != "":
		auth = []ssh.AuthMethod{ssh.Password(cred.Password)}
	default:
		return nil, fmt.Errorf("credential has neither password nor private key")
	}

	return &ssh.ClientConfig{
		User:            cred.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         DefaultTimeout,
	}, nil
}

// deriveDeviceType maps the "os" fact (uname -s output, or "unknown" if
// empty) to the closed device-type enumeration by substring match,
// falling back to DeviceTypeUnknown for anything unrecognized.
func deriveDeviceType(os string) models.DeviceType {
	lower := strings.ToLower(os)
	switch {
	case strings.Contains(lower, "linux"):
		return models.DeviceLinux
	case strings.Contains(lower, "darwin"):
		return models.DeviceMacOS
	case strings.Contains(lower, "windows"):
		return models.DeviceWindows
	default:
		return models.DeviceTypeUnknown
	}
}
