package sshprobe

import (
	"context"
	"testing"
	"time"

	"github.com/fenwicklabs/discoveryd/internal/models"
)

func TestDeriveDeviceType(t *testing.T) {
	tests := []struct {
		name string
		os   string
		want models.DeviceType
	}{
		{"linux exact", "Linux", models.DeviceLinux},
		{"linux lowercase", "linux", models.DeviceLinux},
		{"linux substring", "GNU/Linux", models.DeviceLinux},
		{"darwin", "Darwin", models.DeviceMacOS},
		{"windows substring", "CYGWIN_NT-10.0 windows", models.DeviceWindows},
		{"unrecognized kernel", "SunOS", models.DeviceTypeUnknown},
		{"unknown literal", "unknown", models.DeviceTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := deriveDeviceType(tt.os)
			if got != tt.want {
				t.Errorf("deriveDeviceType(%q) = %v, want %v", tt.os, got, tt.want)
			}
		})
	}
}

func TestFirstModelNameLine(t *testing.T) {
	cpuinfo := "processor\t: 0\nmodel name\t: Intel(R) Xeon(R) CPU\ncache size\t: 8192 KB\n" +
		"processor\t: 1\nmodel name\t: Intel(R) Xeon(R) CPU\n"
	got := firstModelNameLine(cpuinfo)
	if got != "Intel(R) Xeon(R) CPU" {
		t.Fatalf("firstModelNameLine() = %q", got)
	}

	if got := firstModelNameLine("processor: 0\n"); got != "" {
		t.Fatalf("expected empty string for missing model name line, got %q", got)
	}
}

func TestBuildClientConfigRequiresUsername(t *testing.T) {
	_, err := buildClientConfig(Credential{Password: "x"})
	if err == nil {
		t.Fatal("expected error for missing username")
	}
}

func TestBuildClientConfigRequiresAuthMethod(t *testing.T) {
	_, err := buildClientConfig(Credential{Username: "root"})
	if err == nil {
		t.Fatal("expected error when neither password nor private key is set")
	}
}

func TestBuildClientConfigPassword(t *testing.T) {
	config, err := buildClientConfig(Credential{Username: "root", Password: "secret"})
	if err != nil {
		t.Fatalf("buildClientConfig: %v", err)
	}
	if config.User != "root" {
		t.Fatalf("expected user=root, got %s", config.User)
	}
	if len(config.Auth) != 1 {
		t.Fatalf("expected 1 auth method, got %d", len(config.Auth))
	}
}

func TestBuildClientConfigBadPrivateKey(t *testing.T) {
	_, err := buildClientConfig(Credential{Username: "root", PrivateKey: []byte("not a key")})
	if err == nil {
		t.Fatal("expected error for malformed private key")
	}
}

func TestProbeFailsOnUnreachableHost(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Probe(ctx, "203.0.113.1", Credential{Username: "root", Password: "x"})
	if err == nil {
		t.Fatal("expected error probing an unreachable TEST-NET-3 address")
	}
}
