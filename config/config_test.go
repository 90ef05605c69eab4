package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	if _, err := LoadServer(""); err != nil {
		t.Errorf("server defaults: %v", err)
	}
	if _, err := LoadClient(""); err != nil {
		t.Errorf("client defaults: %v", err)
	}
}

func TestLoadServer(t *testing.T) {
	path := writeFile(t, `
service: svc
network: tcp
address: 127.0.0.1:7000
identity: 99
registry:
  etcd: [127.0.0.1:2379]
  ttl: 30
rate_limit: 100
rate_burst: 10
handler_timeout: 2s
log:
  level: debug
  format: json
`)
	cfg, err := LoadServer(path)
	if err != nil {
		t.Fatalf("LoadServer: %v", err)
	}
	if cfg.Service != "svc" || cfg.Network != "tcp" || cfg.Identity != 99 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.HandlerTimeout != 2*time.Second || cfg.Registry.TTL != 30 || len(cfg.Registry.Etcd) != 1 {
		t.Errorf("cfg = %+v", cfg)
	}
	// Absent fields keep their defaults.
	if cfg.ShutdownAfter != 5*time.Second || cfg.Registry.DialTimeout != 5*time.Second {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadClient(t *testing.T) {
	path := writeFile(t, `
target: svc
balancer: consistent-hash
hash_key: me
call_timeout: 500ms
registry:
  static:
    - {name: svc, network: unix, addr: /tmp/a.sock, weight: 2}
`)
	cfg, err := LoadClient(path)
	if err != nil {
		t.Fatalf("LoadClient: %v", err)
	}
	if cfg.CallTimeout != 500*time.Millisecond || cfg.Heartbeat != 30*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.Registry.Static) != 1 || cfg.Registry.Static[0].Weight != 2 {
		t.Errorf("static = %+v", cfg.Registry.Static)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"network", "network: udp", "unsupported network"},
		{"level", "log: {level: loud}", "log level"},
		{"burst", "rate_limit: 5\nrate_burst: 0", "rate limit"},
		{"ttl", "registry: {ttl: 0}", "ttl"},
		{"static", "registry: {static: [{name: x}]}", "needs name and addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadServer(writeFile(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}

	if _, err := LoadClient(writeFile(t, "balancer: consistent-hash")); err == nil {
		t.Error("consistent-hash without hash_key accepted")
	}
	if _, err := LoadClient(writeFile(t, "balancer: fastest")); err == nil {
		t.Error("unknown balancer accepted")
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := LoadServer(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
	if _, err := LoadClient(writeFile(t, "target: [")); err == nil {
		t.Error("broken YAML accepted")
	}
}

func TestOpenStaticRegistry(t *testing.T) {
	r := Registry{TTL: 10, Static: []StaticService{
		{Name: "svc", Network: "tcp", Addr: "127.0.0.1:1", Weight: 1},
		{Name: "svc", Network: "tcp", Addr: "127.0.0.1:2", Weight: 2},
	}}
	reg, closeReg, err := r.Open(nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closeReg()
	instances, err := reg.Discover("svc")
	if err != nil || len(instances) != 2 {
		t.Errorf("Discover = %+v, %v", instances, err)
	}
}
