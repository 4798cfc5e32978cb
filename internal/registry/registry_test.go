package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRegistry(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "endpoints.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	return path
}

func TestResolveEndpoints(t *testing.T) {
	path := writeRegistry(t, "endpoints:\n  my_endpoint: stdout\n  audit: /var/log/audit.log\n")

	m, err := ResolveEndpoints(path)
	if err != nil {
		t.Fatalf("ResolveEndpoints failed: %v", err)
	}
	if len(m) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(m))
	}
	if m["my_endpoint"] != "stdout" {
		t.Errorf("expected stdout, got %q", m["my_endpoint"])
	}
	if m["audit"] != "/var/log/audit.log" {
		t.Errorf("unexpected destination %q", m["audit"])
	}
}

func TestResolveEndpointsLowercasesNames(t *testing.T) {
	path := writeRegistry(t, "endpoints:\n  My_Endpoint: stderr\n")

	m, err := ResolveEndpoints(path)
	if err != nil {
		t.Fatalf("ResolveEndpoints failed: %v", err)
	}
	if m["my_endpoint"] != "stderr" {
		t.Errorf("expected lower-cased key, got %v", m)
	}
}

func TestResolveEndpointsEmptyDestination(t *testing.T) {
	path := writeRegistry(t, "endpoints:\n  my_endpoint: \"  \"\n")

	if _, err := ResolveEndpoints(path); err == nil {
		t.Fatal("expected error for empty destination")
	}
}

func TestResolveEndpointsMissingFile(t *testing.T) {
	if _, err := ResolveEndpoints(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing registry file")
	}
}
