package main

import (
	"strings"
	"testing"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/version"
)

func TestVersionCmd_Output(t *testing.T) {
	// Override the package-level version variables for this test.
	orig := version.Version
	origC := version.Commit
	origD := version.Date
	t.Cleanup(func() {
		version.Version = orig
		version.Commit = origC
		version.Date = origD
	})

	version.Version = "test"
	version.Commit = "abc123"
	version.Date = "2025-01-01"

	out, err := runCLI(t, defaultRuntime(), "version")
	if err != nil {
		t.Fatalf("version command returned error: %v", err)
	}
	for _, want := range []string{"cspm version test", "abc123", "2025-01-01"} {
		if !strings.Contains(out, want) {
			t.Errorf("version output missing %q; got:\n%s", want, out)
		}
	}
}

func TestVersionInfo_Format(t *testing.T) {
	orig := version.Version
	t.Cleanup(func() { version.Version = orig })

	version.Version = "v1.2.3"
	info := version.Info()
	if !strings.HasPrefix(info, "cspm version v1.2.3\n") {
		t.Errorf("Info() = %q", info)
	}
	if strings.Count(info, "\n") != 3 {
		t.Errorf("Info() should have three lines; got %q", info)
	}
}
