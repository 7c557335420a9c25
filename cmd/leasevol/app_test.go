package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pkt.systems/pslog"
)

func discardLogger() pslog.Logger {
	return pslog.NewStructured(io.Discard)
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(discardLogger())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	_, err := cmd.ExecuteContextC(context.Background())
	return out.String(), err
}

func newVolumeFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leases")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create volume file: %v", err)
	}
	if err := file.Truncate(16 << 20); err != nil {
		t.Fatalf("truncate volume file: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("close volume file: %v", err)
	}
	return path
}

func TestRootHasSubcommands(t *testing.T) {
	root := newRootCommand(discardLogger())
	want := []string{"format", "rebuild", "add", "remove", "lookup", "list", "version"}
	for _, name := range want {
		found := false
		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("subcommand %q missing", name)
		}
	}
}

func TestBindVolumeOptionsFromEnv(t *testing.T) {
	newRootCommand(discardLogger()) // bind flags into viper
	t.Setenv("LEASEVOL_VOLUME", "/dev/mapper/leases")
	t.Setenv("LEASEVOL_BACKEND", "dd")
	t.Setenv("LEASEVOL_ALIGNMENT", "2MiB")
	t.Setenv("LEASEVOL_BLOCK_SIZE", "4KiB")

	opts, err := bindVolumeOptions()
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if opts.Path != "/dev/mapper/leases" || opts.Backend != "dd" {
		t.Fatalf("unexpected options %+v", opts)
	}
	if opts.Config.Alignment != 2<<20 || opts.Config.BlockSize != 4096 {
		t.Fatalf("unexpected geometry %+v", opts.Config)
	}
}

func TestBindVolumeOptionsRequiresVolume(t *testing.T) {
	newRootCommand(discardLogger())
	t.Setenv("LEASEVOL_VOLUME", "")
	if _, err := bindVolumeOptions(); err == nil {
		t.Fatal("missing volume accepted")
	}
}

func TestBindVolumeOptionsRejectsBadSize(t *testing.T) {
	newRootCommand(discardLogger())
	t.Setenv("LEASEVOL_VOLUME", "/dev/mapper/leases")
	t.Setenv("LEASEVOL_ALIGNMENT", "three elephants")
	if _, err := bindVolumeOptions(); err == nil {
		t.Fatal("bad alignment accepted")
	}
}

func TestOpenBackendUnknown(t *testing.T) {
	_, err := openBackend(volumeOptions{Path: "/dev/null", Backend: "ftp"})
	if err == nil || !strings.Contains(err.Error(), "unknown backend") {
		t.Fatalf("expected unknown backend error, got %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "leasevol ") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestFormatRequiresForceWithoutTerminal(t *testing.T) {
	path := newVolumeFile(t)
	t.Setenv("LEASEVOL_VOLUME", path)
	if _, err := runCommand(t, "format", "--lockspace", "dom-3cab12"); err == nil {
		t.Fatal("format without --force succeeded off-terminal")
	}
}

func TestLeaseLifecycle(t *testing.T) {
	path := newVolumeFile(t)
	t.Setenv("LEASEVOL_VOLUME", path)

	out, err := runCommand(t, "format", "--lockspace", "dom-3cab12", "--force")
	if err != nil {
		t.Fatalf("format: %v (%s)", err, out)
	}

	out, err = runCommand(t, "add", "7b4c28f1")
	if err != nil {
		t.Fatalf("add: %v (%s)", err, out)
	}
	if !strings.Contains(out, "offset=3145728") {
		t.Fatalf("unexpected add output %q", out)
	}

	out, err = runCommand(t, "lookup", "7b4c28f1")
	if err != nil {
		t.Fatalf("lookup: %v (%s)", err, out)
	}
	if !strings.Contains(out, "lease=7b4c28f1") || !strings.Contains(out, "lockspace=dom-3cab12") {
		t.Fatalf("unexpected lookup output %q", out)
	}

	out, err = runCommand(t, "list")
	if err != nil {
		t.Fatalf("list: %v (%s)", err, out)
	}
	if !strings.Contains(out, "leases=1") {
		t.Fatalf("unexpected list output %q", out)
	}

	if out, err = runCommand(t, "remove", "7b4c28f1"); err != nil {
		t.Fatalf("remove: %v (%s)", err, out)
	}
	if _, err = runCommand(t, "lookup", "7b4c28f1"); err == nil {
		t.Fatal("lookup succeeded after remove")
	}

	out, err = runCommand(t, "rebuild", "--lockspace", "dom-3cab12")
	if err != nil {
		t.Fatalf("rebuild: %v (%s)", err, out)
	}
}
