package compiler

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadModule(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		file     string
		text     string
		wantName string
	}{
		{
			name:     "name from symbol",
			file:     "prog.mlir",
			text:     "module @jit_matmul attributes {mhlo.num_replicas = 1 : i32} {\n}\n",
			wantName: "jit_matmul",
		},
		{
			name:     "name from filename",
			file:     "anonymous.mlir",
			text:     "module {\n}\n",
			wantName: "anonymous",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			if err := os.WriteFile(path, []byte(tt.text), 0o644); err != nil {
				t.Fatal(err)
			}

			m, err := LoadModule(path)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if m.Name != tt.wantName {
				t.Errorf("name = %q, want %q", m.Name, tt.wantName)
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadModule(filepath.Join(dir, "nope.mlir")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestModuleBytecode(t *testing.T) {
	a := NewModule("m", []byte("module @m {  \r\n  func @f()\t\n}\n\n"))
	b := NewModule("m", []byte("module @m {\n  func @f()\n}"))

	if !bytes.Equal(a.Bytecode(), b.Bytecode()) {
		t.Errorf("bytecode not canonical:\n%q\nvs\n%q", a.Bytecode(), b.Bytecode())
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(NewInterpBackend()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(NewInterpBackend()); err == nil {
		t.Error("expected duplicate registration to fail")
	}

	if _, err := r.Get("cpu"); err != nil {
		t.Errorf("get cpu: %v", err)
	}
	if _, err := r.Get("tpu"); err == nil {
		t.Error("expected error for unregistered platform")
	}

	got := r.List()
	if len(got) != 1 || got[0] != "cpu" {
		t.Errorf("list = %v, want [cpu]", got)
	}
}

func TestInterpCompile(t *testing.T) {
	b := NewInterpBackend()
	opts, err := DeriveOptions(DeriveParams{NumReplicas: 1, NumPartitions: 1})
	if err != nil {
		t.Fatal(err)
	}

	m := NewModule("jit_f", []byte("module @jit_f {\n}\n"))
	exec, err := b.Compile(context.Background(), m, opts)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if exec.ModuleName != "jit_f" {
		t.Errorf("module name = %q, want jit_f", exec.ModuleName)
	}
	if exec.Platform != "cpu" {
		t.Errorf("platform = %q, want cpu", exec.Platform)
	}
	if exec.HostCallbacks {
		t.Error("plain module should not report host callbacks")
	}

	cb := NewModule("jit_cb", []byte("module @jit_cb {\n  custom_call @xla_python_cpu_callback()\n}\n"))
	exec, err = b.Compile(context.Background(), cb, opts)
	if err != nil {
		t.Fatal(err)
	}
	if !exec.HostCallbacks {
		t.Error("callback module should report host callbacks")
	}

	if _, err := b.Compile(context.Background(), NewModule("e", nil), opts); err == nil {
		t.Error("expected error for empty module")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Compile(ctx, m, opts); err == nil {
		t.Error("expected error for canceled context")
	}
}
