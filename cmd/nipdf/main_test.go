package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/redforks/nipdf/internal/pdftest"
)

func TestParsePages(t *testing.T) {
	tests := []struct {
		spec    string
		want    []int
		wantErr bool
	}{
		{"", []int{0, 1, 2, 3}, false},
		{"2", []int{1}, false},
		{"1,3-4", []int{0, 2, 3}, false},
		{" 4 , 1 ", []int{3, 0}, false},
		{"0", nil, true},
		{"5", nil, true},
		{"3-2", nil, true},
		{"x", nil, true},
		{"1-y", nil, true},
	}
	for _, tt := range tests {
		got, err := parsePages(tt.spec, 4)
		if (err != nil) != tt.wantErr {
			t.Errorf("parsePages(%q) err = %v", tt.spec, err)
			continue
		}
		if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parsePages(%q) = %v, want %v", tt.spec, got, tt.want)
		}
	}
}

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	data := pdftest.SimpleDocument(pdftest.Page{Content: "BT /F1 12 Tf 10 10 Td (Hi) Tj ET 0 0 20 20 re f"})
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunCommands(t *testing.T) {
	path := writeFixture(t)
	out := t.TempDir()
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"info", path}, `"pages": 1`},
		{[]string{"dump", "-obj", "1", path}, "/Catalog"},
		{[]string{"dump", path}, "/Root"},
		{[]string{"text", path}, "Hi"},
		{[]string{"trace", path}, "fill"},
		{[]string{"fonts", path}, "Helvetica"},
		{[]string{"render", "-out", out, path}, "doc-001.png"},
		{[]string{"tokens", "-limit", "5", path}, "keyword"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		if err := run(context.Background(), tt.args, &buf); err != nil {
			t.Errorf("%v: %v", tt.args, err)
			continue
		}
		if !strings.Contains(buf.String(), tt.want) {
			t.Errorf("%v output = %q, want it to contain %q", tt.args, buf.String(), tt.want)
		}
	}
	if _, err := os.Stat(filepath.Join(out, "doc-001.png")); err != nil {
		t.Errorf("rendered file: %v", err)
	}
}

func TestRunUsage(t *testing.T) {
	var usage usageError
	for _, args := range [][]string{nil, {"bogus"}, {"info"}} {
		err := run(context.Background(), args, &bytes.Buffer{})
		if !errors.As(err, &usage) {
			t.Errorf("%v: err = %v, want a usage error", args, err)
		}
	}
}
