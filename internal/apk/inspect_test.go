package apk

import (
	"archive/zip"
	"bytes"
	"os"
	"testing"
)

func readFixture(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/helloworld.apk")
	if err != nil {
		t.Fatalf("Failed to read fixture: %v", err)
	}
	return data
}

func zipOf(t *testing.T, files map[string][]byte) []byte {
	t.Helper()

	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("Failed to add %s: %v", name, err)
		}
		f.Write(content)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Failed to close zip: %v", err)
	}
	return buf.Bytes()
}

func TestInspector_Inspect(t *testing.T) {
	m, err := NewInspector().Inspect(readFixture(t))
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if m.PackageName != "com.example.helloworld" {
		t.Errorf("Expected package com.example.helloworld, got %q", m.PackageName)
	}
	if m.VersionName != "1.0" {
		t.Errorf("Expected version name 1.0, got %q", m.VersionName)
	}
	if m.VersionCode != 1 {
		t.Errorf("Expected version code 1, got %d", m.VersionCode)
	}
}

func TestInspector_InspectRejects(t *testing.T) {
	fixture := readFixture(t)

	tests := []struct {
		name string
		data []byte
	}{
		{"signature only", []byte("PK\x03\x04junk")},
		{"empty", nil},
		{"zip without manifest", zipOf(t, map[string][]byte{"classes.dex": []byte("dex\n035")})},
		{"garbage manifest", zipOf(t, map[string][]byte{
			"AndroidManifest.xml": []byte("\x03\x00\x08\x00\xff\xff\xff\x7fnot a binary xml"),
			"resources.arsc":      []byte("\x02\x00\x0c\x00\xff\xff\xff\x7f\x01\x00\x00\x00"),
		})},
		{"truncated", fixture[:len(fixture)/2]},
		{"corrupt central directory", append(append([]byte{}, fixture[:len(fixture)-64]...), bytes.Repeat([]byte{0xff}, 64)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("Inspect panicked: %v", r)
				}
			}()

			m, err := NewInspector().Inspect(tt.data)
			if err == nil {
				t.Errorf("Expected an error, got manifest %+v", m)
			}
			if m != nil {
				t.Errorf("Expected no manifest on error, got %+v", m)
			}
		})
	}
}
