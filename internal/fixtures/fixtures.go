// Package fixtures embeds recorded backend payloads (OpenAPI descriptions and
// job results) shared by package tests.
package fixtures

import (
	"embed"
	"encoding/json"
	"fmt"
	"testing"
)

//go:embed testdata/*.json
var files embed.FS

// Read returns the raw bytes for a fixture file.
func Read(name string) ([]byte, error) {
	data, err := files.ReadFile("testdata/" + name)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", name, err)
	}
	return data, nil
}

// MustRead returns the fixture bytes or fails the test.
func MustRead(tb testing.TB, name string) []byte {
	tb.Helper()
	data, err := Read(name)
	if err != nil {
		tb.Fatalf("%v", err)
	}
	return data
}

// Load decodes the named JSON fixture file into dest.
func Load(name string, dest any) error {
	data, err := Read(name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode fixture %s: %w", name, err)
	}
	return nil
}
