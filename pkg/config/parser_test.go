package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/sunlightlinux/svcgraph/pkg/service"
)

func TestParseBasicService(t *testing.T) {
	input := `
# This is a comment
type = internal
description = A test service
`
	desc, err := Parse(strings.NewReader(input), service.MustParse("test"), "test-file")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if desc.Name.String() != "test" {
		t.Errorf("expected name 'test', got '%s'", desc.Name)
	}
	if desc.Type != TypeInternal {
		t.Errorf("expected type internal, got %q", desc.Type)
	}
	if desc.Description != "A test service" {
		t.Errorf("expected description 'A test service', got '%s'", desc.Description)
	}
	if desc.Mode != service.ModeActive {
		t.Errorf("expected mode ACTIVE, got %s", desc.Mode)
	}
	if desc.File != "test-file" {
		t.Errorf("expected file 'test-file', got '%s'", desc.File)
	}
}

func TestParseDependenciesAndAliases(t *testing.T) {
	input := `
depends-on: app.db
depends-on: "cache.example.com"
depends-on: app.db
depends-on.d: deps.d
alias: pool
alias: app.pool
`
	desc, err := Parse(strings.NewReader(input), service.MustParse("app.web"), "test-file")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []service.ServiceName{
		service.MustParse("app.db"),
		service.MustOf("cache.example.com"),
	}
	if len(desc.DependsOn) != len(want) {
		t.Fatalf("expected %d dependencies, got %v", len(want), desc.DependsOn)
	}
	for i := range want {
		if desc.DependsOn[i] != want[i] {
			t.Errorf("dependency %d: expected %s, got %s", i, want[i], desc.DependsOn[i])
		}
	}
	if len(desc.DependsOnD) != 1 || desc.DependsOnD[0] != "deps.d" {
		t.Errorf("expected depends-on.d [deps.d], got %v", desc.DependsOnD)
	}
	if len(desc.Aliases) != 2 || desc.Aliases[1].String() != "app.pool" {
		t.Errorf("unexpected aliases %v", desc.Aliases)
	}
}

func TestParseModes(t *testing.T) {
	for in, want := range map[string]service.Mode{
		"active":    service.ModeActive,
		"PASSIVE":   service.ModePassive,
		"on-demand": service.ModeOnDemand,
		"on_demand": service.ModeOnDemand,
		"never":     service.ModeNever,
	} {
		desc, err := Parse(strings.NewReader("mode = "+in), service.MustParse("m"), "f")
		if err != nil {
			t.Fatalf("mode %q: unexpected error: %v", in, err)
		}
		if desc.Mode != want {
			t.Errorf("mode %q: expected %s, got %s", in, want, desc.Mode)
		}
	}

	if _, err := Parse(strings.NewReader("mode = remove"), service.MustParse("m"), "f"); err == nil {
		t.Error("expected mode remove to be rejected")
	}
}

func TestParseDescriptionAppend(t *testing.T) {
	input := "description = first\ndescription += second\n"
	desc, err := Parse(strings.NewReader(input), service.MustParse("d"), "f")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if desc.Description != "first second" {
		t.Errorf("expected 'first second', got %q", desc.Description)
	}
}

func TestParseValueWithOperators(t *testing.T) {
	desc, err := Parse(strings.NewReader("value = postgres://db:5432/app?x=1"), service.MustParse("v"), "f")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if desc.Value != "postgres://db:5432/app?x=1" {
		t.Errorf("unexpected value %q", desc.Value)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		setting string
		line    int
	}{
		{"unknown setting", "command = /bin/true", "command", 1},
		{"wrong operator", "type: internal", "type", 1},
		{"colon expected", "\ndepends-on = x", "depends-on", 2},
		{"missing operator", "just words", "", 1},
		{"bad name", "depends-on: a..b", "depends-on", 1},
		{"self dependency", "depends-on: self", "depends-on", 1},
		{"bad mode", "mode = sometimes", "mode", 1},
		{"empty type", "type =", "type", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tc.input), service.MustParse("self"), "svc-file")
			if err == nil {
				t.Fatal("expected error")
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ParseError, got %T: %v", err, err)
			}
			if pe.Setting != tc.setting {
				t.Errorf("expected setting %q, got %q", tc.setting, pe.Setting)
			}
			if pe.Line != tc.line {
				t.Errorf("expected line %d, got %d", tc.line, pe.Line)
			}
			if !strings.Contains(pe.Error(), "svc-file") {
				t.Errorf("error should name the file: %v", pe)
			}
		})
	}
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		line    string
		setting string
		value   string
		op      OperatorType
	}{
		{"type = internal", "type", "internal", OpEquals},
		{"depends-on: a.b", "depends-on", "a.b", OpColon},
		{"description += more", "description", "more", OpPlusEqual},
		{"value = a+b", "value", "a+b", OpEquals},
		{"value = x:y", "value", "x:y", OpEquals},
	}
	for _, tc := range tests {
		setting, value, op, err := parseLine(tc.line)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tc.line, err)
		}
		if setting != tc.setting || value != tc.value || op != tc.op {
			t.Errorf("%q: got (%q, %q, %d)", tc.line, setting, value, op)
		}
	}
}
