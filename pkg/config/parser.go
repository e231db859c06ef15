// Package config loads host settings and service description files.
//
// A description file is named after the service it describes and holds one
// setting per line:
//
//	# comment
//	type = internal
//	description = Connection pool
//	depends-on: app.db
//	alias: pool
//	mode = on-demand
//
// Dependency-like settings (depends-on, depends-on.d, alias) use ':' and
// may repeat; value settings use '='.
package config

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/sunlightlinux/svcgraph/pkg/service"
)

// OperatorType identifies what assignment operators a setting supports.
type OperatorType uint8

const (
	OpEquals    OperatorType = 1 << iota // setting = value
	OpColon                              // setting: value
	OpPlusEqual                          // setting += value
)

// KnownSettings maps setting names to their allowed operators.
var KnownSettings = map[string]OperatorType{
	"type":         OpEquals,
	"description":  OpEquals | OpPlusEqual,
	"value":        OpEquals,
	"mode":         OpEquals,
	"depends-on":   OpColon,
	"depends-on.d": OpColon,
	"alias":        OpColon,
}

// IsKnownSetting returns true if the setting name is recognized.
func IsKnownSetting(name string) bool {
	_, ok := KnownSettings[name]
	return ok
}

// ValidOperator checks if the given operator is valid for the setting.
func ValidOperator(setting string, op OperatorType) bool {
	allowed, ok := KnownSettings[setting]
	if !ok {
		return false
	}
	return allowed&op != 0
}

// ServiceDescription holds the parsed description of one service.
type ServiceDescription struct {
	Name        service.ServiceName
	Type        string
	Description string
	Value       string
	Mode        service.Mode

	DependsOn  []service.ServiceName
	DependsOnD []string // directories whose entries name dependencies
	Aliases    []service.ServiceName

	// File is the path the description was read from, if any.
	File string
}

// NewServiceDescription creates a description with default values.
func NewServiceDescription(name service.ServiceName) *ServiceDescription {
	return &ServiceDescription{
		Name: name,
		Type: TypeInternal,
		Mode: service.ModeActive,
	}
}

// Definition turns the description into an installable definition for svc.
func (d *ServiceDescription) Definition(svc service.Service) *service.Definition {
	return service.Define(d.Name, svc).
		DependsOn(d.DependsOn...).
		Alias(d.Aliases...).
		WithMode(d.Mode)
}

// ParseError represents an error during service description parsing.
type ParseError struct {
	ServiceName string
	FileName    string
	Line        int
	Setting     string
	Message     string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		if e.Setting != "" {
			return fmt.Sprintf("%s:%d: setting '%s': %s (service: %s)", e.FileName, e.Line, e.Setting, e.Message, e.ServiceName)
		}
		return fmt.Sprintf("%s:%d: %s (service: %s)", e.FileName, e.Line, e.Message, e.ServiceName)
	}
	return fmt.Sprintf("service '%s': %s", e.ServiceName, e.Message)
}

// Parse reads a service description.
func Parse(r io.Reader, name service.ServiceName, fileName string) (*ServiceDescription, error) {
	desc := NewServiceDescription(name)
	desc.File = fileName
	scanner := bufio.NewScanner(r)
	lineNum := 0

	fail := func(setting, msg string) error {
		return &ParseError{
			ServiceName: name.String(),
			FileName:    fileName,
			Line:        lineNum,
			Setting:     setting,
			Message:     msg,
		}
	}

	for scanner.Scan() {
		lineNum++
		trimmed := strings.TrimSpace(scanner.Text())
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		setting, value, op, err := parseLine(trimmed)
		if err != nil {
			return nil, fail("", err.Error())
		}
		if !IsKnownSetting(setting) {
			return nil, fail(setting, "unknown setting")
		}
		if !ValidOperator(setting, op) {
			expectedOp := "="
			if KnownSettings[setting]&OpColon != 0 {
				expectedOp = ":"
			}
			return nil, fail(setting, fmt.Sprintf("invalid operator, expected '%s'", expectedOp))
		}
		if err := applySetting(desc, setting, value, op); err != nil {
			return nil, fail(setting, err.Error())
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading service description for %s: %w", name, err)
	}
	return desc, nil
}

// parseLine splits a line into setting, value and operator. Whichever
// operator comes first wins, so values may contain '=' or ':'.
func parseLine(line string) (setting string, value string, op OperatorType, err error) {
	idx := strings.IndexAny(line, "+=:")
	for idx >= 0 && line[idx] == '+' && !strings.HasPrefix(line[idx:], "+=") {
		next := strings.IndexAny(line[idx+1:], "+=:")
		if next < 0 {
			idx = -1
			break
		}
		idx += 1 + next
	}
	if idx < 0 {
		err = fmt.Errorf("missing operator ('=' or ':')")
		return
	}

	setting = strings.TrimSpace(line[:idx])
	switch line[idx] {
	case '+':
		value = strings.TrimSpace(line[idx+2:])
		op = OpPlusEqual
	case ':':
		value = strings.TrimSpace(line[idx+1:])
		op = OpColon
	default:
		value = strings.TrimSpace(line[idx+1:])
		op = OpEquals
	}
	if setting == "" {
		err = fmt.Errorf("missing setting name")
	}
	return
}

func applySetting(desc *ServiceDescription, setting, value string, op OperatorType) error {
	switch setting {
	case "type":
		if value == "" {
			return fmt.Errorf("empty service type")
		}
		desc.Type = strings.ToLower(value)
	case "description":
		if op == OpPlusEqual && desc.Description != "" {
			desc.Description += " " + value
		} else {
			desc.Description = value
		}
	case "value":
		desc.Value = value
	case "mode":
		m, err := service.ParseMode(value)
		if err != nil {
			return err
		}
		if m == service.ModeRemove {
			return fmt.Errorf("mode REMOVE cannot be configured")
		}
		desc.Mode = m
	case "depends-on":
		n, err := service.Parse(value)
		if err != nil {
			return err
		}
		if n == desc.Name {
			return fmt.Errorf("service depends on itself")
		}
		desc.DependsOn = appendName(desc.DependsOn, n)
	case "depends-on.d":
		if value == "" {
			return fmt.Errorf("empty directory")
		}
		desc.DependsOnD = append(desc.DependsOnD, value)
	case "alias":
		n, err := service.Parse(value)
		if err != nil {
			return err
		}
		desc.Aliases = appendName(desc.Aliases, n)
	}
	return nil
}

func appendName(list []service.ServiceName, n service.ServiceName) []service.ServiceName {
	for _, existing := range list {
		if existing == n {
			return list
		}
	}
	return append(list, n)
}
