package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sunlightlinux/svcgraph/internal/util"
	"github.com/sunlightlinux/svcgraph/pkg/resolver"
	"github.com/sunlightlinux/svcgraph/pkg/service"
)

// Built-in service types.
const (
	TypeInternal  = "internal"
	TypeTriggered = "triggered"
)

// Factory creates the service for a description.
type Factory func(desc *ServiceDescription) (service.Service, error)

// DirLoader loads service descriptions from one or more directories and
// installs them into a container.
type DirLoader struct {
	dirs      []string
	container *service.Container

	mu        sync.Mutex
	factories map[string]Factory
}

// NewDirLoader creates a loader searching dirs in order. The internal and
// triggered types are registered.
func NewDirLoader(c *service.Container, dirs []string) *DirLoader {
	dl := &DirLoader{
		dirs:      dirs,
		container: c,
		factories: make(map[string]Factory),
	}
	dl.RegisterType(TypeInternal, func(desc *ServiceDescription) (service.Service, error) {
		var value interface{}
		if desc.Value != "" {
			value = desc.Value
		}
		return service.NewInternalService(value), nil
	})
	dl.RegisterType(TypeTriggered, func(*ServiceDescription) (service.Service, error) {
		return service.NewTriggeredService(), nil
	})
	return dl
}

// RegisterType makes typ available to descriptions, replacing any factory
// already registered under it.
func (dl *DirLoader) RegisterType(typ string, f Factory) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	dl.factories[strings.ToLower(typ)] = f
}

func (dl *DirLoader) factory(typ string) (Factory, bool) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	f, ok := dl.factories[typ]
	return f, ok
}

// ServiceDirs returns the configured service directories.
func (dl *DirLoader) ServiceDirs() []string {
	return dl.dirs
}

// Describe finds and parses the description of name, expanding its
// depends-on.d directories.
func (dl *DirLoader) Describe(name service.ServiceName) (*ServiceDescription, error) {
	desc, err := dl.findAndParse(name)
	if err != nil {
		return nil, err
	}
	for _, dir := range desc.DependsOnD {
		depDir := util.CombinePaths(util.ParentPath(desc.File), dir)
		deps, err := dl.depsFromDir(name, depDir)
		if err != nil {
			return nil, err
		}
		for _, dep := range deps {
			desc.DependsOn = appendName(desc.DependsOn, dep)
		}
	}
	return desc, nil
}

// Load installs the named services together with every dependency not yet
// installed, as one batch. Services already installed are left alone and
// not returned.
func (dl *DirLoader) Load(names ...service.ServiceName) ([]*service.Controller, error) {
	descs := make(map[service.ServiceName]*ServiceDescription)
	provider := make(map[service.ServiceName]service.ServiceName)
	var notFound []*ServiceLoadError

	stack := append([]service.ServiceName(nil), names...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := provider[n]; seen {
			continue
		}
		if dl.container.Controller(n) != nil {
			provider[n] = service.ServiceName{}
			continue
		}

		desc, err := dl.Describe(n)
		var loadErr *ServiceLoadError
		if errors.As(err, &loadErr) && loadErr.notFound {
			notFound = append(notFound, loadErr)
			continue
		}
		if err != nil {
			return nil, err
		}
		descs[n] = desc
		provider[n] = n
		for _, a := range desc.Aliases {
			provider[a] = n
		}
		stack = append(stack, desc.DependsOn...)
	}
	for _, e := range notFound {
		if _, ok := provider[e.name]; !ok {
			return nil, e
		}
	}

	items := make(map[string]resolver.Item, len(descs))
	byKey := make(map[string]*ServiceDescription, len(descs))
	for n, desc := range descs {
		item := resolver.Item{Name: n.String()}
		for _, dep := range desc.DependsOn {
			if p := provider[dep]; !p.IsZero() {
				item.Dependencies = append(item.Dependencies, p.String())
			}
		}
		sort.Strings(item.Dependencies)
		items[item.Name] = item
		byKey[item.Name] = desc
	}

	batch := dl.container.NewBatch()
	err := resolver.Resolve(items, func(it resolver.Item) error {
		desc := byKey[it.Name]
		f, ok := dl.factory(desc.Type)
		if !ok {
			return &ServiceLoadError{ServiceName: it.Name, Message: fmt.Sprintf("unknown service type '%s'", desc.Type)}
		}
		svc, err := f(desc)
		if err != nil {
			return &ServiceLoadError{ServiceName: it.Name, Message: fmt.Sprintf("creating service: %v", err)}
		}
		batch.Add(desc.Definition(svc))
		return nil
	})
	var cycle *resolver.CycleError
	if errors.As(err, &cycle) {
		return nil, &ServiceLoadError{
			ServiceName: cycle.Path[0],
			Message:     "circular dependency: " + strings.Join(cycle.Path, " -> "),
		}
	}
	if err != nil {
		return nil, err
	}

	ctrls, err := batch.Install()
	if err != nil {
		return nil, fmt.Errorf("installing %v: %w", names, err)
	}
	return ctrls, nil
}

func (dl *DirLoader) findAndParse(name service.ServiceName) (*ServiceDescription, error) {
	for _, dir := range dl.dirs {
		path := filepath.Join(dir, name.String())
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, &ServiceLoadError{
				ServiceName: name.String(),
				Message:     fmt.Sprintf("error reading %s: %v", path, err),
			}
		}
		desc, err := Parse(f, name, path)
		f.Close()
		if err != nil {
			return nil, err
		}
		return desc, nil
	}

	return nil, &ServiceLoadError{
		ServiceName: name.String(),
		Message:     "service description not found",
		name:        name,
		notFound:    true,
	}
}

// depsFromDir names one dependency per entry of dir. A missing directory
// contributes nothing.
func (dl *DirLoader) depsFromDir(owner service.ServiceName, dir string) ([]service.ServiceName, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading dependency directory %s: %w", dir, err)
	}

	var deps []service.ServiceName
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dep, err := service.Parse(entry.Name())
		if err != nil {
			return nil, &ServiceLoadError{
				ServiceName: owner.String(),
				Message:     fmt.Sprintf("bad dependency '%s' in %s: %v", entry.Name(), dir, err),
			}
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

// ServiceLoadError represents a service loading failure.
type ServiceLoadError struct {
	ServiceName string
	Message     string

	name     service.ServiceName
	notFound bool
}

func (e *ServiceLoadError) Error() string {
	return fmt.Sprintf("service '%s': %s", e.ServiceName, e.Message)
}
