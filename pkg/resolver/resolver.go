// Package resolver implements a one-shot topological ordering over a static
// set of named items.
//
// It is the reference for the ordering contract the live container enforces
// at batch install time: nothing is resolved before its dependencies, a
// missing dependency is an error, and a cycle is always rejected. The
// traversal uses an explicit stack so deep graphs do not grow the call stack.
package resolver

import (
	"fmt"
	"sort"
	"strings"
)

// Item is a named node with the names it depends on.
type Item struct {
	Name         string
	Dependencies []string
}

// MissingError reports a dependency that names no known item.
type MissingError struct {
	Item       string
	Dependency string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("item %q depends on missing item %q", e.Item, e.Dependency)
}

// CycleError reports a dependency cycle. Path lists the items on the cycle in
// visit order, with the first item repeated at the end.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "circular dependency: " + strings.Join(e.Path, " -> ")
}

type frame struct {
	name string
	next int
}

// Resolve visits every item once, calling fn dependency-first. Roots are
// visited in name order so the result is deterministic. If fn returns an
// error, resolution stops and that error is returned.
func Resolve(items map[string]Item, fn func(Item) error) error {
	roots := make([]string, 0, len(items))
	for name := range items {
		roots = append(roots, name)
	}
	sort.Strings(roots)

	done := make(map[string]bool, len(items))
	onStack := make(map[string]int, len(items))

	for _, root := range roots {
		if done[root] {
			continue
		}
		stack := []frame{{name: root}}
		onStack[root] = 0

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			item := items[top.name]
			item.Name = top.name

			if top.next < len(item.Dependencies) {
				dep := item.Dependencies[top.next]
				top.next++

				if done[dep] {
					continue
				}
				if idx, ok := onStack[dep]; ok {
					path := make([]string, 0, len(stack)-idx+1)
					for _, f := range stack[idx:] {
						path = append(path, f.name)
					}
					return &CycleError{Path: append(path, dep)}
				}
				if _, ok := items[dep]; !ok {
					return &MissingError{Item: top.name, Dependency: dep}
				}
				onStack[dep] = len(stack)
				stack = append(stack, frame{name: dep})
				continue
			}

			stack = stack[:len(stack)-1]
			delete(onStack, item.Name)
			done[item.Name] = true
			if err := fn(item); err != nil {
				return err
			}
		}
	}
	return nil
}

// Order returns the names of items in dependency-first order.
func Order(items map[string]Item) ([]string, error) {
	order := make([]string, 0, len(items))
	err := Resolve(items, func(it Item) error {
		order = append(order, it.Name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}
