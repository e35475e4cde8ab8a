// Package rules evaluates committed events against user-defined alert rules.
package rules

import (
	"fmt"
	"strings"

	"github.com/technosupport/ts-events/internal/data"
)

// Node is one term of a compiled condition tree.
type Node interface {
	Eval(e *data.Event) (bool, error)
}

type matchAll struct{}

func (matchAll) Eval(*data.Event) (bool, error) { return true, nil }

// AllOf holds when every child holds.
type AllOf []Node

func (n AllOf) Eval(e *data.Event) (bool, error) {
	for _, c := range n {
		ok, err := c.Eval(e)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// AnyOf holds when at least one child holds.
type AnyOf []Node

func (n AnyOf) Eval(e *data.Event) (bool, error) {
	for _, c := range n {
		ok, err := c.Eval(e)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

type Not struct{ Node Node }

func (n Not) Eval(e *data.Event) (bool, error) {
	ok, err := n.Node.Eval(e)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// ObjectTypes holds when the event has at least one detection of a listed type.
type ObjectTypes map[string]struct{}

func (n ObjectTypes) Eval(e *data.Event) (bool, error) {
	for _, d := range e.Detections {
		if _, ok := n[strings.ToLower(d.Type)]; ok {
			return true, nil
		}
	}
	return false, nil
}

type Cameras map[string]struct{}

func (n Cameras) Eval(e *data.Event) (bool, error) {
	_, ok := n[e.CameraID]
	return ok, nil
}

type MinConfidence int

func (n MinConfidence) Eval(e *data.Event) (bool, error) {
	return e.Confidence >= int(n), nil
}

// Compile turns a declarative condition into a Node. Fields set on the same
// spec are combined with AND; an empty spec matches every event.
func Compile(spec data.ConditionSpec) (Node, error) {
	var nodes []Node

	if len(spec.ObjectTypes) > 0 {
		set := make(ObjectTypes, len(spec.ObjectTypes))
		for _, t := range spec.ObjectTypes {
			t = strings.ToLower(strings.TrimSpace(t))
			if t == "" {
				return nil, fmt.Errorf("object_types: empty entry")
			}
			set[t] = struct{}{}
		}
		nodes = append(nodes, set)
	}
	if len(spec.Cameras) > 0 {
		set := make(Cameras, len(spec.Cameras))
		for _, c := range spec.Cameras {
			set[c] = struct{}{}
		}
		nodes = append(nodes, set)
	}
	if spec.ConfidenceMin != nil {
		if *spec.ConfidenceMin < 0 || *spec.ConfidenceMin > 100 {
			return nil, fmt.Errorf("confidence_min %d out of range", *spec.ConfidenceMin)
		}
		nodes = append(nodes, MinConfidence(*spec.ConfidenceMin))
	}
	if spec.Schedule != nil {
		s, err := ParseSchedule(*spec.Schedule)
		if err != nil {
			return nil, fmt.Errorf("schedule: %w", err)
		}
		nodes = append(nodes, s)
	}
	if len(spec.All) > 0 {
		group, err := compileEach(spec.All)
		if err != nil {
			return nil, fmt.Errorf("all: %w", err)
		}
		nodes = append(nodes, AllOf(group))
	}
	if len(spec.Any) > 0 {
		group, err := compileEach(spec.Any)
		if err != nil {
			return nil, fmt.Errorf("any: %w", err)
		}
		nodes = append(nodes, AnyOf(group))
	}
	if spec.Not != nil {
		inner, err := Compile(*spec.Not)
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}
		nodes = append(nodes, Not{Node: inner})
	}

	switch len(nodes) {
	case 0:
		return matchAll{}, nil
	case 1:
		return nodes[0], nil
	default:
		return AllOf(nodes), nil
	}
}

func compileEach(specs []data.ConditionSpec) ([]Node, error) {
	nodes := make([]Node, 0, len(specs))
	for i, s := range specs {
		n, err := Compile(s)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}
