// Package sync is the diff-and-sync engine. The save direction expands a
// document, resolves its presets, fills in defaults, and reconciles the
// result against the remote object graph with create and update operations,
// matching by name within each parent scope. The load direction walks a
// remote graph and produces a minimal, default-elided document. Neither
// direction ever deletes a remote resource.
package sync

import "fmt"

// Action classifies one applied operation.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionUpload  Action = "upload"
	ActionReorder Action = "reorder"
)

// Operation records one write issued against the remote service.
type Operation struct {
	Action Action
	Kind   string
	Name   string
	Fields []string // fields carried by an update, nil for creates
}

func (o Operation) String() string {
	if o.Name == "" {
		return fmt.Sprintf("%s %s", o.Action, o.Kind)
	}
	return fmt.Sprintf("%s %s %q", o.Action, o.Kind, o.Name)
}

// OperationLog is the ordered record of every write a save issued.
// Operations appear in document order; anything logged before a failure has
// already been applied on the remote side and is not rolled back.
type OperationLog struct {
	Ops []Operation
}

func (l *OperationLog) add(op Operation) {
	l.Ops = append(l.Ops, op)
}

// AmbiguityError reports duplicate names within one parent scope, which
// makes name matching unsafe. It is never auto-resolved: guessing which of
// two same-named entries was meant could corrupt the sync.
type AmbiguityError struct {
	Scope string // e.g. `test suites of project "p1"`
	Name  string
	Side  string // "local" or "remote"
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("duplicate name %q among %s (%s side)", e.Name, e.Scope, e.Side)
}
