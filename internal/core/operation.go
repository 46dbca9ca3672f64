package core

import "fmt"

// OpKind tags a MigrationOperation variant
type OpKind string

// Operation kinds
const (
	OpCreate          OpKind = "create"
	OpCreateOrReplace OpKind = "createOrReplace"
	OpPatch           OpKind = "patch"
	OpDelete          OpKind = "delete"
	OpRename          OpKind = "rename"
)

// Operation is a single self-contained, idempotent mutation
type Operation struct {
	Kind     OpKind    `json:"kind"`
	ID       string    `json:"id"`
	Type     string    `json:"type,omitempty"`
	Document *Document `json:"document,omitempty"` // create, createOrReplace
	Patch    Patch     `json:"patch,omitempty"`    // patch
	From     string    `json:"from,omitempty"`     // rename
	To       string    `json:"to,omitempty"`       // rename
	Reason   string    `json:"reason,omitempty"`   // delete
}

// CreateOp creates doc, replacing a stored document with the same id
func CreateOp(doc *Document) Operation {
	return Operation{Kind: OpCreate, ID: doc.ID, Type: doc.Type, Document: doc}
}

// CreateOrReplaceOp upserts doc
func CreateOrReplaceOp(doc *Document) Operation {
	return Operation{Kind: OpCreateOrReplace, ID: doc.ID, Type: doc.Type, Document: doc}
}

// PatchOp applies field diffs to an existing document
func PatchOp(id string, p Patch) Operation {
	return Operation{Kind: OpPatch, ID: id, Patch: p}
}

// DeleteOp removes a document
func DeleteOp(id, docType, reason string) Operation {
	return Operation{Kind: OpDelete, ID: id, Type: docType, Reason: reason}
}

// RenameOp moves the value of field from to field to on one document
func RenameOp(id, from, to string) Operation {
	return Operation{Kind: OpRename, ID: id, From: from, To: to}
}

// Key identifies the operation in reports and state tables
func (o Operation) Key() string {
	return string(o.Kind) + ":" + o.ID
}

func (o Operation) String() string {
	switch o.Kind {
	case OpRename:
		return fmt.Sprintf("rename %s %s->%s", o.ID, o.From, o.To)
	default:
		return fmt.Sprintf("%s %s", o.Kind, o.ID)
	}
}

// Destructive reports whether the operation is meant to change or remove
// existing data. Plain creates target new documents and count as additive.
func (o Operation) Destructive() bool {
	return o.Kind != OpCreate
}

// Writes reports whether the operation produces a document body
func (o Operation) Writes() bool {
	return o.Kind == OpCreate || o.Kind == OpCreateOrReplace
}

// References returns the ids this operation will reference once applied
func (o Operation) References() []string {
	switch o.Kind {
	case OpCreate, OpCreateOrReplace:
		return TargetIDs(o.Document.References())
	case OpPatch:
		var ids []string
		for _, k := range sortedKeys(o.Patch.Set) {
			ids = append(ids, ValueReferences(o.Patch.Set[k])...)
		}
		return ids
	}
	return nil
}

// Validate checks that the operation is well formed
func (o Operation) Validate() error {
	if o.ID == "" {
		return &ValidationError{Reason: fmt.Sprintf("%s operation without id", o.Kind)}
	}
	switch o.Kind {
	case OpCreate, OpCreateOrReplace:
		if err := o.Document.Validate(); err != nil {
			return err
		}
		if o.Document.ID != o.ID {
			return &ValidationError{ID: o.ID, Reason: "document id does not match operation id"}
		}
	case OpPatch:
		if o.Patch.Empty() {
			return &ValidationError{ID: o.ID, Reason: "empty patch"}
		}
	case OpRename:
		if o.From == "" || o.To == "" {
			return &ValidationError{ID: o.ID, Reason: "rename needs from and to fields"}
		}
		if o.From == o.To {
			return &ValidationError{ID: o.ID, Reason: "rename from and to are the same field"}
		}
	case OpDelete:
	default:
		return &ValidationError{ID: o.ID, Reason: fmt.Sprintf("unknown operation kind %q", o.Kind)}
	}
	return nil
}

// OpState is the lifecycle state of an operation within one run
type OpState string

// Operation states. Succeeded, Failed, Blocked and Skipped are terminal.
const (
	StatePending   OpState = "pending"
	StateValidated OpState = "validated"
	StateExecuting OpState = "executing"
	StateSucceeded OpState = "succeeded"
	StateFailed    OpState = "failed"
	StateBlocked   OpState = "blocked"
	StateSkipped   OpState = "skipped"
)

var transitions = map[OpState][]OpState{
	StatePending:   {StateValidated, StateBlocked, StateSkipped, StateFailed},
	StateValidated: {StateExecuting, StateBlocked, StateSkipped},
	StateExecuting: {StateSucceeded, StateFailed},
}

// Terminal reports whether no further transition is allowed
func (s OpState) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}

// CanTransition reports whether s -> to is a legal move
func (s OpState) CanTransition(to OpState) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
