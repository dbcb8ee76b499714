package storage

import (
	"context"
	"fmt"
	"maps"

	sr "github.com/tryfix/schemaregistry/v3"
)

// Compatibility is the schema evolution rule of a group. Values are persisted.
type Compatibility int8

const (
	// AllowAny accepts every new schema.
	AllowAny Compatibility = iota
	// DenyAll rejects new versions of a type once it has one.
	DenyAll
	Backward
	Forward
	BackwardTransitive
	ForwardTransitive
	Full
	FullTransitive
)

var compatibilityNames = map[Compatibility]string{
	AllowAny:           `AllowAny`,
	DenyAll:            `DenyAll`,
	Backward:           `Backward`,
	Forward:            `Forward`,
	BackwardTransitive: `BackwardTransitive`,
	ForwardTransitive:  `ForwardTransitive`,
	Full:               `Full`,
	FullTransitive:     `FullTransitive`,
}

func (c Compatibility) String() string {
	if n, ok := compatibilityNames[c]; ok {
		return n
	}

	return fmt.Sprintf(`Compatibility(%d)`, int8(c))
}

// ValidationPolicy is the rule new schemas of a group are checked against.
type ValidationPolicy struct {
	Compatibility Compatibility
	Properties    map[string]string
}

func (p ValidationPolicy) Equal(o ValidationPolicy) bool {
	return p.Compatibility == o.Compatibility && maps.Equal(p.Properties, o.Properties)
}

// GroupProperties are fixed when a group is created.
type GroupProperties struct {
	// Format of the group's schemas. Any accepts every format.
	Format             sr.SerializationFormat
	AllowMultipleTypes bool
	Policy             ValidationPolicy
	Properties         map[string]string
}

// Validator checks a new schema against the previous versions of its type, latest first.
// Policies other than AllowAny and DenyAll are enforced only through a Validator.
type Validator interface {
	Validate(ctx context.Context, policy ValidationPolicy, schema sr.SchemaInfo, previous []sr.SchemaInfo) error
}

// ValidatorFunc adapts a function to a Validator.
type ValidatorFunc func(ctx context.Context, policy ValidationPolicy, schema sr.SchemaInfo, previous []sr.SchemaInfo) error

func (f ValidatorFunc) Validate(ctx context.Context, policy ValidationPolicy, schema sr.SchemaInfo, previous []sr.SchemaInfo) error {
	return f(ctx, policy, schema, previous)
}

type acceptAll struct{}

func (acceptAll) Validate(context.Context, ValidationPolicy, sr.SchemaInfo, []sr.SchemaInfo) error {
	return nil
}
