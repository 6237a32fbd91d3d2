package metadata

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"dcsa-query/internal/queryerr"
)

// Catalog is the set of entity descriptors known to the process.
// It is immutable once NewCatalog returns.
type Catalog struct {
	entities map[string]*EntityDescriptor
	order    []string
}

type catalogFile struct {
	Entities []EntityDescriptor `yaml:"entities"`
}

var validate = validator.New()

// NewCatalog normalizes and validates the descriptors.
// Descriptors are copied; later changes by the caller are not observed.
func NewCatalog(entities ...EntityDescriptor) (*Catalog, error) {
	c := &Catalog{entities: make(map[string]*EntityDescriptor, len(entities))}
	for i := range entities {
		e := cloneEntity(entities[i])
		e.normalize()
		if err := validate.Struct(e); err != nil {
			return nil, &queryerr.ConfigurationError{
				Entity:  e.Name,
				Message: "invalid entity descriptor",
				Err:     describeValidation(err),
			}
		}
		if _, exists := c.entities[e.Name]; exists {
			return nil, queryerr.Configurationf(e.Name, "entity declared more than once")
		}
		c.entities[e.Name] = e
		c.order = append(c.order, e.Name)
	}
	return c, nil
}

// ParseCatalog reads a YAML document with a top-level "entities" list.
// Unknown keys are rejected so typos in descriptor files surface at startup.
func ParseCatalog(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var file catalogFile
	if err := dec.Decode(&file); err != nil {
		return nil, &queryerr.ConfigurationError{Message: "failed to parse entity catalog", Err: err}
	}
	if len(file.Entities) == 0 {
		return nil, &queryerr.ConfigurationError{Message: "entity catalog declares no entities"}
	}
	return NewCatalog(file.Entities...)
}

// LoadCatalog reads and parses a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read entity catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// Entity returns the descriptor for name.
func (c *Catalog) Entity(name string) (*EntityDescriptor, bool) {
	e, ok := c.entities[name]
	return e, ok
}

// Names returns entity names in declaration order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// SortedNames returns entity names alphabetically.
func (c *Catalog) SortedNames() []string {
	out := c.Names()
	sort.Strings(out)
	return out
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Namespace()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must have at least %s entries", fe.Namespace(), fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %q", fe.Namespace(), fe.Param(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", fe.Namespace(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

func cloneEntity(e EntityDescriptor) *EntityDescriptor {
	out := e
	out.Columns = cloneColumns(e.Columns)
	out.DefaultSort = append([]string(nil), e.DefaultSort...)
	if e.Joins != nil {
		out.Joins = make([]JoinDeclaration, len(e.Joins))
		for i, j := range e.Joins {
			j.Fields = cloneColumns(j.Fields)
			out.Joins[i] = j
		}
	}
	return &out
}

func cloneColumns(cols []ColumnDescriptor) []ColumnDescriptor {
	if cols == nil {
		return nil
	}
	out := make([]ColumnDescriptor, len(cols))
	for i, c := range cols {
		c.Enum = append([]string(nil), c.Enum...)
		c.Aliases = append([]string(nil), c.Aliases...)
		c.Default = append([]string(nil), c.Default...)
		c.Allowed = append([]string(nil), c.Allowed...)
		c.Fixed = append([]string(nil), c.Fixed...)
		out[i] = c
	}
	return out
}
