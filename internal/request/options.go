package request

import "dcsa-query/internal/cursor"

// Built-in page size limits used when Options leaves them unset.
const (
	DefaultMaxPageSize = 100
	DefaultPageSize    = 25
)

// ParamNames are the reserved query parameter names the parser interprets.
type ParamNames struct {
	Sort   string
	Limit  string
	Offset string
	Cursor string
	Fields string
	Count  string
}

// DefaultParamNames returns the standard parameter names.
func DefaultParamNames() ParamNames {
	return ParamNames{
		Sort:   "sort",
		Limit:  "limit",
		Offset: "offset",
		Cursor: "cursor",
		Fields: "fields",
		Count:  "count",
	}
}

// Options configures Parse. The zero value is usable apart from Codec.
type Options struct {
	// DefaultPageSize applies without a limit parameter; 0 means MaxPageSize.
	DefaultPageSize int
	// MaxPageSize clamps larger limits.
	MaxPageSize int
	Names       ParamNames
	// AttributeSeparator splits "field:op" filter keys.
	AttributeSeparator string
	// Reserved names are ignored by the parser, e.g. API versioning parameters.
	Reserved []string
	Codec    *cursor.Codec
	// AllowOffset enables offset pagination for every entity.
	AllowOffset bool
}

func (o Options) withDefaults() Options {
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = DefaultMaxPageSize
	}
	if o.DefaultPageSize <= 0 {
		o.DefaultPageSize = o.MaxPageSize
	}
	if o.DefaultPageSize > o.MaxPageSize {
		o.DefaultPageSize = o.MaxPageSize
	}
	def := DefaultParamNames()
	if o.Names.Sort == "" {
		o.Names.Sort = def.Sort
	}
	if o.Names.Limit == "" {
		o.Names.Limit = def.Limit
	}
	if o.Names.Offset == "" {
		o.Names.Offset = def.Offset
	}
	if o.Names.Cursor == "" {
		o.Names.Cursor = def.Cursor
	}
	if o.Names.Fields == "" {
		o.Names.Fields = def.Fields
	}
	if o.Names.Count == "" {
		o.Names.Count = def.Count
	}
	if o.AttributeSeparator == "" {
		o.AttributeSeparator = ":"
	}
	return o
}

func (o Options) isReserved(key string) bool {
	for _, r := range o.Reserved {
		if r == key {
			return true
		}
	}
	return false
}
