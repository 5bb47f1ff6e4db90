package fastcount

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Source supplies the designated queries for one manager: the unconditional
// all-rows query plus any explicitly configured extras. A failing or
// malformed extra-query configuration is a warning for the caller, never a
// crash; precaching then proceeds with the all-rows query alone.
type Source interface {
	// All returns the query counting every row of the entity.
	All() Query

	// PrecacheQueries returns the additional designated queries.
	PrecacheQueries() ([]Query, error)
}

// NamedSource is implemented by sources whose designated queries can be
// addressed by name, which the counts API uses.
type NamedSource interface {
	Source
	Named(name string) (Query, bool)
}

// QuerySpec is one configured designated query.
type QuerySpec struct {
	Name  string
	Where string
	Args  []interface{}
}

// TableSource builds table-count queries from configuration.
type TableSource struct {
	db    *gorm.DB
	table string
	specs []QuerySpec
}

// NewTableSource constructs a Source over one table with the configured
// designated query specs.
func NewTableSource(db *gorm.DB, table string, specs []QuerySpec) *TableSource {
	return &TableSource{db: db, table: table, specs: specs}
}

// All returns the unconditional count query.
func (s *TableSource) All() Query {
	return NewTableQuery(s.db, s.table, "")
}

// PrecacheQueries materialises the configured designated queries. Any
// malformed spec invalidates the whole list, matching the contract that bad
// configuration degrades to "no extra queries".
func (s *TableSource) PrecacheQueries() ([]Query, error) {
	queries := make([]Query, 0, len(s.specs))
	for i, spec := range s.specs {
		if strings.TrimSpace(spec.Name) == "" {
			return nil, fmt.Errorf("designated query %d for table %q has no name", i, s.table)
		}
		if strings.TrimSpace(spec.Where) == "" {
			return nil, fmt.Errorf("designated query %q for table %q has an empty where clause", spec.Name, s.table)
		}
		queries = append(queries, NewTableQuery(s.db, s.table, spec.Where, spec.Args...))
	}
	return queries, nil
}

// Named returns the designated query with the given name. The reserved name
// "all" resolves to the unconditional query.
func (s *TableSource) Named(name string) (Query, bool) {
	if name == "" || strings.EqualFold(name, "all") {
		return s.All(), true
	}
	for _, spec := range s.specs {
		if spec.Name == name {
			if strings.TrimSpace(spec.Where) == "" {
				return nil, false
			}
			return NewTableQuery(s.db, s.table, spec.Where, spec.Args...), true
		}
	}
	return nil, false
}

// QueryNames lists the addressable designated query names.
func (s *TableSource) QueryNames() []string {
	names := make([]string, 0, len(s.specs)+1)
	names = append(names, "all")
	for _, spec := range s.specs {
		if spec.Name != "" {
			names = append(names, spec.Name)
		}
	}
	return names
}
