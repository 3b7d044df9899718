// Package catalog implements ConfigCatalog (spec §4.1): a read-only,
// in-memory view of the static YAML table catalog.
package catalog

import (
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Catalog is the read-only, in-memory view of every table's TableSpec.
// Safe for concurrent readers without locking once Load returns.
type Catalog struct {
	metadata Metadata
	tables   map[string]TableSpec
	byCat    map[PerformanceCategory][]string
}

var structValidator = validator.New()

// Load parses path into a Catalog, failing fast if the file is absent or any
// TableSpec violates its struct tags or the §3 invariants.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigMissing, path)
		}
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing catalog yaml: %w", err)
	}

	return build(doc)
}

// LoadBytes is like Load but parses an in-memory document; used by tests and
// by callers that fetch the catalog from a non-filesystem source.
func LoadBytes(raw []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing catalog yaml: %w", err)
	}
	return build(doc)
}

func build(doc document) (*Catalog, error) {
	tables := make(map[string]TableSpec, len(doc.Tables))
	byCat := make(map[PerformanceCategory][]string)

	for name, spec := range doc.Tables {
		spec.Name = name

		if err := structValidator.Struct(&spec); err != nil {
			return nil, newInvalidError(name, err.Error())
		}

		if err := validateSpecInvariants(&spec); err != nil {
			return nil, err
		}

		tables[name] = spec
		byCat[spec.PerformanceCategory] = append(byCat[spec.PerformanceCategory], name)
	}

	for cat := range byCat {
		sort.Strings(byCat[cat])
	}

	return &Catalog{metadata: doc.Metadata, tables: tables, byCat: byCat}, nil
}

// validateSpecInvariants checks the §3 invariants that struct tags cannot
// express (cross-field rules).
func validateSpecInvariants(spec *TableSpec) error {
	if len(spec.IncrementalColumns) == 0 && spec.ExtractionStrategy != StrategyFullTable {
		return newInvalidError(spec.Name,
			"incremental_columns is empty but extraction_strategy is not full_table")
	}

	if spec.HasPrimaryIncrementalColumn() {
		found := false
		for _, c := range spec.IncrementalColumns {
			if c == spec.PrimaryIncrementalCol {
				found = true
				break
			}
		}
		if !found {
			return newInvalidError(spec.Name,
				fmt.Sprintf("primary_incremental_column %q not present in incremental_columns", spec.PrimaryIncrementalCol))
		}
	}

	if spec.BatchSize <= 0 {
		return newInvalidError(spec.Name, "batch_size must be > 0")
	}

	return nil
}

// Get returns the TableSpec for name.
func (c *Catalog) Get(name string) (*TableSpec, error) {
	spec, ok := c.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return &spec, nil
}

// List returns every table name, sorted.
func (c *Catalog) List() []string {
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ByCategory returns the table names in a given performance category, sorted.
func (c *Catalog) ByCategory(cat PerformanceCategory) []string {
	return c.byCat[cat]
}

// Metadata returns the catalog document's metadata section.
func (c *Catalog) Metadata() Metadata {
	return c.metadata
}

// Len reports the number of tables in the catalog.
func (c *Catalog) Len() int {
	return len(c.tables)
}
