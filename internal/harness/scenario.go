package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/docmerge/internal/docstore/memstore"
	"github.com/roach88/docmerge/internal/fault"
	"github.com/roach88/docmerge/internal/merge"
)

// Scenario is one merge run and its expected outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Salt seeds the run; empty uses Name.
	Salt string `yaml:"salt,omitempty"`

	// SwapMode is a merge.SwapMode; empty means drop-then-rename.
	SwapMode string `yaml:"swapMode,omitempty"`

	// Seed maps collection names to their initial documents.
	Seed yaml.Node `yaml:"seed"`

	// Indexes maps collection names to indexes created after seeding.
	Indexes map[string][]IndexStep `yaml:"indexes,omitempty"`

	// Request is the merge request, in request file format.
	Request yaml.Node `yaml:"request"`

	// Faults are injected before the run.
	Faults []Fault `yaml:"faults,omitempty"`

	// Recover resumes a failed run from its last finalize step.
	Recover bool `yaml:"recover,omitempty"`

	// Expect describes the overall outcome.
	Expect Expect `yaml:"expect,omitempty"`

	// Assertions validate the final store and events.
	Assertions []Assertion `yaml:"assertions"`
}

// IndexStep is one index to create.
type IndexStep struct {
	Keys   yaml.Node `yaml:"keys"`
	Name   string    `yaml:"name,omitempty"`
	Unique bool      `yaml:"unique,omitempty"`
	Sparse bool      `yaml:"sparse,omitempty"`
}

// Fault makes Op on Collection ("" = any) fail with Message.
type Fault struct {
	Op         string `yaml:"op"`
	Collection string `yaml:"collection,omitempty"`
	Message    string `yaml:"message"`
}

// Expect is the expected outcome of the run (after recovery, if any).
type Expect struct {
	// Error is the fault kind of the final error; empty means success.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the final store or the event stream.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Collection names the collection (collection, indexes, count).
	Collection string `yaml:"collection,omitempty"`

	// Docs are the expected documents (collection).
	Docs yaml.Node `yaml:"docs,omitempty"`

	// Names are the expected collection or index names (collections, indexes).
	Names []string `yaml:"names,omitempty"`

	// Kinds are event kinds expected in order (events).
	Kinds []string `yaml:"kinds,omitempty"`

	// Count is the expected document count (count).
	Count int `yaml:"count,omitempty"`

	// Renamed and Defaulted are expected result counters (result).
	Renamed   *int64 `yaml:"renamed,omitempty"`
	Defaulted *int64 `yaml:"defaulted,omitempty"`
}

// Assertion type constants.
const (
	AssertCollection  = "collection"
	AssertCollections = "collections"
	AssertIndexes     = "indexes"
	AssertEvents      = "events"
	AssertCount       = "count"
	AssertResult      = "result"
)

var knownOps = map[memstore.Op]bool{
	memstore.OpListCollections: true, memstore.OpCreate: true, memstore.OpDrop: true,
	memstore.OpRename: true, memstore.OpListIndexes: true, memstore.OpCreateIndexes: true,
	memstore.OpFindOne: true, memstore.OpFind: true, memstore.OpInsert: true,
	memstore.OpUpdate: true, memstore.OpAggregate: true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Request.Kind == 0 {
		return fmt.Errorf("request is required")
	}
	if len(s.Assertions) == 0 && s.Expect.Error == "" {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if _, err := merge.ParseSwapMode(s.SwapMode); err != nil {
		return err
	}
	switch fault.Kind(s.Expect.Error) {
	case "", fault.KindValidation, fault.KindNotFound, fault.KindOperation:
	default:
		return fmt.Errorf("expect.error: unknown kind %q", s.Expect.Error)
	}
	for i, f := range s.Faults {
		if !knownOps[memstore.Op(f.Op)] {
			return fmt.Errorf("faults[%d]: unknown op %q", i, f.Op)
		}
		if f.Message == "" {
			return fmt.Errorf("faults[%d]: message is required", i)
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertCollection:
		if a.Collection == "" || a.Docs.Kind == 0 {
			return fmt.Errorf("assertions[%d]: collection and docs are required for collection", index)
		}
	case AssertCollections:
		if a.Names == nil {
			return fmt.Errorf("assertions[%d]: names is required for collections", index)
		}
	case AssertIndexes:
		if a.Collection == "" || a.Names == nil {
			return fmt.Errorf("assertions[%d]: collection and names are required for indexes", index)
		}
	case AssertEvents:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for events", index)
		}
	case AssertCount:
		if a.Collection == "" || a.Count < 0 {
			return fmt.Errorf("assertions[%d]: collection and a non-negative count are required for count", index)
		}
	case AssertResult:
		if a.Renamed == nil && a.Defaulted == nil {
			return fmt.Errorf("assertions[%d]: renamed or defaulted is required for result", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
