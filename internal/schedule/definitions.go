package schedule

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	yaml "go.yaml.in/yaml/v3"

	"schedd/internal/recurrence"
)

// Definition is the authored shape of an item as it appears in an items file:
//
//	items:
//	  - id: standup
//	    title: Team standup
//	    start: 2025-01-06T09:00:00
//	    recurrence:
//	      enabled: true
//	      freq: weekly
//	      interval: 2
//	      byweekday: [mo, we]
//	      until: 2025-06-30
type Definition struct {
	ID         string                `yaml:"id" json:"id"`
	Title      string                `yaml:"title" json:"title"`
	Status     string                `yaml:"status" json:"status"`
	Start      string                `yaml:"start" json:"start"`
	Recurrence *RecurrenceDefinition `yaml:"recurrence" json:"recurrence"`
}

type RecurrenceDefinition struct {
	Enabled   bool     `yaml:"enabled" json:"enabled"`
	Freq      string   `yaml:"freq" json:"freq"`
	Interval  int      `yaml:"interval" json:"interval"`
	ByWeekday []string `yaml:"byweekday" json:"byweekday"`
	Until     string   `yaml:"until" json:"until"`
}

type definitionFile struct {
	Items []Definition `yaml:"items"`
}

// LoadDefinitions reads and decodes an items file.
func LoadDefinitions(path string) ([]Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeDefinitions(path, data)
}

// DecodeDefinitions decodes a YAML or JSON items document. The document is
// either a list of definitions or a mapping with an "items" list. Unknown
// keys are rejected. Items without an id get one derived from their title and
// start, so importing the same file again updates rather than duplicates.
//
// Every definition is decoded; the returned error joins all failures.
func DecodeDefinitions(path string, data []byte) ([]Item, error) {
	defs, err := decodeDefinitionDoc(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	items := make([]Item, 0, len(defs))
	seen := make(map[string]int, len(defs))
	var errs []error
	for i, def := range defs {
		it, err := def.Item()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: items[%d]: %w", path, i, err))
			continue
		}
		if prev, dup := seen[it.ID]; dup {
			errs = append(errs, fmt.Errorf("%s: items[%d]: %w: duplicate id %q (first at items[%d])", path, i, ErrInvalidItem, it.ID, prev))
			continue
		}
		seen[it.ID] = i
		items = append(items, it)
	}
	return items, errors.Join(errs...)
}

func decodeDefinitionDoc(data []byte) ([]Definition, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	// YAML is a superset of JSON, so one decoder serves both formats.
	var node yaml.Node
	if err := yaml.Unmarshal(trimmed, &node); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	kind := node.Kind
	if kind == yaml.DocumentNode && len(node.Content) > 0 {
		kind = node.Content[0].Kind
	}

	strict := func(out any) error {
		d := yaml.NewDecoder(bytes.NewReader(trimmed))
		d.KnownFields(true)
		if err := d.Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("decode items: %w", err)
		}
		return nil
	}

	switch kind {
	case yaml.SequenceNode:
		var defs []Definition
		if err := strict(&defs); err != nil {
			return nil, err
		}
		return defs, nil
	case yaml.MappingNode:
		var f definitionFile
		if err := strict(&f); err != nil {
			return nil, err
		}
		return f.Items, nil
	default:
		return nil, fmt.Errorf("decode items: expected a list or an \"items\" mapping")
	}
}

var definitionNS = uuid.NewSHA1(uuid.NameSpaceURL, []byte("schedd:item"))

func (def Definition) derivedID() string {
	key := strings.TrimSpace(def.Title) + "\n" + strings.TrimSpace(def.Start)
	return uuid.NewSHA1(definitionNS, []byte(key)).String()
}

// Item converts the authored form into an Item and validates it.
func (def Definition) Item() (Item, error) {
	id := strings.TrimSpace(def.ID)
	if id == "" {
		id = def.derivedID()
	}
	status, err := ParseStatus(def.Status)
	if err != nil {
		return Item{}, err
	}
	it := Item{ID: id, Title: strings.TrimSpace(def.Title), Status: status}

	start, err := recurrence.ParseDateTime(def.Start)
	if err != nil {
		return Item{}, fmt.Errorf("%w: %s: start: %w", ErrInvalidItem, id, err)
	}

	if def.Recurrence == nil || !def.Recurrence.Enabled {
		it.SingleStart = start
		return it, nil
	}

	r := def.Recurrence
	freq, err := recurrence.ParseFrequency(r.Freq)
	if err != nil {
		return Item{}, fmt.Errorf("%w: %s: %w", ErrInvalidItem, id, err)
	}
	interval := r.Interval
	if interval == 0 {
		interval = 1
	}
	days, err := recurrence.ParseWeekdays(r.ByWeekday...)
	if err != nil {
		return Item{}, fmt.Errorf("%w: %s: %w", ErrInvalidItem, id, err)
	}
	spec := recurrence.Spec{Frequency: freq, Interval: interval, Start: start, ByWeekday: days}
	if strings.TrimSpace(r.Until) != "" {
		until, err := recurrence.ParseDate(r.Until)
		if err != nil {
			return Item{}, fmt.Errorf("%w: %s: until: %w", ErrInvalidItem, id, err)
		}
		spec.Until = until
	}
	if err := spec.Validate(); err != nil {
		return Item{}, fmt.Errorf("%w: %s: %w", ErrInvalidItem, id, err)
	}
	it.RecurrenceEnabled = true
	it.Recurrence = &spec
	return it, nil
}
