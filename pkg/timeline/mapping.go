package timeline

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/fern/pkg/models"
)

//go:embed mapping.yaml
var defaultMapping []byte

// Mapping is the explicit source-category to event-type table
type Mapping struct {
	Transactions    map[string]models.EventType `yaml:"transactions"`
	FacilityEntries models.EventType            `yaml:"facility_entries"`
	MarketingSends  map[string]models.EventType `yaml:"marketing_sends"`
}

// LoadMapping reads a mapping file, or the built-in table when path is empty
func LoadMapping(path string) (*Mapping, error) {
	raw := defaultMapping
	if path != "" {
		var err error
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read event mapping %s: %w", path, err)
		}
	}
	return ParseMapping(raw)
}

// ParseMapping decodes and validates a mapping table
func ParseMapping(raw []byte) (*Mapping, error) {
	var m Mapping
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse event mapping: %w", err)
	}
	m.Transactions = foldKeys(m.Transactions)
	m.MarketingSends = foldKeys(m.MarketingSends)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate rejects empty tables and targets that are not known event types
func (m *Mapping) Validate() error {
	if len(m.Transactions) == 0 {
		return fmt.Errorf("event mapping has no transaction categories")
	}
	for category, target := range m.Transactions {
		if !slices.Contains(models.KnownEventTypes, target) {
			return fmt.Errorf("transaction category %q maps to unknown event type %q", category, target)
		}
	}
	if !slices.Contains(models.KnownEventTypes, m.FacilityEntries) {
		return fmt.Errorf("facility entries map to unknown event type %q", m.FacilityEntries)
	}
	for channel, target := range m.MarketingSends {
		if !slices.Contains(models.KnownEventTypes, target) {
			return fmt.Errorf("marketing channel %q maps to unknown event type %q", channel, target)
		}
	}
	return nil
}

// TransactionType maps a revenue category
func (m *Mapping) TransactionType(category string) (models.EventType, bool) {
	t, ok := m.Transactions[fold(category)]
	return t, ok
}

// SendType maps a marketing channel
func (m *Mapping) SendType(channel string) (models.EventType, bool) {
	t, ok := m.MarketingSends[fold(channel)]
	return t, ok
}

func fold(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func foldKeys(in map[string]models.EventType) map[string]models.EventType {
	out := make(map[string]models.EventType, len(in))
	for k, v := range in {
		out[fold(k)] = v
	}
	return out
}
