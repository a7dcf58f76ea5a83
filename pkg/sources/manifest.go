// Package sources reads the raw tabular extracts a run consumes.
package sources

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind names a raw extract table
type Kind string

const (
	KindCustomers       Kind = "customers"
	KindTransactions    Kind = "transactions"
	KindFacilityEntries Kind = "facility_entries"
	KindMemberships     Kind = "memberships"
	KindMarketingSends  Kind = "marketing_sends"
	KindCampaignOffers  Kind = "campaign_offers"
)

// Format is the on-disk encoding of an extract
type Format string

const (
	FormatCSV    Format = "csv"
	FormatNDJSON Format = "ndjson"
)

// Entry describes one raw extract file
type Entry struct {
	Kind         Kind   `yaml:"kind"`
	Path         string `yaml:"path"`
	Format       Format `yaml:"format"`
	SourceSystem string `yaml:"source_system"`
	// Columns overrides the default column for a field. For NDJSON the value is a JMESPath expression.
	Columns     map[string]string `yaml:"columns"`
	DateLayouts []string          `yaml:"date_layouts"`
	Timezone    string            `yaml:"timezone"`
}

// Manifest lists every extract loaded by a run
type Manifest struct {
	Timezone string  `yaml:"timezone"`
	Sources  []Entry `yaml:"sources"`
}

// LoadManifest reads a manifest file. Relative extract paths resolve against the manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	manifest, err := ParseManifest(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	base := filepath.Dir(path)
	for i := range manifest.Sources {
		if !filepath.IsAbs(manifest.Sources[i].Path) {
			manifest.Sources[i].Path = filepath.Join(base, manifest.Sources[i].Path)
		}
	}

	return manifest, nil
}

// ParseManifest decodes and validates manifest YAML
func ParseManifest(raw []byte) (*Manifest, error) {
	var manifest Manifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return nil, err
	}

	for i := range manifest.Sources {
		entry := &manifest.Sources[i]
		if entry.Format == "" {
			entry.Format = formatFromPath(entry.Path)
		}
		if entry.SourceSystem == "" {
			entry.SourceSystem = string(entry.Kind)
		}
	}

	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// Validate checks every entry names a known kind and format
func (m *Manifest) Validate() error {
	if len(m.Sources) == 0 {
		return fmt.Errorf("manifest lists no sources")
	}
	for i, entry := range m.Sources {
		if _, ok := defaultColumns[entry.Kind]; !ok {
			return fmt.Errorf("source %d: unknown kind %q", i, entry.Kind)
		}
		if entry.Path == "" {
			return fmt.Errorf("source %d (%s): path is required", i, entry.Kind)
		}
		if entry.Format != FormatCSV && entry.Format != FormatNDJSON {
			return fmt.Errorf("source %d (%s): unsupported format %q", i, entry.Kind, entry.Format)
		}
		for field := range entry.Columns {
			if _, ok := defaultColumns[entry.Kind][field]; !ok {
				return fmt.Errorf("source %d (%s): unknown field %q in columns", i, entry.Kind, field)
			}
		}
	}
	return nil
}

func formatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ndjson", ".jsonl", ".json":
		return FormatNDJSON
	default:
		return FormatCSV
	}
}

// column returns the column (or expression) a field is read from
func (e Entry) column(field string) string {
	if col, ok := e.Columns[field]; ok && col != "" {
		return col
	}
	return defaultColumns[e.Kind][field]
}

// defaultColumns maps each kind's fields to the column names of the usual extracts
var defaultColumns = map[Kind]map[string]string{
	KindCustomers: {
		"record_id":   "customer_id",
		"internal_id": "customer_id",
		"first_name":  "first_name",
		"last_name":   "last_name",
		"email":       "email",
		"phone":       "phone",
	},
	KindTransactions: {
		"record_id":      "transaction_id",
		"occurred_at":    "Date",
		"amount":         "Total Amount",
		"category":       "revenue_category",
		"description":    "Description",
		"customer_name":  "Name",
		"customer_email": "Email",
	},
	KindFacilityEntries: {
		"record_id":                "checkin_id",
		"internal_id":              "customer_id",
		"first_name":               "customer_first_name",
		"last_name":                "customer_last_name",
		"entered_at":               "checkin_datetime",
		"entry_method":             "entry_method",
		"entry_method_description": "entry_method_description",
		"location":                 "location",
		"association":              "association",
	},
	KindMemberships: {
		"membership_id":       "membership_id",
		"name":                "name",
		"size":                "size",
		"started_at":          "start_date",
		"member_internal_ids": "member_customer_ids",
	},
	KindMarketingSends: {
		"record_id":   "send_id",
		"campaign_id": "campaign_id",
		"template_id": "template_id",
		"channel":     "channel",
		"recipient":   "recipient",
		"sent_at":     "sent_at",
	},
	KindCampaignOffers: {
		"campaign_id":       "campaign_id",
		"template_id":       "template_id",
		"offer_code":        "offer_code",
		"offer_description": "offer_description",
		"discount":          "discount",
	},
}
