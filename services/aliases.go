package services

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Canonical case_file_entries fields a source column can map to
const (
	FieldType         = "type"
	FieldDate         = "date"
	FieldTitle        = "title"
	FieldFromParty    = "from_party"
	FieldToParty      = "to_party"
	FieldCcParty      = "cc_party"
	FieldContent      = "content"
	FieldAttachments  = "attachments"
	FieldSynopsis     = "synopsis"
	FieldComments     = "comments"
	FieldBillingStart = "billing_start"
	FieldBillingStop  = "billing_stop"
	FieldBillingHrs   = "billing_hrs"
)

var defaultAliases = map[string][]string{
	FieldType:         {"type", "entry type", "kind"},
	FieldDate:         {"date", "entry date", "sent", "sent date", "when"},
	FieldTitle:        {"title", "subject", "heading"},
	FieldFromParty:    {"from", "from party", "sender", "author"},
	FieldToParty:      {"to", "to party", "recipient", "recipients"},
	FieldCcParty:      {"cc", "cc party", "copy", "copied"},
	FieldContent:      {"content", "body", "text", "message"},
	FieldAttachments:  {"attachments", "attachment", "files", "documents"},
	FieldSynopsis:     {"synopsis", "summary"},
	FieldComments:     {"comments", "comment", "notes", "note"},
	FieldBillingStart: {"billing start", "billing_start", "start", "start time", "time in"},
	FieldBillingStop:  {"billing stop", "billing_stop", "billing end", "stop", "end", "end time", "time out"},
	FieldBillingHrs:   {"billing hrs", "billing hours", "hours", "hrs", "duration"},
}

// AliasTable maps source column headers to canonical entry fields.
// Lookups ignore case, spaces, dashes and underscores.
type AliasTable struct {
	aliases map[string]string
}

// DefaultAliases returns the built-in alias table
func DefaultAliases() *AliasTable {
	table := &AliasTable{aliases: make(map[string]string)}
	for field, aliases := range defaultAliases {
		// Canonical names always resolve to themselves
		table.aliases[aliasKey(field)] = field
		for _, alias := range aliases {
			table.aliases[aliasKey(alias)] = field
		}
	}
	return table
}

// LoadAliasFile reads a YAML mapping of canonical field to aliases and
// layers it over the built-in table. An empty path returns the defaults.
//
//	from_party: [Sender, Author]
//	billing_start: ["Clock In"]
func LoadAliasFile(path string) (*AliasTable, error) {
	table := DefaultAliases()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read alias file: %w", err)
	}

	var extra map[string][]string
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return nil, fmt.Errorf("failed to parse alias file: %w", err)
	}

	// Apply in a stable order so a repeated alias always lands the same way
	fields := make([]string, 0, len(extra))
	for field := range extra {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		if err := table.Add(field, extra[field]...); err != nil {
			return nil, err
		}
	}
	return table, nil
}

// Add registers aliases for a canonical field, replacing earlier mappings
// of the same aliases
func (a *AliasTable) Add(field string, aliases ...string) error {
	if !IsCanonicalField(field) {
		return fmt.Errorf("unknown entry field %q in alias table", field)
	}
	for _, alias := range aliases {
		key := aliasKey(alias)
		if key == "" {
			continue
		}
		a.aliases[key] = field
	}
	return nil
}

// Resolve returns the canonical field for a column header
func (a *AliasTable) Resolve(column string) (string, bool) {
	field, ok := a.aliases[aliasKey(column)]
	return field, ok
}

// IsCanonicalField reports whether name is a mappable entry field
func IsCanonicalField(name string) bool {
	_, ok := defaultAliases[name]
	return ok
}

func aliasKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
