package services

import (
	"fmt"
	"html"
	"iter"
	"regexp"
	"strconv"
	"strings"
	"time"

	"casefile_billing_go/config"
	"casefile_billing_go/models"

	"github.com/microcosm-cc/bluemonday"
)

var (
	lineBreakTagRe  = regexp.MustCompile(`(?i)<br\s*/?>|</p\s*>|</div\s*>`)
	attachmentSplit = regexp.MustCompile(`[;,\n\r]+`)
)

// NormalizedRecord is a row mapped onto the case_file_entries schema
type NormalizedRecord struct {
	Line  int
	Entry models.CaseFileEntry
}

// Normalizer maps tabular rows with arbitrary headers onto case file
// entries. It never touches the database.
type Normalizer struct {
	Aliases   *AliasTable
	Dates     *DateParser
	Billing   *Deriver
	StripHTML bool

	policy *bluemonday.Policy
}

// NewNormalizer builds a normalizer from configuration
func NewNormalizer(cfg *config.Config) (*Normalizer, error) {
	aliases, err := LoadAliasFile(cfg.AliasFile)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	deriver, err := NewDeriver(cfg)
	if err != nil {
		return nil, err
	}
	return &Normalizer{
		Aliases:   aliases,
		Dates:     NewDateParser(loc, cfg.DateOrder),
		Billing:   deriver,
		StripHTML: cfg.StripHTML,
		policy:    bluemonday.StrictPolicy(),
	}, nil
}

// Records lazily normalizes every non-blank row of source. Each call reads
// the source afresh, so ranging twice over the same file yields the same
// records. A source error ends the sequence; row errors do not.
func (n *Normalizer) Records(source RowSource, caseID int64) iter.Seq2[NormalizedRecord, error] {
	return func(yield func(NormalizedRecord, error) bool) {
		for row, err := range source.Rows() {
			if err != nil {
				yield(NormalizedRecord{}, err)
				return
			}
			rec, err := n.Normalize(row, caseID)
			if err != nil {
				if !yield(NormalizedRecord{}, err) {
					return
				}
				continue
			}
			if rec == nil {
				continue
			}
			if !yield(*rec, nil) {
				return
			}
		}
	}
}

// Normalize maps one row onto an entry for caseID. Blank rows return nil
// without error. Errors are wrapped in a *RowError carrying the line.
func (n *Normalizer) Normalize(row Row, caseID int64) (*NormalizedRecord, error) {
	if row.IsBlank() {
		return nil, nil
	}

	fields := make(map[string]string)
	var extras []string
	for i, column := range row.Columns {
		if i >= len(row.Values) {
			break
		}
		value := strings.TrimSpace(row.Values[i])
		if value == "" {
			continue
		}
		field, ok := n.Aliases.Resolve(column)
		if !ok || fields[field] != "" {
			label := column
			if label == "" {
				label = fmt.Sprintf("Column %d", i+1)
			}
			extras = append(extras, label+": "+value)
			continue
		}
		fields[field] = value
	}

	entry := models.CaseFileEntry{
		CaseID:    caseID,
		Title:     fields[FieldTitle],
		FromParty: fields[FieldFromParty],
		ToParty:   fields[FieldToParty],
		CcParty:   fields[FieldCcParty],
		Content:   n.cleanText(fields[FieldContent]),
		Synopsis:  n.cleanText(fields[FieldSynopsis]),
		Comments:  joinComments(fields[FieldComments], extras),
	}

	var err error
	if entry.Date, err = n.parseWhen(row, FieldDate, fields[FieldDate], nil); err != nil {
		return nil, rowError(row.Line, err)
	}
	if entry.BillingStart, err = n.parseWhen(row, FieldBillingStart, fields[FieldBillingStart], entry.Date); err != nil {
		return nil, rowError(row.Line, err)
	}
	if entry.BillingStop, err = n.parseWhen(row, FieldBillingStop, fields[FieldBillingStop], entry.Date); err != nil {
		return nil, rowError(row.Line, err)
	}

	entry.SetAttachments(splitAttachments(fields[FieldAttachments]))

	if err := n.fillBillingHours(&entry, fields[FieldBillingHrs]); err != nil {
		return nil, rowError(row.Line, err)
	}

	entry.Type = inferType(fields[FieldType], &entry)

	return &NormalizedRecord{Line: row.Line, Entry: entry}, nil
}

func (n *Normalizer) parseWhen(row Row, field, value string, anchor *time.Time) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}

	var (
		t   time.Time
		err error
	)
	isBillingField := field == FieldBillingStart || field == FieldBillingStop
	switch {
	case row.Spreadsheet && IsSerial(value):
		t, err = n.Dates.ParseSerial(field, value, anchor)
	case isBillingField && IsClock(value):
		if anchor == nil {
			return nil, &DateParseError{Field: field, Value: value}
		}
		t, err = n.Dates.ParseClock(field, value, *anchor)
	default:
		t, err = n.Dates.ParseDate(field, value)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (n *Normalizer) fillBillingHours(entry *models.CaseFileEntry, value string) error {
	if value != "" {
		hours, err := strconv.ParseFloat(strings.TrimSuffix(strings.ToLower(value), "h"), 64)
		if err != nil {
			return &ConstraintError{Table: "case_file_entries", Field: FieldBillingHrs, Reason: fmt.Sprintf("%q is not a number", value)}
		}
		if hours < 0 {
			return &ConstraintError{Table: "case_file_entries", Field: FieldBillingHrs, Reason: "hours cannot be negative"}
		}
		entry.BillingHrs = &hours
	}

	// Inverted windows are left for the store to reject
	if !entry.HasBillingWindow() || entry.HasInvertedWindow() {
		return nil
	}

	if entry.BillingHrs == nil {
		hours := n.Billing.Hours(*entry.BillingStart, *entry.BillingStop).InexactFloat64()
		entry.BillingHrs = &hours
		return nil
	}
	if !n.Billing.Consistent(*entry.BillingHrs, *entry.BillingStart, *entry.BillingStop) {
		return &ConstraintError{
			Table:  "case_file_entries",
			Field:  FieldBillingHrs,
			Reason: fmt.Sprintf("%.2f hours does not match the billing window of %.2f hours", *entry.BillingHrs, entry.BillingDuration().Hours()),
		}
	}
	return nil
}

// cleanText removes markup from text pasted out of email clients
func (n *Normalizer) cleanText(s string) string {
	if !n.StripHTML || !strings.Contains(s, "<") || !strings.Contains(s, ">") {
		return s
	}
	policy := n.policy
	if policy == nil {
		policy = bluemonday.StrictPolicy()
	}
	s = lineBreakTagRe.ReplaceAllString(s, "\n")
	s = html.UnescapeString(policy.Sanitize(s))
	return strings.TrimSpace(s)
}

func inferType(explicit string, entry *models.CaseFileEntry) string {
	if t := strings.ToLower(strings.TrimSpace(explicit)); t != "" {
		return t
	}
	switch {
	case entry.HasBillingWindow():
		return models.EntryTypeBilling
	case entry.FromParty != "" || entry.ToParty != "":
		return models.EntryTypeEmail
	case entry.Attachments != "":
		return models.EntryTypeDocument
	default:
		return models.EntryTypeOther
	}
}

func splitAttachments(value string) []string {
	if value == "" {
		return nil
	}
	var refs []string
	for _, part := range attachmentSplit.Split(value, -1) {
		if ref := strings.TrimSpace(part); ref != "" {
			refs = append(refs, ref)
		}
	}
	return refs
}

func joinComments(comments string, extras []string) string {
	parts := make([]string, 0, len(extras)+1)
	if comments != "" {
		parts = append(parts, comments)
	}
	parts = append(parts, extras...)
	return strings.Join(parts, "\n")
}

func rowError(line int, err error) error {
	if dateErr, ok := err.(*DateParseError); ok && dateErr.Line == 0 {
		dateErr.Line = line
	}
	return &RowError{Line: line, Err: err}
}
