package services

import (
	"fmt"
	"strings"
	"time"

	"casefile_billing_go/config"
	"casefile_billing_go/models"

	"github.com/shopspring/decimal"
)

var (
	secondsPerHour = decimal.NewFromInt(3600)
	minTolerance   = decimal.RequireFromString("0.01")
)

// Deriver turns billing windows on case file entries into billing entries
type Deriver struct {
	Increment decimal.Decimal // billable unit in hours
	Mode      string          // config.RoundingNearest, RoundingUp or RoundingDown
	Category  string          // overrides the derived category when set

	// Known vocabularies. Unknown values are accepted; the validator warns.
	EntryTypes []string
	Categories []string
}

// DefaultDeriver bills in tenths of an hour rounded to the nearest tenth
func DefaultDeriver() *Deriver {
	return &Deriver{
		Increment:  decimal.RequireFromString("0.1"),
		Mode:       config.RoundingNearest,
		EntryTypes: models.EntryTypes,
		Categories: models.BillingCategories,
	}
}

// NewDeriver builds a deriver from the billing settings in cfg
func NewDeriver(cfg *config.Config) (*Deriver, error) {
	inc, err := decimal.NewFromString(cfg.BillingIncrement)
	if err != nil || !inc.IsPositive() {
		return nil, fmt.Errorf("invalid billing increment %q", cfg.BillingIncrement)
	}
	mode := cfg.BillingRounding
	if mode == "" {
		mode = config.RoundingNearest
	}
	d := &Deriver{Increment: inc, Mode: mode, EntryTypes: cfg.EntryTypes, Categories: cfg.BillingCategories}
	if len(d.EntryTypes) == 0 {
		d.EntryTypes = models.EntryTypes
	}
	if len(d.Categories) == 0 {
		d.Categories = models.BillingCategories
	}
	return d, nil
}

// KnownType reports whether an entry type is in the known list
func (d *Deriver) KnownType(entryType string) bool {
	return containsFold(d.EntryTypes, entryType)
}

// KnownCategory reports whether a billing category is in the known list.
// Lines derived from other entry types carry the type as their category,
// so known types count as well.
func (d *Deriver) KnownCategory(category string) bool {
	return containsFold(d.Categories, category) || d.KnownType(category)
}

func containsFold(list []string, value string) bool {
	value = strings.TrimSpace(value)
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}

// Hours returns the elapsed time between start and stop in hours, rounded
// to the billing increment. An inverted window bills nothing.
func (d *Deriver) Hours(start, stop time.Time) decimal.Decimal {
	elapsed := stop.Sub(start)
	if elapsed <= 0 {
		return decimal.Zero
	}

	seconds := decimal.NewFromInt(int64(elapsed / time.Second))
	units := seconds.Div(d.Increment.Mul(secondsPerHour))
	switch d.Mode {
	case config.RoundingUp:
		units = units.Ceil()
	case config.RoundingDown:
		units = units.Floor()
	default:
		// Round is half away from zero, which is half-up for durations
		units = units.Round(0)
	}
	return units.Mul(d.Increment)
}

// Tolerance is the largest accepted gap between recorded hours and the
// elapsed window, never below 0.01h. Nearest rounding allows half an
// increment either way; up and down allow a full increment on the side
// they round to.
func (d *Deriver) Tolerance() decimal.Decimal {
	switch d.Mode {
	case config.RoundingUp, config.RoundingDown:
		return decimal.Max(d.Increment, minTolerance)
	}
	return decimal.Max(d.Increment.Div(decimal.NewFromInt(2)), minTolerance)
}

// Consistent reports whether recorded hours agree with a billing window.
// The deriver's own rounding of the window always agrees.
func (d *Deriver) Consistent(hours float64, start, stop time.Time) bool {
	recorded := decimal.NewFromFloat(hours)
	if recorded.Equal(d.Hours(start, stop)) {
		return true
	}

	exact := decimal.NewFromInt(int64(stop.Sub(start) / time.Second)).Div(secondsPerHour)
	gap := recorded.Sub(exact)
	switch d.Mode {
	case config.RoundingUp:
		return gap.GreaterThanOrEqual(minTolerance.Neg()) && gap.LessThanOrEqual(d.Tolerance())
	case config.RoundingDown:
		return gap.LessThanOrEqual(minTolerance) && gap.Neg().LessThanOrEqual(d.Tolerance())
	}
	return gap.Abs().LessThanOrEqual(d.Tolerance())
}

// Derive builds the billing entry for an entry with a complete billing
// window. ok is false when the entry is not billable.
func (d *Deriver) Derive(entry *models.CaseFileEntry) (billing *models.BillingEntry, ok bool) {
	if !entry.HasBillingWindow() || entry.HasInvertedWindow() {
		return nil, false
	}

	start, stop := *entry.BillingStart, *entry.BillingStop
	var entryID *int64
	if entry.EntryID != 0 {
		id := entry.EntryID
		entryID = &id
	}

	return &models.BillingEntry{
		CaseID:             entry.CaseID,
		EntryID:            entryID,
		BillingCategory:    d.category(entry),
		BillingStart:       &start,
		BillingStop:        &stop,
		BillingHours:       d.Hours(start, stop).InexactFloat64(),
		BillingDescription: describe(entry),
	}, true
}

// DeriveAndStore writes the billing entry for a stored entry. It returns
// nil without error when the entry is not billable.
func (d *Deriver) DeriveAndStore(store *Store, entry *models.CaseFileEntry) (*models.BillingEntry, error) {
	if entry.EntryID == 0 {
		return nil, fmt.Errorf("entry must be stored before billing is derived")
	}
	billing, ok := d.Derive(entry)
	if !ok {
		return nil, nil
	}
	if err := store.CreateBillingEntry(billing); err != nil {
		return nil, err
	}
	return billing, nil
}

func (d *Deriver) category(entry *models.CaseFileEntry) string {
	if d.Category != "" {
		return d.Category
	}
	if strings.EqualFold(entry.Type, models.EntryTypeBilling) {
		title := strings.TrimSpace(entry.Title)
		if _, after, found := strings.Cut(title, ":"); found {
			return strings.TrimSpace(after)
		}
		if title != "" {
			return title
		}
	}
	return entry.Type
}

func describe(entry *models.CaseFileEntry) string {
	for _, text := range []string{entry.Content, entry.Synopsis, entry.Title} {
		if s := strings.TrimSpace(text); s != "" {
			return s
		}
	}
	return ""
}
