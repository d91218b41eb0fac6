package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"casefile_billing_go/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned by reads and updates of rows that do not exist
var ErrNotFound = errors.New("record not found")

// Store owns the four case file tables and enforces referential integrity
// at write time. Surrogate keys are always assigned by the database.
type Store struct {
	db *gorm.DB
}

// NewStore wraps a database handle
func NewStore(database *gorm.DB) *Store {
	return &Store{db: database}
}

// DB returns the underlying handle (transaction-scoped inside WithTx)
func (s *Store) DB() *gorm.DB {
	return s.db
}

// WithTx runs fn against a transaction-scoped store. Any error returned by
// fn rolls the transaction back.
func (s *Store) WithTx(fn func(tx *Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// CaseFileSummary is a case file row with its client name and counters
type CaseFileSummary struct {
	CaseID      int64   `json:"case_id"`
	CaseName    string  `json:"case_name"`
	CaseStatus  string  `json:"case_status"`
	ClientID    *int64  `json:"client_id,omitempty"`
	ClientName  *string `json:"client_name,omitempty"`
	EntryCount  int64   `json:"entry_count"`
	BilledHours float64 `json:"billed_hours"`
}

// --- clients ---

// CreateClient inserts a client and assigns its key
func (s *Store) CreateClient(c *models.Client) error {
	if c.ClientID != 0 {
		return &ConstraintError{Table: "clients", Field: "client_id", Reason: "key is assigned by the store"}
	}
	c.ClientName = strings.TrimSpace(c.ClientName)
	if c.ClientName == "" {
		return &ConstraintError{Table: "clients", Field: "client_name"}
	}
	if err := s.db.Create(c).Error; err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

// GetClient fetches a client by key
func (s *Store) GetClient(id int64) (*models.Client, error) {
	var c models.Client
	if err := s.db.First(&c, "client_id = ?", id).Error; err != nil {
		return nil, notFound(err, "client", id)
	}
	return &c, nil
}

// FindClientByName fetches the first client with the given name
func (s *Store) FindClientByName(name string) (*models.Client, error) {
	var c models.Client
	err := s.db.Where("client_name = ?", strings.TrimSpace(name)).Order("client_id").First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("client %q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find client: %w", err)
	}
	return &c, nil
}

// FindOrCreateClient returns the client with the given name, creating it on
// first reference. created reports whether a new row was inserted.
func (s *Store) FindOrCreateClient(name string, contactInfo *string) (client *models.Client, created bool, err error) {
	existing, err := s.FindClientByName(name)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	c := &models.Client{ClientName: name, ContactInfo: contactInfo}
	if err := s.CreateClient(c); err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// UpdateClient saves the name and contact info of an existing client
func (s *Store) UpdateClient(c *models.Client) error {
	c.ClientName = strings.TrimSpace(c.ClientName)
	if c.ClientName == "" {
		return &ConstraintError{Table: "clients", Field: "client_name"}
	}
	if _, err := s.GetClient(c.ClientID); err != nil {
		return err
	}
	err := s.db.Model(&models.Client{}).Where("client_id = ?", c.ClientID).
		Updates(map[string]interface{}{
			"client_name":  c.ClientName,
			"contact_info": c.ContactInfo,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}
	return nil
}

// ListClients returns all clients ordered by key
func (s *Store) ListClients() ([]models.Client, error) {
	var clients []models.Client
	if err := s.db.Order("client_id").Find(&clients).Error; err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	return clients, nil
}

// --- case files ---

// CreateCaseFile inserts a case file. The client may be left empty only
// while an import is still resolving it.
func (s *Store) CreateCaseFile(c *models.CaseFile) error {
	if c.CaseID != 0 {
		return &ConstraintError{Table: "case_files", Field: "case_id", Reason: "key is assigned by the store"}
	}
	if err := s.checkClientRef("case_files", c.ClientID); err != nil {
		return err
	}
	c.CaseName = strings.TrimSpace(c.CaseName)
	if c.CaseStatus == "" {
		c.CaseStatus = models.CaseStatusOpen
	}
	if err := s.db.Omit(clause.Associations).Create(c).Error; err != nil {
		return fmt.Errorf("failed to create case file: %w", err)
	}
	return nil
}

// GetCaseFile fetches a case file with its client
func (s *Store) GetCaseFile(id int64) (*models.CaseFile, error) {
	var c models.CaseFile
	if err := s.db.Preload("Client").First(&c, "case_id = ?", id).Error; err != nil {
		return nil, notFound(err, "case file", id)
	}
	return &c, nil
}

// UpdateCaseFile saves the name, status and client of an existing case file
func (s *Store) UpdateCaseFile(c *models.CaseFile) error {
	if err := s.requireCase("case_files", "case_id", c.CaseID); err != nil {
		return err
	}
	if err := s.checkClientRef("case_files", c.ClientID); err != nil {
		return err
	}
	err := s.db.Model(&models.CaseFile{}).Where("case_id = ?", c.CaseID).
		Updates(map[string]interface{}{
			"case_name":   strings.TrimSpace(c.CaseName),
			"case_status": c.CaseStatus,
			"client_id":   c.ClientID,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update case file: %w", err)
	}
	return nil
}

// AssignClient attaches a case file to a client
func (s *Store) AssignClient(caseID, clientID int64) error {
	if err := s.requireCase("case_files", "case_id", caseID); err != nil {
		return err
	}
	if err := s.checkClientRef("case_files", &clientID); err != nil {
		return err
	}
	err := s.db.Model(&models.CaseFile{}).Where("case_id = ?", caseID).Update("client_id", clientID).Error
	if err != nil {
		return fmt.Errorf("failed to assign client: %w", err)
	}
	return nil
}

// SetCaseStatus changes the status of a case file
func (s *Store) SetCaseStatus(caseID int64, status string) error {
	status = strings.TrimSpace(status)
	if status == "" {
		return &ConstraintError{Table: "case_files", Field: "case_status"}
	}
	if err := s.requireCase("case_files", "case_id", caseID); err != nil {
		return err
	}
	if err := s.db.Model(&models.CaseFile{}).Where("case_id = ?", caseID).Update("case_status", status).Error; err != nil {
		return fmt.Errorf("failed to update case status: %w", err)
	}
	return nil
}

// ListCaseFiles returns every case file with its client name, number of
// entries and billed hours
func (s *Store) ListCaseFiles() ([]CaseFileSummary, error) {
	var summaries []CaseFileSummary
	err := s.db.Raw(`
		SELECT cf.case_id, cf.case_name, cf.case_status, cf.client_id, c.client_name,
		       (SELECT COUNT(*) FROM case_file_entries e WHERE e.case_id = cf.case_id) AS entry_count,
		       (SELECT COALESCE(SUM(b.billing_hours), 0) FROM billing_entries b WHERE b.case_id = cf.case_id) AS billed_hours
		FROM case_files cf
		LEFT JOIN clients c ON cf.client_id = c.client_id
		ORDER BY cf.case_id
	`).Scan(&summaries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list case files: %w", err)
	}
	return summaries, nil
}

// DeleteCaseFile removes a case file together with the entries and
// billing entries it owns. Its client is kept.
func (s *Store) DeleteCaseFile(caseID int64) error {
	if err := s.requireCase("case_files", "case_id", caseID); err != nil {
		return err
	}
	return s.WithTx(func(tx *Store) error {
		if err := tx.db.Where("case_id = ?", caseID).Delete(&models.BillingEntry{}).Error; err != nil {
			return fmt.Errorf("failed to delete billing entries: %w", err)
		}
		if err := tx.db.Where("case_id = ?", caseID).Delete(&models.CaseFileEntry{}).Error; err != nil {
			return fmt.Errorf("failed to delete entries: %w", err)
		}
		if err := tx.db.Where("case_id = ?", caseID).Delete(&models.CaseFile{}).Error; err != nil {
			return fmt.Errorf("failed to delete case file: %w", err)
		}
		return nil
	})
}

// --- case file entries ---

// CreateEntry inserts a case file entry after checking its case exists and
// its billing window is ordered
func (s *Store) CreateEntry(e *models.CaseFileEntry) error {
	if e.EntryID != 0 {
		return &ConstraintError{Table: "case_file_entries", Field: "entry_id", Reason: "key is assigned by the store"}
	}
	if err := s.checkEntry(e); err != nil {
		return err
	}
	normalizeEntryTimes(e)
	if err := s.db.Omit(clause.Associations).Create(e).Error; err != nil {
		return fmt.Errorf("failed to create entry: %w", err)
	}
	return nil
}

// GetEntry fetches a case file entry by key
func (s *Store) GetEntry(id int64) (*models.CaseFileEntry, error) {
	var e models.CaseFileEntry
	if err := s.db.First(&e, "entry_id = ?", id).Error; err != nil {
		return nil, notFound(err, "entry", id)
	}
	return &e, nil
}

// UpdateEntry saves every field of an existing entry
func (s *Store) UpdateEntry(e *models.CaseFileEntry) error {
	if _, err := s.GetEntry(e.EntryID); err != nil {
		return err
	}
	if err := s.checkEntry(e); err != nil {
		return err
	}
	normalizeEntryTimes(e)
	if err := s.db.Model(e).Select("*").Omit(clause.Associations).Updates(e).Error; err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}
	return nil
}

// ListEntries returns the entries of a case ordered by date
func (s *Store) ListEntries(caseID int64) ([]models.CaseFileEntry, error) {
	var entries []models.CaseFileEntry
	if err := s.db.Where("case_id = ?", caseID).Order("date").Order("entry_id").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	return entries, nil
}

// --- billing entries ---

// CreateBillingEntry inserts a billing entry. When it references a source
// entry, that entry must belong to the same case.
func (s *Store) CreateBillingEntry(b *models.BillingEntry) error {
	if b.BillingID != 0 {
		return &ConstraintError{Table: "billing_entries", Field: "billing_id", Reason: "key is assigned by the store"}
	}
	if err := s.checkBillingEntry(b); err != nil {
		return err
	}
	normalizeBillingTimes(b)
	if err := s.db.Omit(clause.Associations).Create(b).Error; err != nil {
		return fmt.Errorf("failed to create billing entry: %w", err)
	}
	return nil
}

// GetBillingEntry fetches a billing entry by key
func (s *Store) GetBillingEntry(id int64) (*models.BillingEntry, error) {
	var b models.BillingEntry
	if err := s.db.First(&b, "billing_id = ?", id).Error; err != nil {
		return nil, notFound(err, "billing entry", id)
	}
	return &b, nil
}

// UpdateBillingEntry saves every field of an existing billing entry
func (s *Store) UpdateBillingEntry(b *models.BillingEntry) error {
	if _, err := s.GetBillingEntry(b.BillingID); err != nil {
		return err
	}
	if err := s.checkBillingEntry(b); err != nil {
		return err
	}
	normalizeBillingTimes(b)
	if err := s.db.Model(b).Select("*").Omit(clause.Associations).Updates(b).Error; err != nil {
		return fmt.Errorf("failed to update billing entry: %w", err)
	}
	return nil
}

// ListBillingEntries returns the billing entries of a case in key order
func (s *Store) ListBillingEntries(caseID int64) ([]models.BillingEntry, error) {
	var entries []models.BillingEntry
	if err := s.db.Where("case_id = ?", caseID).Order("billing_id").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list billing entries: %w", err)
	}
	return entries, nil
}

// --- checks ---

func (s *Store) checkEntry(e *models.CaseFileEntry) error {
	if e.CaseID == 0 {
		return &ConstraintError{Table: "case_file_entries", Field: "case_id"}
	}
	if err := s.requireCase("case_file_entries", "case_id", e.CaseID); err != nil {
		return err
	}
	if e.HasInvertedWindow() {
		return &ConstraintError{Table: "case_file_entries", Field: "billing_stop", Reason: "billing_stop is earlier than billing_start"}
	}
	return nil
}

func (s *Store) checkBillingEntry(b *models.BillingEntry) error {
	if b.CaseID == 0 {
		return &ConstraintError{Table: "billing_entries", Field: "case_id"}
	}
	if err := s.requireCase("billing_entries", "case_id", b.CaseID); err != nil {
		return err
	}
	if b.EntryID != nil {
		var entry models.CaseFileEntry
		err := s.db.Select("entry_id", "case_id").First(&entry, "entry_id = ?", *b.EntryID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &IntegrityError{Table: "billing_entries", Column: "entry_id", Key: *b.EntryID}
		}
		if err != nil {
			return fmt.Errorf("failed to check entry: %w", err)
		}
		if entry.CaseID != b.CaseID {
			return &IntegrityError{
				Table:  "billing_entries",
				Column: "entry_id",
				Key:    *b.EntryID,
				Reason: fmt.Sprintf("entry belongs to case %d, not case %d", entry.CaseID, b.CaseID),
			}
		}
	}
	if b.HasInvertedWindow() {
		return &ConstraintError{Table: "billing_entries", Field: "billing_stop", Reason: "billing_stop is earlier than billing_start"}
	}
	return nil
}

func (s *Store) requireCase(table, column string, caseID int64) error {
	var count int64
	if err := s.db.Model(&models.CaseFile{}).Where("case_id = ?", caseID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check case file: %w", err)
	}
	if count == 0 {
		return &IntegrityError{Table: table, Column: column, Key: caseID}
	}
	return nil
}

func (s *Store) checkClientRef(table string, clientID *int64) error {
	if clientID == nil {
		return nil
	}
	var count int64
	if err := s.db.Model(&models.Client{}).Where("client_id = ?", *clientID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check client: %w", err)
	}
	if count == 0 {
		return &IntegrityError{Table: table, Column: "client_id", Key: *clientID}
	}
	return nil
}

func notFound(err error, what string, id int64) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("failed to fetch %s %d: %w", what, id, err)
}

func normalizeEntryTimes(e *models.CaseFileEntry) {
	e.Date = utcPtr(e.Date)
	e.BillingStart = utcPtr(e.BillingStart)
	e.BillingStop = utcPtr(e.BillingStop)
}

func normalizeBillingTimes(b *models.BillingEntry) {
	b.BillingStart = utcPtr(b.BillingStart)
	b.BillingStop = utcPtr(b.BillingStop)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
