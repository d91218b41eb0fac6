package jobs

import (
	"fmt"
	"log"

	"casefile_billing_go/config"
	"casefile_billing_go/services"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// notify sends a failing validation report to the operator
var notify = services.NotifyValidationReport

// StartScheduler starts the validation job on VALIDATION_SCHEDULE in the
// configured timezone. The caller stops the returned cron.
func StartScheduler(database *gorm.DB, cfg *config.Config) (*cron.Cron, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	c := cron.New(cron.WithLocation(loc))

	_, err = c.AddFunc(cfg.ValidationSchedule, func() {
		log.Println("[CRON] Running scheduled validation...")
		if _, err := RunValidationJob(database, cfg); err != nil {
			log.Printf("[CRON] Validation job failed: %v", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule validation %q: %w", cfg.ValidationSchedule, err)
	}

	c.Start()
	log.Printf("[CRON] Scheduler started (validation: %s, %s)", cfg.ValidationSchedule, loc)
	return c, nil
}

// RunValidationJob validates every case file and notifies the operator
// when the run fails. A notification error is logged, not returned.
func RunValidationJob(database *gorm.DB, cfg *config.Config) (*services.Report, error) {
	deriver, err := services.NewDeriver(cfg)
	if err != nil {
		return nil, err
	}

	report, err := services.NewValidator(database, deriver).Validate(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to validate case files: %w", err)
	}

	log.Printf("[JOB] %s", report.Summary())
	if report.Passed() {
		return report, nil
	}

	if err := notify(cfg, report); err != nil {
		log.Printf("[JOB] Error notifying operator: %v", err)
	}
	return report, nil
}
