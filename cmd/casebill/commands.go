package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"casefile_billing_go/handlers"
	"casefile_billing_go/models"
	"casefile_billing_go/services"
	"casefile_billing_go/services/jobs"

	"github.com/spf13/cobra"
)

// errValidationFailed makes the process exit non-zero after a failing
// validation report has been printed
var errValidationFailed = errors.New("validation failed")

func parseCaseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid case file id %q", arg)
	}
	return id, nil
}

// --- init ---

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the case file tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, closeDB, err := environment(true)
		if err != nil {
			return err
		}
		defer closeDB()

		printSuccess("Schema ready in %s", cfg.DBPath)
		return nil
	},
}

// --- health ---

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the database schema without changing it",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg, database, closeDB, err := environment(false)
		if err != nil {
			return err
		}
		defer closeDB()

		report := services.CheckHealth(database)
		out := cmd.OutOrStdout()
		if asJSON {
			if err := printJSON(out, report); err != nil {
				return err
			}
		} else {
			printStatus(out, "Database", "%s", cfg.DBPath)
			printStatus(out, "Connected", "%t", report.CanConnect)
			printStatus(out, "Tables", "%s", strings.Join(report.Tables, ", "))
			if len(report.MissingTables) > 0 {
				printStatus(out, "Missing", "%s", colorize(colorRed, strings.Join(report.MissingTables, ", ")))
			}
			for _, d := range report.Discrepancies {
				printStatus(out, d.Table, "%s: %s", d.Issue, strings.Join(d.Columns, ", "))
			}
			tables := make([]string, 0, len(report.RowCounts))
			for table := range report.RowCounts {
				tables = append(tables, table)
			}
			sort.Strings(tables)
			for _, table := range tables {
				printStatus(out, table, "%d rows", report.RowCounts[table])
			}
		}

		if !report.Healthy() {
			if report.Error != "" {
				return errors.New(report.Error)
			}
			return errors.New("schema is missing or differs; run casebill init")
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().Bool("json", false, "print the report as JSON")
}

// --- client ---

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Manage clients",
}

var clientAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a client",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		contact, _ := cmd.Flags().GetString("contact")

		_, database, closeDB, err := environment(true)
		if err != nil {
			return err
		}
		defer closeDB()

		client := &models.Client{ClientName: strings.Join(args, " ")}
		if contact != "" {
			client.ContactInfo = &contact
		}
		if err := services.NewStore(database).CreateClient(client); err != nil {
			return err
		}
		printSuccess("Added client %d (%s)", client.ClientID, client.ClientName)
		return nil
	},
}

var clientListCmd = &cobra.Command{
	Use:   "list",
	Short: "List clients",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, database, closeDB, err := environment(false)
		if err != nil {
			return err
		}
		defer closeDB()

		clients, err := services.NewStore(database).ListClients()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(clients) == 0 {
			fmt.Fprintln(out, "No clients found.")
			return nil
		}
		for _, c := range clients {
			fmt.Fprintf(out, "%s  %s  %s\n", colorize(colorCyan, fmt.Sprintf("%4d", c.ClientID)), c.ClientName, c.GetContactInfo())
		}
		return nil
	},
}

func init() {
	clientAddCmd.Flags().String("contact", "", "contact info")
	clientCmd.AddCommand(clientAddCmd)
	clientCmd.AddCommand(clientListCmd)
}

// --- case ---

var caseCmd = &cobra.Command{
	Use:   "case",
	Short: "Manage case files",
}

var caseCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Open a case file for a client",
	Long: `Open a case file for a client. The client is named by --client-id, or
by --client, which is created on first use.

Examples:
  casebill case create --client "Client Co" --name "Smith matter"
  casebill case create --client-id 3 --name "Appeal" --status pending`,
	RunE: func(cmd *cobra.Command, args []string) error {
		clientName, _ := cmd.Flags().GetString("client")
		clientID, _ := cmd.Flags().GetInt64("client-id")
		name, _ := cmd.Flags().GetString("name")
		status, _ := cmd.Flags().GetString("status")

		if clientName == "" && clientID == 0 {
			return fmt.Errorf("one of --client or --client-id is required")
		}

		_, database, closeDB, err := environment(true)
		if err != nil {
			return err
		}
		defer closeDB()

		caseFile := &models.CaseFile{CaseName: name, CaseStatus: status}
		err = services.NewStore(database).WithTx(func(tx *services.Store) error {
			if clientID != 0 {
				caseFile.ClientID = &clientID
			} else {
				client, created, err := tx.FindOrCreateClient(clientName, nil)
				if err != nil {
					return err
				}
				if created {
					printStep("Created client %d (%s)", client.ClientID, client.ClientName)
				}
				caseFile.ClientID = &client.ClientID
			}
			return tx.CreateCaseFile(caseFile)
		})
		if err != nil {
			return err
		}
		printSuccess("Opened case file %d (%s)", caseFile.CaseID, caseFile.CaseName)
		return nil
	},
}

var caseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List case files with entry counts and billed hours",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, database, closeDB, err := environment(false)
		if err != nil {
			return err
		}
		defer closeDB()

		summaries, err := services.NewStore(database).ListCaseFiles()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(summaries) == 0 {
			fmt.Fprintln(out, "No case files found.")
			return nil
		}
		for _, s := range summaries {
			client := colorize(colorRed, "(no client)")
			if s.ClientName != nil {
				client = *s.ClientName
			}
			fmt.Fprintf(out, "%s  %-8s  %-24s  %4d entries  %7.2fh  %s\n",
				colorize(colorCyan, fmt.Sprintf("%4d", s.CaseID)), s.CaseStatus, clip(client, 24),
				s.EntryCount, s.BilledHours, s.CaseName)
		}
		return nil
	},
}

var caseStatusCmd = &cobra.Command{
	Use:   "status <case-id> <status>",
	Short: "Set the status of a case file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		caseID, err := parseCaseID(args[0])
		if err != nil {
			return err
		}

		_, database, closeDB, err := environment(false)
		if err != nil {
			return err
		}
		defer closeDB()

		if err := services.NewStore(database).SetCaseStatus(caseID, args[1]); err != nil {
			return err
		}
		printSuccess("Case file %d is now %s", caseID, args[1])
		return nil
	},
}

var caseDeleteCmd = &cobra.Command{
	Use:   "delete <case-id>",
	Short: "Delete a case file with its entries and billing entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		caseID, err := parseCaseID(args[0])
		if err != nil {
			return err
		}
		if !yes {
			return fmt.Errorf("deleting case file %d removes all its entries; pass --yes to confirm", caseID)
		}

		cfg, database, closeDB, err := environment(false)
		if err != nil {
			return err
		}
		defer closeDB()

		if err := services.NewStore(database).DeleteCaseFile(caseID); err != nil {
			return err
		}
		printSuccess("Deleted case file %d", caseID)

		removed, err := services.PurgeCaseArchive(cmd.Context(), services.NewStorage(cfg), caseID)
		if err != nil {
			printWarning("some archived files of case file %d were not removed: %v", caseID, err)
		}
		if removed > 0 {
			printStep("Removed %d archived files", removed)
		}
		return nil
	},
}

func init() {
	caseCreateCmd.Flags().String("client", "", "client name (created if missing)")
	caseCreateCmd.Flags().Int64("client-id", 0, "existing client id")
	caseCreateCmd.Flags().String("name", "", "case name")
	caseCreateCmd.Flags().String("status", "", "case status (default open)")
	caseDeleteCmd.Flags().Bool("yes", false, "confirm deletion")

	caseCmd.AddCommand(caseCreateCmd)
	caseCmd.AddCommand(caseListCmd)
	caseCmd.AddCommand(caseStatusCmd)
	caseCmd.AddCommand(caseDeleteCmd)
}

// --- entries ---

var entriesCmd = &cobra.Command{
	Use:   "entries <case-id>",
	Short: "List the entries of a case file in date order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		caseID, err := parseCaseID(args[0])
		if err != nil {
			return err
		}

		_, database, closeDB, err := environment(false)
		if err != nil {
			return err
		}
		defer closeDB()

		store := services.NewStore(database)
		if _, err := store.GetCaseFile(caseID); err != nil {
			return err
		}
		entries, err := store.ListEntries(caseID)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			if entries == nil {
				entries = []models.CaseFileEntry{}
			}
			return printJSON(out, entries)
		}
		if len(entries) == 0 {
			fmt.Fprintln(out, "No entries found.")
			return nil
		}
		for _, e := range entries {
			date := "          "
			if e.Date != nil {
				date = e.Date.Format("2006-01-02")
			}
			hours := ""
			if e.BillingHrs != nil {
				hours = fmt.Sprintf("%.2fh", *e.BillingHrs)
			}
			fmt.Fprintf(out, "%s  %s  %-16s  %-60s  %s\n",
				colorize(colorCyan, fmt.Sprintf("%5d", e.EntryID)), date, e.Type, clip(e.Title, 60), hours)
		}
		return nil
	},
}

func init() {
	entriesCmd.Flags().Bool("json", false, "print entries as JSON")
}

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a spreadsheet or delimited log into a case file",
	Long: `Import a spreadsheet (.xlsx) or delimited text file (.tsv, .csv, .txt)
into a case file as one batch. Any bad row rolls the whole batch back.

Examples:
  casebill import log.tsv --case 1
  casebill import entries.xlsx --client "Client Co" --name "Smith matter"
  casebill import log.csv --case 1 --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		caseID, _ := cmd.Flags().GetInt64("case")
		clientName, _ := cmd.Flags().GetString("client")
		caseName, _ := cmd.Flags().GetString("name")
		sheet, _ := cmd.Flags().GetString("sheet")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		asJSON, _ := cmd.Flags().GetBool("json")

		if caseID == 0 && clientName == "" {
			return fmt.Errorf("one of --case or --client is required")
		}

		cfg, database, closeDB, err := environment(true)
		if err != nil {
			return err
		}
		defer closeDB()

		source, err := services.OpenSource(args[0], services.SourceOptions{Sheet: sheet, Delimiter: cfg.Delimiter()})
		if err != nil {
			return err
		}
		importer, err := services.NewImporter(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		printStep("Importing %s", source.Name())
		result, err := importer.Import(ctx, database, source, services.ImportOptions{
			CaseID:     caseID,
			ClientName: clientName,
			CaseName:   caseName,
			DryRun:     dryRun,
		})
		if err != nil {
			return fmt.Errorf("import failed, nothing was stored: %w", err)
		}

		out := cmd.OutOrStdout()
		if asJSON {
			if err := printJSON(out, result); err != nil {
				return err
			}
		} else {
			printStatus(out, "Batch", "%s", result.BatchID)
			printStatus(out, "Case file", "%d", result.CaseID)
			printStatus(out, "Rows read", "%d", result.RowsRead)
			printStatus(out, "Entries added", "%d", result.EntriesAdded)
			printStatus(out, "Billing entries", "%d", result.BillingAdded)
			printStatus(out, "Blank rows", "%d", result.Skipped)
		}
		for _, f := range result.Findings {
			printWarning("%s: %s", f.Check, f.Message)
		}

		if dryRun {
			printSuccess("Dry run complete, nothing was stored")
		} else {
			printSuccess("Imported %d entries into case file %d", result.EntriesAdded, result.CaseID)
		}
		return nil
	},
}

func init() {
	importCmd.Flags().Int64("case", 0, "case file id to import into")
	importCmd.Flags().String("client", "", "client name; opens a new case file when --case is not set")
	importCmd.Flags().String("name", "", "name of the new case file (default: file name)")
	importCmd.Flags().String("sheet", "", "workbook sheet (default: first sheet)")
	importCmd.Flags().Bool("dry-run", false, "validate the batch and roll it back")
	importCmd.Flags().Bool("json", false, "print the result as JSON")
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the store for integrity problems",
	Long: `Check the store for integrity problems. Exits non-zero when any error
finding is reported; warnings alone pass.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		caseID, _ := cmd.Flags().GetInt64("case")
		asJSON, _ := cmd.Flags().GetBool("json")
		notify, _ := cmd.Flags().GetBool("notify")

		cfg, database, closeDB, err := environment(false)
		if err != nil {
			return err
		}
		defer closeDB()

		deriver, err := services.NewDeriver(cfg)
		if err != nil {
			return err
		}
		var scope *int64
		if caseID != 0 {
			scope = &caseID
		}
		report, err := services.NewValidator(database, deriver).Validate(scope)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			if err := printJSON(out, report); err != nil {
				return err
			}
		} else {
			for _, f := range report.Findings {
				severity := colorize(colorYellow, f.Severity)
				if f.Severity == services.SeverityError {
					severity = colorize(colorRed, f.Severity)
				}
				fmt.Fprintf(out, "%-7s  %-20s  %s\n", severity, f.Check, f.Message)
			}
			fmt.Fprintln(out, report.Summary())
		}

		if notify && !report.Passed() {
			if err := services.NotifyValidationReport(cfg, report); err != nil {
				printWarning("notifying operator: %v", err)
			}
		}
		if !report.Passed() {
			return errValidationFailed
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().Int64("case", 0, "limit the checks to one case file")
	validateCmd.Flags().Bool("json", false, "print the report as JSON")
	validateCmd.Flags().Bool("notify", false, "email a failing report to OPERATOR_EMAIL")
}

// --- report ---

var reportCmd = &cobra.Command{
	Use:   "report <case-id>",
	Short: "Export the billing report of a case file",
	Long: `Export the billing report of a case file as JSON, CSV or XLSX.

Examples:
  casebill report 1
  casebill report 1 --format csv > billing.csv
  casebill report 1 --format xlsx --out billing.xlsx
  casebill report 1 --format xlsx --publish`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		outPath, _ := cmd.Flags().GetString("out")
		publish, _ := cmd.Flags().GetBool("publish")

		caseID, err := parseCaseID(args[0])
		if err != nil {
			return err
		}

		cfg, database, closeDB, err := environment(false)
		if err != nil {
			return err
		}
		defer closeDB()

		report, err := services.BuildBillingReport(database, caseID)
		if err != nil {
			return err
		}

		if publish {
			stored, err := services.PublishReport(cmd.Context(), services.NewStorage(cfg), report, format)
			if err != nil {
				return err
			}
			printSuccess("Stored billing report at %s", stored.Key)
			return nil
		}

		data, _, err := services.ExportBillingReport(report, format)
		if err != nil {
			return err
		}
		if outPath == "" {
			if strings.EqualFold(format, services.ReportFormatXLSX) {
				return fmt.Errorf("--out is required for xlsx reports")
			}
			_, err := cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(outPath, data, 0644); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		printSuccess("Wrote %d billing lines (%.2fh) to %s", len(report.Lines), report.TotalHours, outPath)
		return nil
	},
}

func init() {
	reportCmd.Flags().String("format", services.ReportFormatJSON, "json, csv or xlsx")
	reportCmd.Flags().String("out", "", "write to a file instead of stdout")
	reportCmd.Flags().Bool("publish", false, "upload the report to storage")
}

// --- archive ---

var archiveCmd = &cobra.Command{
	Use:   "archive <case-id> [name]",
	Short: "List or fetch the archived imports and reports of a case file",
	Long: `List the files archived for a case file, or copy one of them out.

Examples:
  casebill archive 1
  casebill archive 1 imports/3f2c..._1704445200.tsv --out log.tsv`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		outPath, _ := cmd.Flags().GetString("out")
		caseID, err := parseCaseID(args[0])
		if err != nil {
			return err
		}

		cfg, database, closeDB, err := environment(false)
		if err != nil {
			return err
		}
		defer closeDB()

		if _, err := services.NewStore(database).GetCaseFile(caseID); err != nil {
			return err
		}
		storage := services.NewStorage(cfg)

		if len(args) == 1 {
			objects, err := services.ListCaseArchive(cmd.Context(), storage, caseID)
			if err != nil {
				return err
			}
			if len(objects) == 0 {
				printStep("No archived files for case file %d", caseID)
				return nil
			}
			for _, obj := range objects {
				fmt.Fprintln(cmd.OutOrStdout(), obj.Name)
			}
			return nil
		}

		key, err := services.CaseArchiveKey(caseID, args[1])
		if err != nil {
			return err
		}
		reader, _, err := storage.Get(cmd.Context(), key)
		if err != nil {
			return err
		}
		defer reader.Close()

		if outPath == "" {
			_, err := io.Copy(cmd.OutOrStdout(), reader)
			return err
		}
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("creating %s: %w", outPath, err)
		}
		defer f.Close()
		if _, err := io.Copy(f, reader); err != nil {
			return fmt.Errorf("writing %s: %w", outPath, err)
		}
		printSuccess("Wrote %s to %s", args[1], outPath)
		return nil
	},
}

func init() {
	archiveCmd.Flags().String("out", "", "write the file here instead of stdout")
}

// --- serve ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON API",
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")
		schedule, _ := cmd.Flags().GetBool("schedule")

		cfg, database, closeDB, err := environment(true)
		if err != nil {
			return err
		}
		defer closeDB()
		if port == "" {
			port = cfg.ServerPort
		}

		api, err := handlers.NewAPI(database, cfg, services.NewStorage(cfg))
		if err != nil {
			return err
		}
		e := handlers.NewServer(api)

		if schedule {
			c, err := jobs.StartScheduler(database, cfg)
			if err != nil {
				return err
			}
			defer c.Stop()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// Start server in a goroutine.
		errCh := make(chan error, 1)
		go func() {
			printStep("Listening on :%s", port)
			if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
			printStep("Shutting down...")
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().String("port", "", "listen port (default SERVER_PORT)")
	serveCmd.Flags().Bool("schedule", false, "also run the scheduled validation job")
}

// --- schedule ---

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the validation job on VALIDATION_SCHEDULE",
	RunE: func(cmd *cobra.Command, args []string) error {
		once, _ := cmd.Flags().GetBool("once")

		cfg, database, closeDB, err := environment(false)
		if err != nil {
			return err
		}
		defer closeDB()

		if once {
			report, err := jobs.RunValidationJob(database, cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Summary())
			if !report.Passed() {
				return errValidationFailed
			}
			return nil
		}

		c, err := jobs.StartScheduler(database, cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		printStep("Validation scheduled (%s); press Ctrl+C to stop", cfg.ValidationSchedule)
		<-ctx.Done()

		<-c.Stop().Done()
		printStep("Scheduler stopped")
		return nil
	},
}

func init() {
	scheduleCmd.Flags().Bool("once", false, "run the validation job now and exit")
}
