package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"billing-engine/internal/app"
	"billing-engine/internal/assist"
	"billing-engine/internal/core"
	"billing-engine/internal/db"
	"billing-engine/internal/delivery"
	"billing-engine/internal/einvoice"
	"billing-engine/internal/storage"
)

func main() {
	_ = godotenv.Load()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	ctx := context.Background()

	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to connect to database")
	}
	defer pool.Close()
	store := storage.NewPostgresStore(pool)

	calc := core.NewVATCalculator()
	alloc := core.NewSerialAllocator(core.TenantAbbreviation)
	invoices := core.NewInvoiceService(store, calc, alloc, numberingFromEnv())
	reporting := core.NewReportingService(store)

	renderer, err := delivery.NewHTMLRenderer()
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load document templates")
	}

	var deliverySvc *delivery.Service
	if host := os.Getenv("SMTP_HOST"); host != "" {
		port, err := strconv.Atoi(envDefault("SMTP_PORT", "587"))
		if err != nil {
			log.Fatal().Err(err).Msg("invalid SMTP_PORT")
		}
		sender := delivery.NewSMTPSender(delivery.SMTPConfig{
			Host:     host,
			Port:     port,
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("SMTP_FROM"),
		})
		deliverySvc = delivery.NewService(invoices, renderer, einvoice.DefaultRegistry(), sender, log)
	}

	var agent assist.AgentService
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		agent = assist.NewAgent(apiKey)
	} else {
		log.Warn().Msg("OPENAI_API_KEY is not set, AI drafting disabled")
	}

	svc := app.NewAppService(invoices, reporting, calc, einvoice.DefaultRegistry(), renderer, deliverySvc, agent)

	tenantID := os.Getenv("TENANT_ID")

	if len(os.Args) > 1 {
		if err := dispatch(ctx, svc, tenantID, os.Args[1], os.Args[2:]); err != nil {
			log.Fatal().Err(err).Str("command", os.Args[1]).Msg("command failed")
		}
		return
	}
	runREPL(ctx, svc, tenantID)
}

func numberingFromEnv() core.NumberingConfig {
	return core.NumberingConfig{
		InvoicePattern:    os.Getenv("INVOICE_PATTERN"),
		CreditNotePattern: os.Getenv("CREDIT_NOTE_PATTERN"),
	}
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("TENANT_ID environment variable not set")
	}
	return nil
}

func dispatch(ctx context.Context, svc app.ApplicationService, tenantID, cmd string, args []string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	switch cmd {
	case "create":
		var req app.CreateInvoiceRequest
		if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
			return fmt.Errorf("invalid JSON on stdin: %w", err)
		}
		req.TenantID = tenantID
		res, err := svc.CreateInvoice(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(res.Invoice)

	case "get":
		if len(args) < 1 {
			return fmt.Errorf("usage: app get <id-or-number>")
		}
		res, err := svc.GetInvoice(ctx, tenantID, args[0])
		if err != nil {
			return err
		}
		return printJSON(res.Invoice)

	case "list":
		var filter core.InvoiceFilter
		if len(args) > 0 {
			status := core.InvoiceStatus(args[0])
			filter.Status = &status
		}
		res, err := svc.ListInvoices(ctx, tenantID, filter)
		if err != nil {
			return err
		}
		printInvoiceTable(res.Invoices)
		return nil

	case "mark-sent":
		if len(args) < 1 {
			return fmt.Errorf("usage: app mark-sent <id-or-number>")
		}
		res, err := svc.MarkAsSent(ctx, tenantID, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s is now %s\n", res.Invoice.Number, res.Invoice.Status)
		return nil

	case "pay":
		if len(args) < 3 {
			return fmt.Errorf("usage: app pay <id-or-number> <amount> <method>")
		}
		amount, err := decimal.NewFromString(args[1])
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", args[1], err)
		}
		res, err := svc.RecordPayment(ctx, tenantID, args[0], app.PaymentRequest{
			Amount: amount,
			Date:   time.Now().UTC(),
			Method: args[2],
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s is now %s, paid %s of %s\n", res.Invoice.Number, res.Invoice.Status,
			res.Invoice.PaidToDate().StringFixed(2), res.Invoice.Breakdown.NetToPay.StringFixed(2))
		if res.Invoice.Overpaid {
			fmt.Println("WARNING: invoice is overpaid")
		}
		return nil

	case "credit-note":
		if len(args) < 2 {
			return fmt.Errorf("usage: app credit-note <id-or-number> \"<reason>\"")
		}
		res, err := svc.CreateCreditNote(ctx, app.CreditNoteRequest{
			TenantID:  tenantID,
			Ref:       args[0],
			Reason:    args[1],
			IssueDate: time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		return printJSON(res.Invoice)

	case "cancel":
		if len(args) < 2 {
			return fmt.Errorf("usage: app cancel <id-or-number> \"<reason>\"")
		}
		res, err := svc.CancelInvoice(ctx, tenantID, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("%s canceled\n", res.Invoice.Number)
		return nil

	case "einvoice":
		if len(args) < 2 {
			return fmt.Errorf("usage: app einvoice <id-or-number> <%s>", standardsList(svc))
		}
		artifact, err := svc.GenerateEInvoice(ctx, tenantID, args[0], einvoice.Standard(args[1]))
		if err != nil {
			return err
		}
		if err := os.WriteFile(artifact.Filename, artifact.Data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", artifact.Filename, err)
		}
		fmt.Printf("wrote %s (sha256 %s)\n", artifact.Filename, artifact.Hash)
		return nil

	case "render":
		if len(args) < 1 {
			return fmt.Errorf("usage: app render <id-or-number> [language]")
		}
		language := ""
		if len(args) > 1 {
			language = args[1]
		}
		doc, err := svc.RenderDocument(ctx, tenantID, args[0], language)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(doc)
		return err

	case "send":
		if len(args) < 1 {
			return fmt.Errorf("usage: app send <id-or-number> [standard...]")
		}
		opts := delivery.Options{MarkSent: true}
		for _, s := range args[1:] {
			opts.Standards = append(opts.Standards, einvoice.Standard(s))
		}
		ack, err := svc.SendInvoice(ctx, tenantID, args[0], opts)
		if err != nil {
			return err
		}
		fmt.Printf("delivered, message id %s\n", ack.MessageID)
		return nil

	case "vat-report":
		from, to, err := parsePeriod(args)
		if err != nil {
			return err
		}
		report, err := svc.VATReport(ctx, tenantID, from, to)
		if err != nil {
			return err
		}
		printVATReport(report)
		return nil

	case "revenue":
		from, to, err := parsePeriod(args)
		if err != nil {
			return err
		}
		res, err := svc.RevenueByCustomer(ctx, tenantID, from, to)
		if err != nil {
			return err
		}
		fmt.Printf("%-30s %10s %12s\n", "CUSTOMER", "DOCUMENTS", "TOTAL")
		for _, c := range res.Customers {
			fmt.Printf("%-30s %10d %12s\n", c.CustomerName, c.Documents, c.Total.StringFixed(2))
		}
		return nil

	case "outstanding":
		asOf := time.Now().UTC()
		if len(args) > 0 {
			var err error
			if asOf, err = time.Parse("2006-01-02", args[0]); err != nil {
				return fmt.Errorf("invalid as-of date %q: %w", args[0], err)
			}
		}
		report, err := svc.OutstandingReport(ctx, tenantID, asOf)
		if err != nil {
			return err
		}
		fmt.Printf("%-20s %-25s %12s %8s\n", "NUMBER", "CUSTOMER", "OUTSTANDING", "OVERDUE")
		for _, e := range report.Entries {
			overdue := ""
			if e.Overdue {
				overdue = "yes"
			}
			fmt.Printf("%-20s %-25s %12s %8s\n", e.Number, e.CustomerName, e.Outstanding.StringFixed(2), overdue)
		}
		fmt.Printf("total outstanding: %s (%d overdue)\n", report.TotalOutstanding.StringFixed(2), report.OverdueCount)
		return nil

	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func standardsList(svc app.ApplicationService) string {
	var names []string
	for _, s := range svc.Standards() {
		names = append(names, string(s))
	}
	return strings.Join(names, "|")
}

func parsePeriod(args []string) (time.Time, time.Time, error) {
	if len(args) < 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("usage: app <command> <from> <to> (YYYY-MM-DD)")
	}
	from, err := time.Parse("2006-01-02", args[0])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid from date %q: %w", args[0], err)
	}
	to, err := time.Parse("2006-01-02", args[1])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid to date %q: %w", args[1], err)
	}
	return from, to, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printInvoiceTable(invoices []core.Invoice) {
	fmt.Printf("%-20s %-12s %-16s %-25s %12s\n", "NUMBER", "TYPE", "STATUS", "CUSTOMER", "TOTAL")
	fmt.Println(strings.Repeat("-", 90))
	for _, inv := range invoices {
		fmt.Printf("%-20s %-12s %-16s %-25s %12s\n",
			inv.Number, inv.Type, inv.Status, inv.Customer.Name, inv.Breakdown.Total.StringFixed(2))
	}
}

func printVATReport(report *core.VATReport) {
	fmt.Printf("VAT report %s to %s (%d documents)\n",
		report.From.Format("2006-01-02"), report.To.Format("2006-01-02"), report.DocumentCount)
	fmt.Printf("%8s %14s %12s\n", "RATE", "TAXABLE", "VAT")
	for _, l := range report.Lines {
		fmt.Printf("%7s%% %14s %12s\n", l.Rate.StringFixed(0), l.Taxable.StringFixed(2), l.VAT.StringFixed(2))
	}
	fmt.Printf("total taxable %s, total VAT %s\n",
		report.TotalTaxable.StringFixed(2), report.TotalVAT.StringFixed(2))
	if !report.SplitPaymentVAT.IsZero() {
		fmt.Printf("split payment VAT (due by customer): %s\n", report.SplitPaymentVAT.StringFixed(2))
	}
	if !report.RetentionTotal.IsZero() {
		fmt.Printf("withholding retained: %s\n", report.RetentionTotal.StringFixed(2))
	}
}

func runREPL(ctx context.Context, svc app.ApplicationService, tenantID string) {
	reader := bufio.NewReader(os.Stdin)
	fmt.Println("Invoice Drafting REPL")
	fmt.Println("Describe the work to invoice, or type 'list', 'help', 'exit'.")
	fmt.Println("-----------------------")

	priceList := os.Getenv("PRICE_LIST")

	for {
		fmt.Print("\n> ")
		input, _ := reader.ReadString('\n')
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		switch strings.ToLower(input) {
		case "exit", "quit":
			return
		case "help":
			fmt.Println("Type a natural language description to draft an invoice.")
			fmt.Println("Commands: list, help, exit, quit")
			continue
		case "list":
			if err := requireTenant(tenantID); err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			res, err := svc.ListInvoices(ctx, tenantID, core.InvoiceFilter{})
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			printInvoiceTable(res.Invoices)
			continue
		}

		fmt.Println("Thinking...")
		accumulated := input

		for {
			result, err := svc.DraftInvoice(ctx, accumulated, priceList)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				break
			}

			if result.IsClarification {
				fmt.Printf("\n[Clarification needed]: %s\n", result.ClarificationMessage)
				fmt.Print("Your response: ")
				followUp, _ := reader.ReadString('\n')
				followUp = strings.TrimSpace(followUp)
				if followUp == "" || strings.ToLower(followUp) == "cancel" {
					fmt.Println("Draft cancelled.")
					break
				}
				accumulated = fmt.Sprintf("Original request: %s\nClarification requested: %s\nUser provided: %s",
					accumulated, result.ClarificationMessage, followUp)
				fmt.Println("Thinking again...")
				continue
			}

			printDraft(result.Draft)
			if result.Draft.Confidence < 0.6 {
				fmt.Println("\nWARNING: low confidence draft.")
			}

			fmt.Print("\nCreate this invoice? (y/n): ")
			choice, _ := reader.ReadString('\n')
			choice = strings.TrimSpace(strings.ToLower(choice))
			if choice != "y" && choice != "yes" {
				fmt.Println("Draft discarded.")
				break
			}

			if err := commitDraft(ctx, svc, tenantID, result.Draft); err != nil {
				fmt.Printf("Invoice FAILED: %v\n", err)
			}
			break
		}
	}
}

func commitDraft(ctx context.Context, svc app.ApplicationService, tenantID string, draft *core.InvoiceDraft) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	issuer := issuerFromEnv()
	if issuer.Name == "" {
		fmt.Println("ISSUER_NAME is not set, printing the draft instead:")
		return printJSON(draft)
	}

	res, err := svc.CommitDraft(ctx, app.CommitDraftRequest{
		TenantID: tenantID,
		Draft:    *draft,
		Issuer:   issuer,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Invoice CREATED: %s, total %s %s\n",
		res.Invoice.Number, res.Invoice.Breakdown.Total.StringFixed(2), res.Invoice.Currency)
	return nil
}

func issuerFromEnv() core.Party {
	return core.Party{
		Name:  os.Getenv("ISSUER_NAME"),
		Email: os.Getenv("ISSUER_EMAIL"),
		Address: core.Address{
			Street:     os.Getenv("ISSUER_STREET"),
			City:       os.Getenv("ISSUER_CITY"),
			PostalCode: os.Getenv("ISSUER_POSTAL_CODE"),
			Country:    envDefault("ISSUER_COUNTRY", "IT"),
		},
		Tax: core.TaxInfo{
			VATNumber:    os.Getenv("ISSUER_VAT_NUMBER"),
			FiscalCode:   os.Getenv("ISSUER_FISCAL_CODE"),
			FiscalRegime: os.Getenv("ISSUER_FISCAL_REGIME"),
		},
	}
}

func printDraft(d *core.InvoiceDraft) {
	fmt.Printf("\nCUSTOMER:   %s\n", d.CustomerName)
	fmt.Printf("ISSUE DATE: %s\n", d.IssueDate)
	if d.DueDate != "" {
		fmt.Printf("DUE DATE:   %s\n", d.DueDate)
	}
	fmt.Printf("CURRENCY:   %s\n", d.Currency)
	fmt.Printf("SUMMARY:    %s\n", d.Summary)
	fmt.Printf("REASONING:  %s\n", d.Reasoning)
	fmt.Printf("CONFIDENCE: %.2f\n", d.Confidence)
	fmt.Println("LINES:")
	for _, l := range d.Lines {
		fmt.Printf("  %s x %s @ %s (VAT %s%%)\n", l.Quantity, l.Description, l.UnitPrice, l.VATRate)
	}
}
