package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"billing-engine/internal/assist"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load() // Load .env if present

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		log.Fatal("OPENAI_API_KEY not set")
	}

	agent := assist.NewAgent(apiKey)
	ctx := context.Background()

	priceList := `
- Senior consulting day: 800.00 EUR, VAT 22%
- Junior consulting day: 500.00 EUR, VAT 22%
- Travel expenses: at cost, VAT 22%
`

	request := "Invoice ACME for 3 senior consulting days in March plus 120 euro of travel."

	fmt.Printf("DRAFTING: %s\n", request)
	resp, err := agent.DraftInvoice(ctx, request, priceList)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	if resp.IsClarificationRequest {
		fmt.Printf("\n--- CLARIFICATION ---\n%s\n", resp.Clarification.Message)
		return
	}

	draft := resp.Draft
	fmt.Printf("\n--- DRAFT ---\n")
	fmt.Printf("Customer:   %s\n", draft.CustomerName)
	fmt.Printf("Issue date: %s\n", draft.IssueDate)
	fmt.Printf("Confidence: %.2f\n", draft.Confidence)
	fmt.Printf("Reasoning:  %s\n", draft.Reasoning)

	fmt.Printf("\nLines:\n")
	for _, line := range draft.Lines {
		fmt.Printf("- %s x %s @ %s, VAT %s%%\n", line.Quantity, line.Description, line.UnitPrice, line.VATRate)
	}
}
