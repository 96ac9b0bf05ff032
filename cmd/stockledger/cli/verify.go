package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/odyssey-erp/stockledger/internal/ledger"
)

var timeNow = func() time.Time { return time.Now().UTC() }

// ChainVerifier is the ledger surface used by the verify command.
type ChainVerifier interface {
	Categories(ctx context.Context) ([]string, error)
	VerifyChain(ctx context.Context, categoryID string) (*ledger.ChainBreak, error)
}

// VerifyOptions defines available flags for the ledger verify command.
type VerifyOptions struct {
	CategoryID string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// VerifySummary describes the JSON response for ledger verify.
type VerifySummary struct {
	OK         bool                `json:"ok"`
	Categories int                 `json:"categories"`
	Breaks     []ledger.ChainBreak `json:"breaks"`
}

// VerifyCommand checks the running balances of one or all categories.
// It exits 10 when a break is found.
func VerifyCommand(ctx context.Context, verifier ChainVerifier, opts VerifyOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	categories := []string{opts.CategoryID}
	if opts.CategoryID == "" {
		var err error
		categories, err = verifier.Categories(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "ledger verify: %v\n", err)
			return 1
		}
	}
	summary := VerifySummary{Categories: len(categories), Breaks: []ledger.ChainBreak{}}
	for _, id := range categories {
		brk, err := verifier.VerifyChain(ctx, id)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "ledger verify: category %s: %v\n", id, err)
			return 1
		}
		if brk != nil {
			summary.Breaks = append(summary.Breaks, *brk)
		}
	}
	summary.OK = len(summary.Breaks) == 0

	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "ledger verify: encode json: %v\n", err)
			return 1
		}
	} else {
		_, _ = fmt.Fprintf(opts.Stdout, "checked %d categories\n", summary.Categories)
		for _, b := range summary.Breaks {
			_, _ = fmt.Fprintf(opts.Stdout, "BREAK %s at %s: quantity %d != %d, value %s != %s\n",
				b.CategoryID, b.EntryID, b.ActualQuantity, b.ExpectedQuantity, b.ActualValue, b.ExpectedValue)
		}
	}
	if !summary.OK {
		return 10
	}
	return 0
}
