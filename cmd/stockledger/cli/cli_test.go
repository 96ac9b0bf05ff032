package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/jobs"
)

type stubVerifier struct {
	categories []string
	breaks     map[string]*ledger.ChainBreak
	err        error
}

func (s stubVerifier) Categories(context.Context) ([]string, error) { return s.categories, s.err }

func (s stubVerifier) VerifyChain(_ context.Context, id string) (*ledger.ChainBreak, error) {
	return s.breaks[id], nil
}

func TestVerifyCommandJSON(t *testing.T) {
	verifier := stubVerifier{
		categories: []string{"CAT-AV", "CAT-LAB"},
		breaks: map[string]*ledger.ChainBreak{
			"CAT-AV": {CategoryID: "CAT-AV", EntryID: "GL-000003", ExpectedQuantity: 2, ActualQuantity: 1,
				ExpectedValue: decimal.NewFromInt(200), ActualValue: decimal.NewFromInt(100)},
		},
	}
	var stdout, stderr bytes.Buffer
	code := VerifyCommand(context.Background(), verifier, VerifyOptions{JSONOutput: true, Stdout: &stdout, Stderr: &stderr})
	require.Equal(t, 10, code)
	require.Empty(t, stderr.String())

	var summary VerifySummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.False(t, summary.OK)
	require.Equal(t, 2, summary.Categories)
	require.Len(t, summary.Breaks, 1)
}

func TestVerifyCommandSingleCategory(t *testing.T) {
	var stdout bytes.Buffer
	code := VerifyCommand(context.Background(), stubVerifier{}, VerifyOptions{CategoryID: "CAT-LAB", Stdout: &stdout})
	require.Equal(t, 0, code)
	require.Contains(t, stdout.String(), "checked 1 categories")
}

func TestVerifyCommandError(t *testing.T) {
	var stderr bytes.Buffer
	code := VerifyCommand(context.Background(), stubVerifier{err: errors.New("no db")}, VerifyOptions{Stderr: &stderr})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "no db")
}

func TestBuildTask(t *testing.T) {
	task, err := BuildTask(jobs.TaskLedgerPost, TriggerOptions{ValidationID: "VAL-000001"})
	require.NoError(t, err)
	require.Equal(t, jobs.TaskLedgerPost, task.Type())

	_, err = BuildTask(jobs.TaskSettlementGenerate, TriggerOptions{Year: 2024})
	require.Error(t, err)

	_, err = BuildTask("mail:send", TriggerOptions{})
	require.Error(t, err)
}
