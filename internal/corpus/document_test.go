package corpus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrontMatter(t *testing.T) {
	t.Parallel()

	raw := `---
title: Payment Intents
category: Payments
source: docs/payments/payment_intents.md
---

A PaymentIntent tracks a payment from creation through capture.`

	doc, err := Parse("payment_intents.md", raw)
	require.NoError(t, err)

	assert.Equal(t, "payment_intents", doc.ID)
	assert.Equal(t, "Payment Intents", doc.Title)
	assert.Equal(t, "Payments", doc.Category)
	assert.Equal(t, "docs/payments/payment_intents.md", doc.Source)
	assert.Equal(t, "A PaymentIntent tracks a payment from creation through capture.", doc.Text)
}

func TestParseWithoutFrontMatter(t *testing.T) {
	t.Parallel()

	doc, err := Parse("dispute_evidence.md", "Submit evidence before the deadline.")
	require.NoError(t, err)

	assert.Equal(t, "dispute_evidence", doc.ID)
	assert.Equal(t, "Dispute Evidence", doc.Title)
	assert.Equal(t, "General", doc.Category)
	assert.Equal(t, "dispute_evidence.md", doc.Source)
	assert.Equal(t, "Submit evidence before the deadline.", doc.Text)
}

func TestParseMalformedFrontMatter(t *testing.T) {
	t.Parallel()

	raw := "---\ntitle: [unclosed\n---\nBody text."
	doc, err := Parse("broken.md", raw)
	require.NoError(t, err)

	// Malformed front-matter is kept as body rather than failing the load.
	assert.Equal(t, "Broken", doc.Title)
	assert.Contains(t, doc.Text, "title: [unclosed")
}

func TestParseUnterminatedFrontMatter(t *testing.T) {
	t.Parallel()

	raw := "---\ntitle: Payouts\nno closing delimiter"
	doc, err := Parse("payouts.md", raw)
	require.NoError(t, err)

	assert.Equal(t, "Payouts", doc.Title)
	assert.Contains(t, doc.Text, "no closing delimiter")
}

func TestLoadDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	write("refunds.md", "Refunds take 5-10 business days.")
	write("01_payments.md", "---\ntitle: Payments Overview\n---\nPayments intro.")
	write("notes.txt", "not a corpus file")

	docs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	// Sorted by file name.
	assert.Equal(t, "01_payments", docs[0].ID)
	assert.Equal(t, "Payments Overview", docs[0].Title)
	assert.Equal(t, "refunds", docs[1].ID)
}

func TestLoadDirEmpty(t *testing.T) {
	t.Parallel()

	_, err := LoadDir(t.TempDir())
	require.ErrorIs(t, err, ErrEmptyCorpus)
}
