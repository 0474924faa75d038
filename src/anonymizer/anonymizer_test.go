package anonymizer

import (
	"errors"
	"math/rand"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/00vip7-stack/hedge-dashboard/src/models"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)

func newTestAnonymizer() *Anonymizer {
	return New(DefaultTemplate(), WithClock(func() time.Time { return fixedNow }))
}

func sampleRecords() []models.PositionRecord {
	return []models.PositionRecord{
		{ID: "pos_1", Currency: "USD", Amount: 1000000, Date: "2026-03-01", Type: "exposure", Counterparty: "ACME", Bank: "KB", HedgeStatus: models.HedgeStatusUnhedged},
		{ID: "pos_2", Currency: "EUR", Amount: 250, Date: "2026-04-01", Type: "hedge", Counterparty: "Globex", HedgedAmount: 250, HedgeStatus: models.HedgeStatusHedged},
	}
}

func TestProject(t *testing.T) {
	got := newTestAnonymizer().Project(sampleRecords())

	want := []models.AnonymizedRecord{
		{
			"_index": 0, "_extractedAt": "2026-10-15T09:30:00Z",
			"currency": "USD", "amount": 1000000.0, "date": "2026-03-01", "type": "exposure",
			"hedgedAmount": 0.0, "hedgeStatus": "unhedged",
		},
		{
			"_index": 1, "_extractedAt": "2026-10-15T09:30:00Z",
			"currency": "EUR", "amount": 250.0, "date": "2026-04-01", "type": "hedge",
			"hedgedAmount": 250.0, "hedgeStatus": "hedged",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("projection mismatch (-want +got):\n%s", diff)
	}
}

func TestProjectNeverLeaksDeniedFields(t *testing.T) {
	a := newTestAnonymizer()
	projected := a.Project(sampleRecords())
	assert.True(t, a.Validate(projected))
	for _, rec := range projected {
		assert.NotContains(t, rec, "counterparty")
		assert.NotContains(t, rec, "bank")
		assert.NotContains(t, rec, "id")
	}
}

func TestValidateDetectsDeniedKeys(t *testing.T) {
	a := newTestAnonymizer()

	assert.False(t, a.Validate([]models.AnonymizedRecord{{"currency": "USD", "counterparty": "ACME"}}))
	assert.False(t, a.Validate([]models.AnonymizedRecord{{"currency": "USD", "Email": "a@b.c"}}), "key match ignores case")
	assert.False(t, a.Validate([]models.AnonymizedRecord{{"phone": nil}}), "nil is not empty")
	assert.False(t, a.Validate([]models.AnonymizedRecord{{"accountNumber": 0}}))
	assert.True(t, a.Validate([]models.AnonymizedRecord{{"currency": "USD", "bank": ""}}), "empty string is absent")
	assert.True(t, a.Validate(nil))
}

func TestCheck(t *testing.T) {
	a := newTestAnonymizer()
	candidates := []models.AnonymizedRecord{
		{"currency": "USD"},
		{"currency": "EUR", "bank": "KB", "contact": "Kim"},
	}

	err := a.Check(candidates)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAnonymizationViolation))

	var ve *ViolationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []Violation{{Index: 1, Key: "bank"}, {Index: 1, Key: "contact"}}, ve.Violations)
	assert.NotContains(t, err.Error(), "KB", "values never reach the message")
	assert.NotEmpty(t, ve.Hint())

	assert.NoError(t, a.Check(candidates[:1]))
}

// Validate must agree with a direct scan over randomly generated records.
func TestValidateRandomised(t *testing.T) {
	a := newTestAnonymizer()
	rng := rand.New(rand.NewSource(42))
	keys := []string{"currency", "amount", "date", "type", "hedgedAmount", "counterparty", "bank", "accountNumber", "companyName", "contact", "email", "phone", "note"}
	values := []any{"", "x", 0, 1.5, nil, "ACME"}
	denied := map[string]bool{}
	for _, k := range DefaultTemplate().Excluded {
		denied[k] = true
	}

	for i := 0; i < 500; i++ {
		n := 1 + rng.Intn(4)
		batch := make([]models.AnonymizedRecord, n)
		expectSafe := true
		for j := range batch {
			rec := models.AnonymizedRecord{}
			for _, k := range keys {
				if rng.Intn(3) != 0 {
					continue
				}
				v := values[rng.Intn(len(values))]
				rec[k] = v
				if denied[k] && v != "" {
					expectSafe = false
				}
			}
			batch[j] = rec
		}
		require.Equal(t, expectSafe, a.Validate(batch), "iteration %d: %v", i, batch)
	}
}

func TestPreview(t *testing.T) {
	p := newTestAnonymizer().Preview(sampleRecords(), 1)

	assert.Equal(t, 2, p.TotalRecords)
	require.Len(t, p.Before, 1)
	require.Len(t, p.After, 1)
	assert.Equal(t, "A***E", p.Before[0]["counterparty"])
	assert.Equal(t, "***", p.Before[0]["bank"])
	assert.Equal(t, "USD", p.Before[0]["currency"])

	var kept, removed []string
	for _, f := range p.Kept {
		kept = append(kept, f.Field)
	}
	for _, f := range p.Removed {
		removed = append(removed, f.Field)
	}
	assert.Equal(t, []string{"currency", "amount", "date", "type", "hedgedAmount", "hedgeStatus"}, kept)
	assert.Equal(t, []string{"id", "counterparty", "bank"}, removed)
}

func TestPreviewDefaultsSize(t *testing.T) {
	records := make([]models.PositionRecord, 8)
	p := newTestAnonymizer().Preview(records, 0)
	assert.Len(t, p.After, DefaultPreviewSize)
	assert.Empty(t, newTestAnonymizer().Preview(nil, 3).Kept)
}

func TestMaskValue(t *testing.T) {
	assert.Equal(t, "", MaskValue(nil))
	assert.Equal(t, "***", MaskValue("KB"))
	assert.Equal(t, "국***행", MaskValue("국민은행"))
	assert.Equal(t, "1***5", MaskValue(12345))
}

func TestAliasFileName(t *testing.T) {
	alias := AliasFileName("거래처별 외화채권.CSV", fixedNow)
	assert.Regexp(t, regexp.MustCompile(`^upload_[0-9a-f]{8}_1792056600\.csv$`), alias)
	assert.Equal(t, alias, AliasFileName("거래처별 외화채권.CSV", fixedNow))
	assert.NotEqual(t, alias, AliasFileName("other.csv", fixedNow))
	assert.False(t, strings.Contains(AliasFileName("noext", fixedNow), "."))
}
