package models

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(id int, qty, expected string, positionDisabled, importDisabled bool) CountEntry {
	return CountEntry{
		ImportPositionId: id,
		ImportId:         id,
		SheetPositionId:  1,
		Quantity:         dec(qty),
		ExpectedQuantity: dec(expected),
		PositionDisabled: positionDisabled,
		ImportDisabled:   importDisabled,
	}
}

func TestComputeDelta(t *testing.T) {
	tests := []struct {
		name     string
		static   string
		entries  []CountEntry
		counted  string
		expected string
		delta    string
		imported bool
	}{
		{
			name:     "no entries falls back to static expected",
			static:   "10",
			counted:  "0",
			expected: "10",
			delta:    "-10",
		},
		{
			name:     "only disabled entries",
			static:   "10",
			entries:  []CountEntry{entry(1, "4", "10", true, false), entry(2, "3", "10", false, true)},
			counted:  "0",
			expected: "10",
			delta:    "-10",
		},
		{
			name:     "active entries sum both sides",
			static:   "10",
			entries:  []CountEntry{entry(1, "4", "5", false, false), entry(2, "3", "5", false, false), entry(3, "9", "9", true, false)},
			counted:  "7",
			expected: "10",
			delta:    "-3",
			imported: true,
		},
		{
			name:     "frozen expected wins over static",
			static:   "10",
			entries:  []CountEntry{entry(1, "12", "11", false, false)},
			counted:  "12",
			expected: "11",
			delta:    "1",
			imported: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ComputeDelta(dec(tt.static), tt.entries)
			assert.True(t, dec(tt.counted).Equal(d.Counted), "counted %s", d.Counted)
			assert.True(t, dec(tt.expected).Equal(d.Expected), "expected %s", d.Expected)
			assert.True(t, dec(tt.delta).Equal(d.Delta), "delta %s", d.Delta)
			assert.Equal(t, tt.imported, d.Imported)
		})
	}
}

func randomEntries(r *rand.Rand, n int) []CountEntry {
	entries := make([]CountEntry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, CountEntry{
			ImportPositionId: i + 1,
			Quantity:         decimal.New(int64(r.Intn(100000)), -3),
			ExpectedQuantity: decimal.New(int64(r.Intn(100000)), -3),
			PositionDisabled: r.Intn(4) == 0,
			ImportDisabled:   r.Intn(5) == 0,
		})
	}
	return entries
}

func TestComputeDelta_OrderDoesNotMatter(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		entries := randomEntries(r, r.Intn(12))
		want := ComputeDelta(dec("5"), entries)

		shuffled := append([]CountEntry(nil), entries...)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := ComputeDelta(dec("5"), shuffled)

		require.True(t, want.Counted.Equal(got.Counted))
		require.True(t, want.Expected.Equal(got.Expected))
		require.True(t, want.Delta.Equal(got.Delta))
		require.Equal(t, want.Imported, got.Imported)
	}
}

func TestComputeDelta_ActiveEntryAddsItsQuantity(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for i := 0; i < 200; i++ {
		entries := randomEntries(r, 1+r.Intn(10))
		before := ComputeDelta(dec("5"), entries)
		extra := CountEntry{ImportPositionId: 999, Quantity: decimal.New(int64(r.Intn(5000)), -3), ExpectedQuantity: dec("1")}
		after := ComputeDelta(dec("5"), append(entries, extra))

		require.True(t, before.Counted.Add(extra.Quantity).Equal(after.Counted))
		require.True(t, after.Counted.GreaterThanOrEqual(before.Counted))
		require.True(t, after.Imported)

		disabled := extra
		disabled.PositionDisabled = true
		same := ComputeDelta(dec("5"), append(entries, disabled))
		require.True(t, before.Counted.Equal(same.Counted))
		require.True(t, before.Expected.Equal(same.Expected))
	}
}

func TestProjectPosition(t *testing.T) {
	sp := SheetPosition{ID: 3, SheetId: 2, ProductId: 9, ExpectedQuantity: dec("10")}
	entries := []CountEntry{entry(1, "7", "10", false, false)}

	view := ProjectPosition(sp, entries, nil)
	assert.False(t, view.ProductResolved)
	assert.True(t, dec("-3").Equal(view.OnShelf))
	assert.True(t, view.DeltaValue.IsZero())

	product := &Product{ProductId: 9, Name: "Nine", MainCode: "900", ReferenceQuantity: dec("8"), RetailPrice: dec("1.5")}
	view = ProjectPosition(sp, entries, product)
	assert.True(t, view.ProductResolved)
	assert.Equal(t, "Nine", view.ProductName)
	assert.True(t, dec("-4.5").Equal(view.DeltaValue), "value %s", view.DeltaValue)
	assert.True(t, dec("5").Equal(view.OnShelf), "shelf %s", view.OnShelf)
	assert.True(t, dec("8").Equal(view.OnPcMarket))
}
