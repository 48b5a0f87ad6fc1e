package asset

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func testRecords() []Record {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return []Record{
		{ID: "civic", Make: "Honda", Model: "Civic", ModelURL: "https://x/civic.glb", DefaultColor: strPtr("#ff0000"), IsActive: true, CreatedAt: base},
		{ID: "hilux", Make: "Toyota", Model: "Hilux", ModelURL: "https://x/hilux.glb", IsActive: true, CreatedAt: base.Add(48 * time.Hour)},
		{ID: "retired", Make: "Ford", Model: "Ranger", ModelURL: "https://x/ranger.glb", IsActive: false, CreatedAt: base.Add(96 * time.Hour)},
	}
}

func TestKey_normalizes(t *testing.T) {
	assert.Equal(t, "honda:civic", Key("  Honda ", "CIVIC"))
}

func TestMemoryRepository_Resolve(t *testing.T) {
	repo := NewMemoryRepository(testRecords()...)
	ctx := context.Background()

	tests := []struct {
		name        string
		make, model string
		wantID      string
	}{
		{"exact match", "Honda", "Civic", "civic"},
		{"case insensitive", "hONDA", " civic ", "civic"},
		{"miss falls back to newest active", "Tesla", "Model 3", "hilux"},
		{"inactive record is never returned", "Ford", "Ranger", "hilux"},
		{"empty input falls back", "", "", "hilux"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := repo.Resolve(ctx, tt.make, tt.model)
			require.NoError(t, err)
			require.NotNil(t, rec)
			assert.Equal(t, tt.wantID, rec.ID)
		})
	}
}

func TestMemoryRepository_NoActiveRecords(t *testing.T) {
	repo := NewMemoryRepository(Record{ID: "old", Make: "A", Model: "B", IsActive: false})

	rec, err := repo.Resolve(context.Background(), "A", "B")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestMemoryRepository_ResolveReturnsCopy(t *testing.T) {
	repo := NewMemoryRepository(testRecords()...)

	rec, _ := repo.Resolve(context.Background(), "Honda", "Civic")
	*rec.DefaultColor = "#000000"
	rec.ModelURL = "changed"

	again, _ := repo.Resolve(context.Background(), "Honda", "Civic")
	assert.Equal(t, "#ff0000", *again.DefaultColor)
	assert.Equal(t, "https://x/civic.glb", again.ModelURL)
}

func TestMemoryRepository_PutReplacesAndAssignsID(t *testing.T) {
	repo := NewMemoryRepository()

	rec := repo.Put(Record{Make: "Kia", Model: "Rio", ModelURL: "u1", IsActive: true})
	assert.NotEmpty(t, rec.ID)

	rec.ModelURL = "u2"
	repo.Put(rec)

	got, err := repo.Resolve(context.Background(), "kia", "rio")
	require.NoError(t, err)
	assert.Equal(t, "u2", got.ModelURL)
}

func TestLoadSeedFile(t *testing.T) {
	records, err := LoadSeedFile("testdata/models.yaml")
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "civic-2022", records[0].ID)
	require.NotNil(t, records[0].DefaultColor)
	assert.Equal(t, "#1f3a93", *records[0].DefaultColor)
	assert.Nil(t, records[1].DefaultColor)
	assert.False(t, records[2].IsActive)

	repo := NewMemoryRepository(records...)
	rec, err := repo.Resolve(context.Background(), "Yamaha", "R15")
	require.NoError(t, err)
	assert.Equal(t, "hilux-2024", rec.ID, "inactive bike falls back to newest active record")
}

func TestLoadSeedFile_errors(t *testing.T) {
	_, err := LoadSeedFile("testdata/missing.yaml")
	assert.Error(t, err)

	_, err = LoadSeedFile("testdata/bad_models.yaml")
	assert.ErrorContains(t, err, "model_url")
}
