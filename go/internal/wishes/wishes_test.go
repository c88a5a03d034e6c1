package wishes

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int { return &i }

func TestAgeGroupFor(t *testing.T) {
	tests := []struct {
		age  *int
		want AgeGroup
	}{
		{nil, DefaultAgeGroup},
		{intPtr(-1), DefaultAgeGroup},
		{intPtr(0), AgeGroup0to6},
		{intPtr(6), AgeGroup0to6},
		{intPtr(7), AgeGroup6to12},
		{intPtr(12), AgeGroup6to12},
		{intPtr(16), AgeGroup12to16},
		{intPtr(18), AgeGroup16to18},
		{intPtr(22), AgeGroup18to22},
		{intPtr(30), AgeGroup22to30},
		{intPtr(40), AgeGroup30to40},
		{intPtr(41), AgeGroup40Plus},
		{intPtr(99), AgeGroup40Plus},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AgeGroupFor(tt.age))
	}
}

func TestPick(t *testing.T) {
	assert.Equal(t, FallbackText, Pick(nil))

	candidates := []string{"a", "b", "c"}
	for range 50 {
		assert.Contains(t, candidates, Pick(candidates))
	}
}

func TestDefaultCatalog(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)

	for _, g := range AgeGroups {
		assert.NotEmpty(t, c[g], "group %s has no wishes", g)
	}
	assert.NotEmpty(t, c[AgeGroupAll])
	assert.Greater(t, c.Len(), len(AgeGroups))
}

func TestParseCatalog_RejectsUnknownGroup(t *testing.T) {
	_, err := ParseCatalog([]byte(`"teens": ["hi"]`))
	assert.ErrorContains(t, err, "unknown age group")

	_, err = ParseCatalog([]byte(`"0_6": [""]`))
	assert.ErrorContains(t, err, "empty wish")
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wishes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("\"40_plus\":\n  - \"Sống lâu trăm tuổi\"\n"), 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Sống lâu trăm tuổi"}, c[AgeGroup40Plus])

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
