package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadZones_Catalog(t *testing.T) {
	catalog, err := LoadZones("zones.yaml")
	require.NoError(t, err)

	zones := catalog.Zones()
	assert.Len(t, zones, 160)
	assert.Len(t, catalog.Distritos(), 21)
	for _, z := range zones {
		assert.NotEmpty(t, z.Path, z.Barrio)
	}
}

func TestLoadZones_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadZones(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("zones:\n  - distrito: Centro\n"), 0644))
	_, err = LoadZones(bad)
	assert.ErrorContains(t, err, "distrito and barrio are required")
}

func TestZoneCatalog_Select(t *testing.T) {
	catalog := NewZoneCatalog([]Zone{
		{Distrito: "Centro", Barrio: "Sol"},
		{Distrito: "Centro", Barrio: "Lavapiés"},
		{Distrito: "Chamberí", Barrio: "Trafalgar"},
	})

	tests := []struct {
		name     string
		input    []string
		expected []string
		wantErr  bool
	}{
		{name: "Empty selects everything", input: nil, expected: []string{"Sol", "Lavapiés", "Trafalgar"}},
		{name: "Distrito ignores accents", input: []string{"chamberi"}, expected: []string{"Trafalgar"}},
		{name: "Barrio slug", input: []string{"Centro/Lavapies"}, expected: []string{"Lavapiés"}},
		{name: "Overlapping names are deduplicated", input: []string{"Centro", "centro/sol"}, expected: []string{"Sol", "Lavapiés"}},
		{name: "Unknown zone", input: []string{"Atlantis"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			zones, err := catalog.Select(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			var barrios []string
			for _, z := range zones {
				barrios = append(barrios, z.Barrio)
			}
			assert.Equal(t, tt.expected, barrios)
		})
	}
}

func TestNormalizeZone(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "Simple name", input: "Centro", expected: "centro"},
		{name: "Accents", input: "Chamartín", expected: "chamartin"},
		{name: "Spaces", input: "Puente de Vallecas", expected: "puente-de-vallecas"},
		{name: "Existing dash", input: "Fuencarral-El Pardo", expected: "fuencarral-el-pardo"},
		{name: "Tilde n", input: "Peñagrande", expected: "penagrande"},
		{name: "Punctuation and multiple spaces", input: "  Aravaca,  (Moncloa) ", expected: "aravaca-moncloa"},
		{name: "Already normalized", input: "usera", expected: "usera"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeZone(tt.input)
			assert.Equal(t, tt.expected, result,
				"NormalizeZone(%q) = %q, want %q", tt.input, result, tt.expected)
		})
	}
}
