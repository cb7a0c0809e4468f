package main

import (
	"testing"

	"github.com/aristath/harvester/internal/domain"
	"github.com/aristath/harvester/internal/harvest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKinds(t *testing.T) {
	kinds, err := parseKinds([]string{string(domain.AllKinds[0])})
	require.NoError(t, err)
	assert.Equal(t, []domain.ResourceKind{domain.AllKinds[0]}, kinds)

	kinds, err = parseKinds(nil)
	require.NoError(t, err)
	assert.Empty(t, kinds)

	_, err = parseKinds([]string{"crypto"})
	assert.Error(t, err)
}

func TestFormatCounts(t *testing.T) {
	assert.Equal(t, "-", formatCounts(nil))
	assert.Equal(t, "stored=2 no_data=1", formatCounts(map[harvest.Resolution]int{
		harvest.ResolutionNoData: 1,
		harvest.ResolutionStored: 2,
	}))
}

func TestBuildCLI_Commands(t *testing.T) {
	root := buildCLI()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"run", "serve", "status", "keys"})

	keys, _, err := root.Find([]string{"keys", "mint"})
	require.NoError(t, err)
	assert.Equal(t, "mint", keys.Name())
}
