package registry_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registrar/internal/domain"
	"registrar/internal/registry"
	"registrar/internal/signature"
)

type knownSet map[string]bool

func (k knownSet) Has(id string) bool { return k[id] }

func TestDefault_BreastOrder(t *testing.T) {
	ids, ok := registry.Default().Lookup(domain.CategoryBreast)

	require.True(t, ok)
	assert.Equal(t, []string{
		"BreastCancerNonnested", "DCIS", "BreastCancerGrading", "BreastCancerStaging",
		"BreastCancerMargins", "BreastCancerLN", "BreastCancerBiomarkers",
	}, ids)
}

func TestDefault_EveryOrganMapped(t *testing.T) {
	r := registry.Default()

	assert.Equal(t, domain.OrganCategories(), r.Categories())
	_, ok := r.Lookup(domain.CategoryOthers)
	assert.False(t, ok)
}

func TestDefault_ResolvesAgainstBuiltinSignatures(t *testing.T) {
	catalog, err := signature.Default()
	require.NoError(t, err)

	assert.NoError(t, registry.Default().Resolve(catalog))
}

func TestLookup_ReturnsCopy(t *testing.T) {
	r := registry.Default()

	ids, _ := r.Lookup(domain.CategoryLung)
	ids[0] = "Mutated"

	again, _ := r.Lookup(domain.CategoryLung)
	assert.Equal(t, "LungCancerNonnested", again[0])
}

func TestNew_CopiesInput(t *testing.T) {
	in := map[domain.Category][]string{domain.CategoryBreast: {"X", "Y"}}
	r, err := registry.New(in)
	require.NoError(t, err)

	in[domain.CategoryBreast][0] = "Z"

	ids, _ := r.Lookup(domain.CategoryBreast)
	assert.Equal(t, []string{"X", "Y"}, ids)
}

func TestNew_Rejects(t *testing.T) {
	_, err := registry.New(map[domain.Category][]string{"spleen": {"X"}})
	assert.ErrorIs(t, err, domain.ErrUnknownCategory)

	_, err = registry.New(map[domain.Category][]string{domain.CategoryLung: {"X", "X"}})
	assert.ErrorContains(t, err, "duplicate extractor")

	_, err = registry.New(map[domain.Category][]string{domain.CategoryLung: {""}})
	assert.ErrorContains(t, err, "empty extractor id")
}

func TestNew_CanonicalizesCategories(t *testing.T) {
	r, err := registry.New(map[domain.Category][]string{"Lung": {"L"}, " other ": {"O"}})
	require.NoError(t, err)

	ids, ok := r.Lookup(domain.CategoryLung)
	require.True(t, ok)
	assert.Equal(t, []string{"L"}, ids)
	ids, ok = r.Lookup(domain.CategoryOthers)
	require.True(t, ok)
	assert.Equal(t, []string{"O"}, ids)

	_, err = registry.New(map[domain.Category][]string{"lung": {"A"}, "LUNG": {"B"}})
	assert.ErrorContains(t, err, "listed more than once")
}

func TestResolve_JoinsUnknownIDs(t *testing.T) {
	r, err := registry.New(map[domain.Category][]string{
		domain.CategoryBreast: {"X", "Missing1"},
		domain.CategoryLung:   {"Missing2"},
	})
	require.NoError(t, err)

	err = r.Resolve(knownSet{"X": true})

	require.Error(t, err)
	var unknown *registry.UnknownExtractorError
	require.True(t, errors.As(err, &unknown))
	assert.Contains(t, err.Error(), `unknown extractor "Missing1" for category breast`)
	assert.Contains(t, err.Error(), `unknown extractor "Missing2" for category lung`)
}

func TestLoadFile_OverridesAndDisables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	doc := "breast: [BreastCancerGrading, BreastCancerNonnested]\nLung: []\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	r, err := registry.LoadFile(path)
	require.NoError(t, err)

	ids, ok := r.Lookup(domain.CategoryBreast)
	require.True(t, ok)
	assert.Equal(t, []string{"BreastCancerGrading", "BreastCancerNonnested"}, ids)

	_, ok = r.Lookup(domain.CategoryLung)
	assert.False(t, ok)

	_, ok = r.Lookup(domain.CategoryLiver)
	assert.True(t, ok)
}

func TestLoadFile_UnknownCategory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kidney: [X]\n"), 0o600))

	_, err := registry.LoadFile(path)

	assert.ErrorIs(t, err, domain.ErrUnknownCategory)
}
