package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenoss/zenoss-zep-sub000/internal/config"
	zerrors "github.com/zenoss/zenoss-zep-sub000/internal/errors"
	"github.com/zenoss/zenoss-zep-sub000/internal/event"
	"github.com/zenoss/zenoss-zep-sub000/internal/query"
)

func TestTokensTokenizer_Positions(t *testing.T) {
	// Given: three tokens with an empty slot
	stream := tokensTokenizer{}.Tokenize([]byte("web" + tokenSep + tokenSep + "ser" + tokenSep + "erv"))

	// Then: empty slots are dropped and positions stay consecutive
	require.Len(t, stream, 3)
	assert.Equal(t, "web", string(stream[0].Term))
	assert.Equal(t, 1, stream[0].Position)
	assert.Equal(t, "ser", string(stream[1].Term))
	assert.Equal(t, 2, stream[1].Position)
	assert.Equal(t, 3, stream[2].Position)
}

func TestBleveField(t *testing.T) {
	assert.Equal(t, "details__zenoss__device__ip_address_sort", bleveField("details.zenoss.device.ip_address_sort"))
	assert.Equal(t, "summary", bleveField("summary"))
}

func TestNewDocument_Layout(t *testing.T) {
	// Given: an event with every kind of indexed detail
	e := fixtures()[0]

	// When: analyzed
	d, err := newDocument(e, testDetails)
	require.NoError(t, err)

	// Then: each field carries its analysis
	assert.Equal(t, []string{"/status/ping/"}, d.text["event_class_not_analyzed"])
	assert.Equal(t, []string{"status", "ping"}, d.text["event_class"])
	assert.Equal(t, []string{"disk", "full", "on", "/var"}, d.text["summary"])
	assert.Equal(t, []string{"grp1", "dev1"}, d.text["tag"])
	assert.Equal(t, []string{"web-server01.example.com"}, d.text["element_identifier_not_analyzed"])
	assert.Equal(t, []float64{1000}, d.nums["details.zenoss.device.production_state"])
	assert.Equal(t, []string{"10", "0", "0", "5"}, d.text["details.zenoss.device.ip_address"])
	assert.Equal(t, []string{"4"}, d.text["details.zenoss.device.ip_address_type"])
	assert.Equal(t, []string{"010.000.000.005"}, d.text["details.zenoss.device.ip_address_sort"])
	assert.Equal(t, []string{"/austin/rack1/"}, d.text["details.zenoss.device.location_sort"])
	assert.Equal(t, []string{"Production"}, d.text["details.owner"])
	assert.Equal(t, "web-server01.example.com", d.sort["element_identifier"])
}

func TestNewDocument_SkipsBadDetailValues(t *testing.T) {
	e := &event.Summary{UUID: "x", Details: []event.Detail{
		{Name: "zenoss.device.production_state", Values: []string{"high"}},
		{Name: "zenoss.device.ip_address", Values: []string{"not-an-ip"}},
	}}
	d, err := newDocument(e, testDetails)
	require.NoError(t, err)
	assert.NotContains(t, d.nums, "details.zenoss.device.production_state")
	assert.NotContains(t, d.text, "details.zenoss.device.ip_address")
}

func TestSQLWhere_Render(t *testing.T) {
	// Given: a phrase with a wildcard position under a negation
	n := &query.Node{Occur: query.MustNot, Clauses: []query.Clause{
		{Kind: query.KindPhrase, Field: "summary", Values: []string{"disk", "f*"}},
	}}

	// When: rendered
	where, args, err := sqlWhere(n)
	require.NoError(t, err)

	// Then: positions are joined and the wildcard uses GLOB
	assert.Equal(t, "NOT (EXISTS (SELECT 1 FROM terms t0 JOIN terms t1 ON t1.uuid = t0.uuid AND t1.field = t0.field AND t1.pos = t0.pos + 1"+
		" WHERE t0.uuid = d.uuid AND t0.field = ? AND t0.term = ? AND t1.term GLOB ?))", where)
	assert.Equal(t, []any{"summary", "disk", "f*"}, args)
}

func TestSQLWhere_EmptyMatchesAll(t *testing.T) {
	where, args, err := sqlWhere(nil)
	require.NoError(t, err)
	assert.Equal(t, "1", where)
	assert.Empty(t, args)
}

func TestGlobEscaping(t *testing.T) {
	assert.Equal(t, "a[*]b[?]c[[]", globEscape("a*b?c["))
	assert.Equal(t, "a*b?c[[]", wildcardGlob("a*b?c["))
}

func TestWildcardRegexp(t *testing.T) {
	re, err := wildcardRegexp("f?l*.x")
	require.NoError(t, err)
	assert.True(t, re.MatchString("full.x"))
	assert.False(t, re.MatchString("fullyx"))
}

func TestPhraseWildcardExpansion(t *testing.T) {
	forEachKind(t, func(t *testing.T, idx *Index) {
		// Given: seeded events
		seed(t, idx)

		// When: a phrase with a wildcard position is searched
		got := uuidsOf(t, idx, &event.Request{Filter: &query.Filter{Summary: []string{`"disk f*"`}}})

		// Then: the position expands to dictionary terms
		assert.Equal(t, []string{"a"}, got)
	})
}

func TestIsOutOfMemory(t *testing.T) {
	assert.True(t, isOutOfMemory(errors.New("sqlite: out of memory (7)")))
	assert.True(t, isOutOfMemory(ErrOutOfMemory))
	assert.True(t, isOutOfMemory(NewMemoryGuard(1).Check(1<<20, eventBytes)))
	assert.False(t, isOutOfMemory(errors.New("disk I/O error")))
	assert.False(t, isOutOfMemory(nil))
}

func TestMemoryGuard_Disabled(t *testing.T) {
	assert.NoError(t, NewMemoryGuard(0).Check(1<<30, eventBytes))
	var g *MemoryGuard
	assert.NoError(t, g.Check(1<<30, eventBytes))
}

// TS08: indexes persist across reopen
func TestNew_PersistsAcrossReopen(t *testing.T) {
	for _, k := range kinds {
		t.Run(k, func(t *testing.T) {
			ctx := context.Background()
			cfg := config.BackendConfig{ID: "p", Type: k, Path: filepath.Join(t.TempDir(), "index")}

			idx, err := New(cfg, testDetails, "")
			require.NoError(t, err)
			seed(t, idx)
			require.NoError(t, idx.Close())

			idx, err = New(cfg, testDetails, "")
			require.NoError(t, err)
			defer idx.Close()
			n, err := idx.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(3), n)
			assert.Equal(t, k, DetectType(cfg.Path))
		})
	}
}

func TestNew_RecoversCorruptBleveIndex(t *testing.T) {
	// Given: an index directory with a garbled index_meta.json
	base := filepath.Join(t.TempDir(), "index")
	dir := IndexPath(base, config.BackendBleve)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index_meta.json"), []byte("{bad"), 0o644))

	// When: opened
	idx, err := New(config.BackendConfig{ID: "c", Type: config.BackendBleve, Path: base}, testDetails, "")
	require.NoError(t, err)
	defer idx.Close()

	// Then: it starts empty
	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNew_UnknownType(t *testing.T) {
	_, err := New(config.BackendConfig{ID: "u", Type: "solr"}, nil, "")
	assert.Error(t, err)
}

func TestDetailsFromConfig(t *testing.T) {
	d := DetailsFromConfig([]config.IndexedDetail{{Key: "k", Name: "n", Type: "PATH"}})
	item, ok := d.Lookup("n")
	require.True(t, ok)
	assert.Equal(t, query.DetailPath, item.Type)
}

func TestReadError_WrapsPlainErrors(t *testing.T) {
	idx := newTestIndex(t, config.BackendSQLite, config.BackendConfig{})
	err := idx.readError("list", errors.New("boom"))
	assert.True(t, zerrors.HasCode(err, zerrors.ErrCodeSearchFailed))
}
