package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"

	zerrors "github.com/zenoss/zenoss-zep-sub000/internal/errors"
	"github.com/zenoss/zenoss-zep-sub000/internal/event"
	"github.com/zenoss/zenoss-zep-sub000/internal/query"
)

const (
	// TokensTokenizerName splits pre-analyzed field values on tokenSep.
	TokensTokenizerName = "zep_tokens"

	// TokensAnalyzerName is the analyzer of every indexed text field.
	TokensAnalyzerName = "zep_tokens"

	// tokenSep joins a field's tokens into one bleve value.
	tokenSep = "\x1f"

	// sourceField stores the JSON summary; it is not indexed.
	sourceField = "zep_source"
)

func init() {
	_ = registry.RegisterTokenizer(TokensTokenizerName, tokensTokenizerConstructor)
}

func tokensTokenizerConstructor(map[string]interface{}, *registry.Cache) (analysis.Tokenizer, error) {
	return tokensTokenizer{}, nil
}

// tokensTokenizer emits one token per tokenSep-separated term, in order.
type tokensTokenizer struct{}

func (tokensTokenizer) Tokenize(input []byte) analysis.TokenStream {
	parts := strings.Split(string(input), tokenSep)
	stream := make(analysis.TokenStream, 0, len(parts))
	start, pos := 0, 1
	for _, p := range parts {
		end := start + len(p)
		if p != "" {
			stream = append(stream, &analysis.Token{
				Term:     []byte(p),
				Start:    start,
				End:      end,
				Position: pos,
				Type:     analysis.AlphaNumeric,
			})
			pos++
		}
		start = end + len(tokenSep)
	}
	return stream
}

// bleveField maps an index field to a bleve field name. Dots would be read
// as sub-document paths by the mapping.
func bleveField(f string) string {
	return strings.ReplaceAll(f, ".", "__")
}

// bleveSortFields are the untokenized twins used to order string fields.
var bleveSortFields = map[string]string{
	string(event.SortElementID):    query.NonAnalyzed(query.FieldElementIdentifier),
	string(event.SortElementSubID): query.NonAnalyzed(query.FieldElementSubIdentifier),
	string(event.SortEventClass):   query.NonAnalyzed(query.FieldEventClass),
	string(event.SortSummary):      query.NonAnalyzed(query.FieldSummary),
}

// fieldLayout lists the text and numeric fields a document may carry.
func fieldLayout(details query.Details) (text, nums []string) {
	text = []string{
		query.FieldUUID,
		query.FieldSummary, query.NonAnalyzed(query.FieldSummary), query.FieldMessage,
		query.FieldEventClass, query.NonAnalyzed(query.FieldEventClass),
		query.FieldTags,
	}
	for _, kf := range keywordFields {
		text = append(text, kf.field)
	}
	for _, f := range identifierFields {
		text = append(text, f.field, query.NonAnalyzed(f.field))
	}
	nums = []string{
		query.FieldStatus, query.FieldSeverity, query.FieldCount,
		query.FieldFirstSeenTime, query.FieldLastSeenTime,
		query.FieldStatusChangeTime, query.FieldUpdateTime,
	}
	for key, item := range details {
		f := query.DetailField(key)
		switch item.Type {
		case query.DetailInteger, query.DetailLong, query.DetailFloat, query.DetailDouble:
			nums = append(nums, f)
		case query.DetailPath:
			text = append(text, f, f+query.SortSuffix)
		case query.DetailIPAddress:
			text = append(text, f, f+query.IPTypeSuffix, f+query.SortSuffix)
		default:
			text = append(text, f)
		}
	}
	return text, nums
}

// newBleveMapping builds a static mapping: every field is declared, so
// nothing is guessed from values.
func newBleveMapping(details query.Details) (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	err := im.AddCustomAnalyzer(TokensAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": TokensTokenizerName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}
	im.DefaultAnalyzer = TokensAnalyzerName

	dm := bleve.NewDocumentStaticMapping()
	text, nums := fieldLayout(details)
	for _, f := range text {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = TokensAnalyzerName
		fm.Store = false
		fm.IncludeInAll = false
		fm.IncludeTermVectors = true
		dm.AddFieldMappingsAt(bleveField(f), fm)
	}
	for _, f := range nums {
		fm := bleve.NewNumericFieldMapping()
		fm.Store = false
		fm.IncludeInAll = false
		dm.AddFieldMappingsAt(bleveField(f), fm)
	}
	src := bleve.NewTextFieldMapping()
	src.Analyzer = keyword.Name
	src.Index = false
	src.Store = true
	src.IncludeInAll = false
	src.IncludeTermVectors = false
	src.DocValues = false
	dm.AddFieldMappingsAt(sourceField, src)

	im.DefaultMapping = dm
	return im, nil
}

// bleveEngine stores documents in a bleve index on disk, or in memory when
// path is empty.
type bleveEngine struct {
	mu      sync.RWMutex
	idx     bleve.Index
	path    string
	mapping *mapping.IndexMappingImpl
	closed  bool
}

// validateIndexIntegrity checks an index directory before opening it.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// isCorruptionError reports whether a bleve open error means the files on
// disk are unusable.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "unexpected end of JSON") ||
		strings.Contains(s, "error parsing mapping JSON") ||
		strings.Contains(s, "failed to load segment") ||
		strings.Contains(s, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// openBleve opens or creates the index at path. A corrupt index is removed
// and recreated empty; the rebuild checker then repopulates it because its
// document count is zero.
func openBleve(path string, details query.Details) (*bleveEngine, error) {
	im, err := newBleveMapping(details)
	if err != nil {
		return nil, err
	}
	e := &bleveEngine{path: path, mapping: im}
	if path == "" {
		e.idx, err = bleve.NewMemOnly(im)
		if err != nil {
			return nil, zerrors.New(zerrors.ErrCodeIndexFailed, "failed to create in-memory index", err)
		}
		return e, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, zerrors.IOError("failed to create index directory", err)
	}
	if verr := validateIndexIntegrity(path); verr != nil {
		slog.Warn("bleve_index_corrupted", slog.String("path", path), slog.String("error", verr.Error()))
		if err := os.RemoveAll(path); err != nil {
			return nil, zerrors.New(zerrors.ErrCodeCorruptIndex, "index is corrupt and cannot be removed: "+path, err)
		}
		slog.Info("bleve_index_cleared", slog.String("path", path), slog.String("reason", "integrity check failed"))
	}

	e.idx, err = bleve.Open(path)
	switch {
	case err == bleve.ErrorIndexPathDoesNotExist:
		e.idx, err = bleve.New(path, im)
	case err != nil && isCorruptionError(err):
		slog.Warn("bleve_index_open_failed", slog.String("path", path), slog.String("error", err.Error()))
		if rerr := os.RemoveAll(path); rerr != nil {
			return nil, zerrors.New(zerrors.ErrCodeCorruptIndex, "index is corrupt and cannot be removed: "+path, rerr)
		}
		slog.Info("bleve_index_cleared", slog.String("path", path), slog.String("reason", "open failed"))
		e.idx, err = bleve.New(path, im)
	}
	if err != nil {
		return nil, zerrors.New(zerrors.ErrCodeIndexFailed, "failed to open index "+path, err)
	}
	return e, nil
}

var errIndexClosed = zerrors.New(zerrors.ErrCodeBackendUnavailable, "index is closed", nil)

// acquire read-locks the engine and returns the live index.
func (e *bleveEngine) acquire() (bleve.Index, func(), error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, nil, errIndexClosed
	}
	return e.idx, e.mu.RUnlock, nil
}

func bleveDocument(d *document) map[string]interface{} {
	m := make(map[string]interface{}, len(d.text)+len(d.nums)+1)
	for f, tokens := range d.text {
		m[bleveField(f)] = strings.Join(tokens, tokenSep)
	}
	for f, vals := range d.nums {
		if len(vals) == 1 {
			m[bleveField(f)] = vals[0]
		} else {
			m[bleveField(f)] = vals
		}
	}
	m[sourceField] = string(d.source)
	return m
}

func (e *bleveEngine) index(_ context.Context, docs []*document) error {
	if len(docs) == 0 {
		return nil
	}
	idx, release, err := e.acquire()
	if err != nil {
		return err
	}
	defer release()

	batch := idx.NewBatch()
	for _, d := range docs {
		if err := batch.Index(d.uuid, bleveDocument(d)); err != nil {
			return fmt.Errorf("failed to index document %s: %w", d.uuid, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

func (e *bleveEngine) delete(_ context.Context, uuids []string) error {
	idx, release, err := e.acquire()
	if err != nil {
		return err
	}
	defer release()

	batch := idx.NewBatch()
	for _, u := range uuids {
		batch.Delete(u)
	}
	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// clear replaces the index with an empty one built from the current mapping.
func (e *bleveEngine) clear(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errIndexClosed
	}
	if err := e.idx.Close(); err != nil {
		slog.Warn("bleve_index_close_failed", slog.String("path", e.path), slog.String("error", err.Error()))
	}
	var err error
	if e.path == "" {
		e.idx, err = bleve.NewMemOnly(e.mapping)
	} else {
		if err = os.RemoveAll(e.path); err != nil {
			e.closed = true
			return err
		}
		e.idx, err = bleve.New(e.path, e.mapping)
	}
	if err != nil {
		e.closed = true
	}
	return err
}

// flush is a no-op: every bleve batch is durable once applied.
func (e *bleveEngine) flush(context.Context) error {
	_, release, err := e.acquire()
	if err != nil {
		return err
	}
	release()
	return nil
}

func (e *bleveEngine) count(context.Context) (int64, error) {
	idx, release, err := e.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	n, err := idx.DocCount()
	return int64(n), err
}

func (e *bleveEngine) size(context.Context) (int64, error) {
	_, release, err := e.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	if e.path == "" {
		return 0, nil
	}
	var total int64
	err = filepath.WalkDir(e.path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

func (e *bleveEngine) ping(ctx context.Context) error {
	_, err := e.count(ctx)
	return err
}

func bleveSortOrder(sorts []sortKey) search.SortOrder {
	order := make(search.SortOrder, 0, len(sorts))
	for _, s := range sorts {
		if s.field == string(event.SortUUID) {
			order = append(order, &search.SortDocID{Desc: s.desc})
			continue
		}
		field := s.field
		if f, ok := bleveSortFields[field]; ok {
			field = f
		}
		sf := &search.SortField{
			Field:   bleveField(field),
			Desc:    s.desc,
			Type:    search.SortFieldAsString,
			Missing: search.SortFieldMissingLast,
		}
		if s.numeric {
			sf.Type = search.SortFieldAsNumber
		}
		order = append(order, sf)
	}
	return order
}

func (e *bleveEngine) search(ctx context.Context, node *query.Node, sorts []sortKey, offset, limit int) ([]string, int, error) {
	idx, release, err := e.acquire()
	if err != nil {
		return nil, 0, err
	}
	defer release()

	q, err := bleveQuery(idx, node)
	if err != nil {
		return nil, 0, err
	}
	size := limit
	if size < 0 {
		n, err := idx.DocCount()
		if err != nil {
			return nil, 0, err
		}
		size = int(n)
	}
	req := bleve.NewSearchRequestOptions(q, size, offset, false)
	req.SortByCustom(bleveSortOrder(sorts))
	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, 0, err
	}
	uuids := make([]string, len(res.Hits))
	for i, hit := range res.Hits {
		uuids[i] = hit.ID
	}
	return uuids, int(res.Total), nil
}

func (e *bleveEngine) load(ctx context.Context, uuids []string) ([]*event.Summary, error) {
	if len(uuids) == 0 {
		return []*event.Summary{}, nil
	}
	idx, release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	req := bleve.NewSearchRequestOptions(bleve.NewDocIDQuery(uuids), len(uuids), 0, false)
	req.Fields = []string{sourceField}
	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*event.Summary, len(res.Hits))
	for _, hit := range res.Hits {
		src, ok := hit.Fields[sourceField].(string)
		if !ok {
			continue
		}
		s, err := decodeSource([]byte(src))
		if err != nil {
			slog.Warn("bleve_source_corrupt", slog.String("uuid", hit.ID), slog.String("error", err.Error()))
			continue
		}
		byID[hit.ID] = s
	}
	out := make([]*event.Summary, 0, len(byID))
	for _, u := range uuids {
		if s, ok := byID[u]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (e *bleveEngine) close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.idx.Close()
}
