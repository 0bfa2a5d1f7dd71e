package store

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"github.com/zenoss/zenoss-zep-sub000/internal/event"
	"github.com/zenoss/zenoss-zep-sub000/internal/query"
)

// document is an event summary after analysis. Text fields hold their tokens
// in position order; both engines index exactly these tokens, so a query
// clause means the same thing everywhere.
type document struct {
	uuid   string
	text   map[string][]string
	nums   map[string][]float64
	source []byte
	sort   map[string]any
}

func (d *document) addText(field string, tokens ...string) {
	for _, t := range tokens {
		if t != "" {
			d.text[field] = append(d.text[field], t)
		}
	}
}

func (d *document) addNum(field string, v float64) {
	d.nums[field] = append(d.nums[field], v)
}

// keywordFields are matched verbatim (case-sensitive, untokenized).
var keywordFields = []struct {
	field string
	value func(*event.Summary) string
}{
	{query.FieldFingerprint, func(e *event.Summary) string { return e.Fingerprint }},
	{query.FieldEventClassKey, func(e *event.Summary) string { return e.EventClassKey }},
	{query.FieldEventKey, func(e *event.Summary) string { return e.EventKey }},
	{query.FieldEventGroup, func(e *event.Summary) string { return e.EventGroup }},
	{query.FieldAgent, func(e *event.Summary) string { return e.Agent }},
	{query.FieldMonitor, func(e *event.Summary) string { return e.Monitor }},
	{query.FieldCurrentUserName, func(e *event.Summary) string { return e.CurrentUserName }},
}

var identifierFields = []struct {
	field string
	value func(*event.Summary) string
}{
	{query.FieldElementIdentifier, func(e *event.Summary) string { return e.Actor.ElementIdentifier }},
	{query.FieldElementTitle, func(e *event.Summary) string { return e.Actor.ElementTitle }},
	{query.FieldElementSubIdentifier, func(e *event.Summary) string { return e.Actor.ElementSubIdentifier }},
	{query.FieldElementSubTitle, func(e *event.Summary) string { return e.Actor.ElementSubTitle }},
}

// newDocument analyzes e. Details that are not declared in details are kept
// in the source but not indexed.
func newDocument(e *event.Summary, details query.Details) (*document, error) {
	src, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	d := &document{
		uuid:   e.UUID,
		text:   make(map[string][]string),
		nums:   make(map[string][]float64),
		source: src,
		sort:   make(map[string]any),
	}

	d.addText(query.FieldUUID, e.UUID)
	d.addNum(query.FieldStatus, float64(e.Status))
	d.addNum(query.FieldSeverity, float64(e.Severity))
	d.addNum(query.FieldCount, float64(e.Count))
	d.addNum(query.FieldFirstSeenTime, float64(e.FirstSeen))
	d.addNum(query.FieldLastSeenTime, float64(e.LastSeen))
	d.addNum(query.FieldStatusChangeTime, float64(e.StatusChange))
	d.addNum(query.FieldUpdateTime, float64(e.UpdateTime))

	for _, kf := range keywordFields {
		d.addText(kf.field, kf.value(e))
	}
	for _, f := range identifierFields {
		v := f.value(e)
		d.addText(f.field, query.IdentifierTokens(v)...)
		d.addText(query.NonAnalyzed(f.field), strings.ToLower(v))
	}

	d.addText(query.FieldSummary, query.FullTextTokens(e.Summary)...)
	d.addText(query.NonAnalyzed(query.FieldSummary), strings.ToLower(e.Summary))
	d.addText(query.FieldMessage, query.FullTextTokens(e.Message)...)

	if e.EventClass != "" {
		d.addText(query.FieldEventClass, query.PathTokens(e.EventClass)...)
		d.addText(query.NonAnalyzed(query.FieldEventClass), pathKey(e.EventClass))
	}
	d.addText(query.FieldTags, e.TagUUIDs()...)

	d.addDetails(e, details)

	d.sort[string(event.SortUUID)] = e.UUID
	d.sort[string(event.SortStatus)] = int64(e.Status)
	d.sort[string(event.SortSeverity)] = int64(e.Severity)
	d.sort[string(event.SortCount)] = int64(e.Count)
	d.sort[string(event.SortFirstSeen)] = e.FirstSeen
	d.sort[string(event.SortLastSeen)] = e.LastSeen
	d.sort[string(event.SortStatusChange)] = e.StatusChange
	d.sort[string(event.SortUpdateTime)] = e.UpdateTime
	d.sort[string(event.SortElementID)] = strings.ToLower(e.Actor.ElementIdentifier)
	d.sort[string(event.SortElementSubID)] = strings.ToLower(e.Actor.ElementSubIdentifier)
	d.sort[string(event.SortEventClass)] = pathKey(e.EventClass)
	d.sort[string(event.SortSummary)] = strings.ToLower(e.Summary)
	return d, nil
}

func (d *document) addDetails(e *event.Summary, details query.Details) {
	for key, item := range details {
		values := e.DetailValues(key)
		if len(values) == 0 {
			continue
		}
		field := query.DetailField(key)
		switch item.Type {
		case query.DetailString, "":
			d.addText(field, values...)
		case query.DetailInteger, query.DetailLong:
			for _, v := range values {
				n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
				if err != nil {
					slog.Debug("detail_value_skipped", slog.String("uuid", e.UUID), slog.String("detail", key), slog.String("value", v))
					continue
				}
				d.addNum(field, float64(n))
			}
		case query.DetailFloat, query.DetailDouble:
			for _, v := range values {
				n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
				if err != nil {
					slog.Debug("detail_value_skipped", slog.String("uuid", e.UUID), slog.String("detail", key), slog.String("value", v))
					continue
				}
				d.addNum(field, n)
			}
		case query.DetailPath:
			for _, v := range values {
				d.addText(field, query.PathTokens(v)...)
				d.addText(field+query.SortSuffix, pathKey(v))
			}
		case query.DetailIPAddress:
			for _, v := range values {
				addr, err := query.ParseAddress(strings.TrimSpace(v))
				if err != nil {
					slog.Debug("detail_value_skipped", slog.String("uuid", e.UUID), slog.String("detail", key), slog.String("value", v))
					continue
				}
				d.addText(field, query.HostTokens(addr)...)
				d.addText(field+query.IPTypeSuffix, query.IPType(addr))
				d.addText(field+query.SortSuffix, query.CanonicalIP(addr))
			}
		}
	}
}

// pathKey is the untokenized form of a path: lowercased with a trailing
// slash, so "/Status" and its children share the "/status/" prefix.
func pathKey(p string) string {
	if p == "" {
		return ""
	}
	p = strings.ToLower(p)
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

func decodeSource(src []byte) (*event.Summary, error) {
	var e event.Summary
	if err := json.Unmarshal(src, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
