package query

// IndexVersion changes whenever the indexed document layout changes, which
// forces every backend to rebuild.
const IndexVersion = 8

// Index field names.
const (
	FieldUUID                 = "uuid"
	FieldStatus               = "status"
	FieldCount                = "count"
	FieldFirstSeenTime        = "first_seen_time"
	FieldLastSeenTime         = "last_seen_time"
	FieldStatusChangeTime     = "status_change_time"
	FieldUpdateTime           = "update_time"
	FieldElementIdentifier    = "element_identifier"
	FieldElementTitle         = "element_title"
	FieldElementSubIdentifier = "element_sub_identifier"
	FieldElementSubTitle      = "element_sub_title"
	FieldFingerprint          = "fingerprint"
	FieldSummary              = "summary"
	FieldMessage              = "message"
	FieldSeverity             = "severity"
	FieldEventClass           = "event_class"
	FieldEventClassKey        = "event_class_key"
	FieldEventKey             = "event_key"
	FieldEventGroup           = "event_group"
	FieldAgent                = "agent"
	FieldMonitor              = "monitor"
	FieldCurrentUserName      = "current_user_name"
	FieldTags                 = "tag"

	// DetailPrefix is prepended to an indexed detail's key.
	DetailPrefix = "details."

	NotAnalyzedSuffix = "_not_analyzed"
	SortSuffix        = "_sort"
	IPTypeSuffix      = "_type"
	IPType4           = "4"
	IPType6           = "6"
)

// MinNGramSize is the identifier n-gram length. Shorter values fall back to
// prefix matching.
const MinNGramSize = 3

var nonAnalyzed = map[string]string{
	FieldElementIdentifier:    FieldElementIdentifier + NotAnalyzedSuffix,
	FieldElementTitle:         FieldElementTitle + NotAnalyzedSuffix,
	FieldElementSubIdentifier: FieldElementSubIdentifier + NotAnalyzedSuffix,
	FieldElementSubTitle:      FieldElementSubTitle + NotAnalyzedSuffix,
	FieldSummary:              FieldSummary + NotAnalyzedSuffix,
	FieldEventClass:           FieldEventClass + NotAnalyzedSuffix,
}

// NonAnalyzed names the lowercased, untokenized twin of an analyzed field.
// Detail fields use the _sort suffix.
func NonAnalyzed(field string) string {
	if f, ok := nonAnalyzed[field]; ok {
		return f
	}
	return field + SortSuffix
}

// DetailField is the index field for detail key.
func DetailField(key string) string {
	return DetailPrefix + key
}
