package store

import (
	"fmt"
	"os"

	"github.com/zenoss/zenoss-zep-sub000/internal/config"
	"github.com/zenoss/zenoss-zep-sub000/internal/query"
)

// New opens the backend described by cfg. The path in cfg is a base path:
// ".bleve" (a directory) or ".db" is appended according to the type. An
// empty path keeps the index in memory.
//
// driver selects the SQLite driver for the "sqlite" type: "sqlite" (pure Go,
// default) or "sqlite3" (cgo builds only).
func New(cfg config.BackendConfig, details query.Details, driver string) (*Index, error) {
	opts := Options{
		ID:          cfg.ID,
		Details:     details,
		CacheSize:   cfg.CacheSize,
		MaxResultMB: cfg.MaxResultMB,
	}
	switch cfg.Type {
	case config.BackendBleve, "":
		eng, err := openBleve(IndexPath(cfg.Path, config.BackendBleve), details)
		if err != nil {
			return nil, err
		}
		return newIndex(config.BackendBleve, eng, opts)

	case config.BackendSQLite:
		eng, err := openSQLite(IndexPath(cfg.Path, config.BackendSQLite), driver)
		if err != nil {
			return nil, err
		}
		return newIndex(config.BackendSQLite, eng, opts)

	default:
		return nil, fmt.Errorf("unknown backend type: %s (valid options: bleve, sqlite)", cfg.Type)
	}
}

// IndexPath returns the on-disk location for a backend type.
func IndexPath(basePath, kind string) string {
	if basePath == "" {
		return ""
	}
	if kind == config.BackendSQLite {
		return basePath + ".db"
	}
	return basePath + ".bleve"
}

// DetectType reports which backend type already has files under basePath,
// or "" if none does.
func DetectType(basePath string) string {
	if fileExists(basePath + ".db") {
		return config.BackendSQLite
	}
	if dirExists(basePath + ".bleve") {
		return config.BackendBleve
	}
	return ""
}

// DetailsFromConfig converts the configured indexed details.
func DetailsFromConfig(items []config.IndexedDetail) query.Details {
	out := make([]query.DetailItem, 0, len(items))
	for _, it := range items {
		out = append(out, query.DetailItem{Key: it.Key, Name: it.Name, Type: query.DetailType(it.Type)})
	}
	return query.NewDetails(out)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
