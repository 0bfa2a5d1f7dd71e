//go:build cgo

package store

// Registers the "sqlite3" driver for sqlite backends opened with DriverCGO.
import _ "github.com/mattn/go-sqlite3"
