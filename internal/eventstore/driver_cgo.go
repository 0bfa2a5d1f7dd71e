//go:build cgo

package eventstore

// The cgo driver registers as "sqlite3" and is selected with store.driver.
import _ "github.com/mattn/go-sqlite3"
