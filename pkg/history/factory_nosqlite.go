//go:build !sqlite

package history

import "fmt"

func newSQLiteStore(_ Options) (Store, error) {
	return nil, fmt.Errorf("sqlite backend unavailable in this build; rebuild with -tags sqlite")
}
