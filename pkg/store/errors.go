package store

import (
	"database/sql"
	"errors"

	"github.com/dbincident/diagd/pkg/diagerr"
)

// classifyPGErr maps a database/sql error onto the shared error
// taxonomy. sql.ErrNoRows is the only case the knowledge store expects
// callers to handle programmatically (a lookup miss); everything else
// is a data-integrity problem — the knowledge store never retries on
// its own since all of its writes are transactional.
func classifyPGErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return diagerr.Wrap(diagerr.KindNotFound, what, err)
	}
	return diagerr.Wrap(diagerr.KindDataIntegrity, what, err)
}
