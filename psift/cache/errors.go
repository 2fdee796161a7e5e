package cache

import (
	"errors"
	"fmt"

	"github.com/pathsift/pathsift/psift/query"
)

// Error kinds surfaced across the engine boundary.
var (
	// ErrCancelled is returned by long operations superseded by a newer
	// search. It is cooperative and never logged as an error.
	ErrCancelled = errors.New("operation cancelled")
	// ErrQuerySyntax reports an unparseable query.
	ErrQuerySyntax = errors.New("query syntax error")
	// ErrUnsupportedFilter reports a filter the parser accepted but the
	// engine cannot evaluate.
	ErrUnsupportedFilter = errors.New("unsupported filter")
	// ErrRegexInvalid reports an invalid regex: pattern.
	ErrRegexInvalid = errors.New("invalid regex")
	// ErrIntegrity reports a violated structural invariant; the current
	// operation is abandoned and the caller should rebuild.
	ErrIntegrity = errors.New("integrity failure")
	// ErrRescanRequired asks the caller to schedule a full rebuild because
	// event reconciliation could not restore the invariants.
	ErrRescanRequired = errors.New("full rescan required")
)

// wrapParseError maps query parse failures onto the boundary taxonomy.
func wrapParseError(err error) error {
	var perr *query.ParseError
	if errors.As(err, &perr) {
		if perr.Regex {
			return fmt.Errorf("%w: %s", ErrRegexInvalid, perr.Error())
		}
		return fmt.Errorf("%w: %s", ErrQuerySyntax, perr.Error())
	}
	return err
}
