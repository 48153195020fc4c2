package consensus

import "errors"

// ErrInvalidBlock is returned by Validator.IsValidErr when a block fails any
// of the acceptance predicates.
var ErrInvalidBlock = errors.New("consensus: block failed validation")

// Not-eligible ("hit never cleared target this round") and stale-view
// ("no last block yet") conditions are not wrapped in sentinels: they are
// the overwhelmingly common, expected outcome of most forging attempts, so
// Forger.TryGenerateNextBlock reports them as a plain (nil, nil) rather than
// an error a caller would feel obliged to log or handle.
