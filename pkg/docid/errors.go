package docid

import "errors"

// ErrInvalidDocID is returned when a docId (or a component of a composite
// docId) uses characters outside the legal [-=_\w~%]+ class, or when a
// composite id is malformed (e.g. a non-numeric fork user id).
var ErrInvalidDocID = errors.New("invalid docId")
