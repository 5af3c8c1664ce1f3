package table

import "encoding/json"

// tokenKind enumerates the ten symbolic pending-update tokens a
// dual-timeline transaction can accumulate per object before commit,
// grounded on DualVersionedUpdate in the original implementation.
type tokenKind int

const (
	tokInsert tokenKind = iota
	tokRemove
	tokActivate
	tokActivateInsert
	tokActivateRemove
	tokInsertActivate
	tokInsertActivateInsert
	tokInsertActivateRemove
	tokRemoveActivate
	tokRemoveActivateInsert
)

// token is the symbolic rewrite-rule representation of one object's
// pending edits within a transaction. Before holds the payload staged
// by an Insert that was later superseded by an Activate (the value
// that becomes the new active record); After holds the most recently
// staged Insert payload (the value that becomes or stays current);
// Commit applies to After.
type token struct {
	kind   tokenKind
	before json.RawMessage
	after  json.RawMessage
	commit bool
}

func newInsertToken(value json.RawMessage, commit bool) token {
	return token{kind: tokInsert, after: value, commit: commit}
}

func newRemoveToken() token { return token{kind: tokRemove} }

func newActivateToken() token { return token{kind: tokActivate} }

// insert folds a pending Insert(value, commit) into t.
func (t token) insert(value json.RawMessage, commit bool) token {
	switch t.kind {
	case tokInsert, tokRemove:
		return token{kind: tokInsert, after: value, commit: commit}
	case tokActivate, tokActivateInsert, tokActivateRemove:
		return token{kind: tokActivateInsert, after: value, commit: commit}
	case tokInsertActivate, tokInsertActivateInsert, tokInsertActivateRemove:
		return token{kind: tokInsertActivateInsert, before: t.before, after: value, commit: commit}
	case tokRemoveActivate, tokRemoveActivateInsert:
		return token{kind: tokRemoveActivateInsert, after: value, commit: commit}
	}
	return t
}

// remove folds a pending Remove into t.
func (t token) remove() token {
	switch t.kind {
	case tokInsert, tokRemove:
		return token{kind: tokRemove}
	case tokActivate, tokActivateInsert, tokActivateRemove:
		return token{kind: tokActivateRemove}
	case tokInsertActivate, tokInsertActivateInsert, tokInsertActivateRemove:
		return token{kind: tokInsertActivateRemove, before: t.before}
	case tokRemoveActivate, tokRemoveActivateInsert:
		return token{kind: tokRemoveActivate}
	}
	return t
}

// activate folds a pending Activate into t.
func (t token) activate() token {
	switch t.kind {
	case tokActivate, tokInsertActivate, tokRemoveActivate:
		return t
	case tokInsert, tokActivateInsert, tokInsertActivateInsert, tokRemoveActivateInsert:
		return token{kind: tokInsertActivate, before: t.after}
	case tokRemove, tokActivateRemove, tokInsertActivateRemove:
		return token{kind: tokRemoveActivate}
	}
	return t
}

// tokenGetCurrent projects the current-timeline payload a token
// implies, given a fallback for the base (pre-transaction) current
// value. Only Activate is transparent on current - every other token
// either names a decisive payload or decisively has none, and a
// decisive None is never replaced by the base value.
func tokenGetCurrent(t token, baseCurrent func() (json.RawMessage, bool)) (json.RawMessage, bool) {
	switch t.kind {
	case tokInsert, tokActivateInsert, tokRemoveActivateInsert:
		return t.after, true
	case tokInsertActivate:
		return t.before, true
	case tokInsertActivateInsert:
		return t.after, true
	case tokRemove, tokActivateRemove, tokInsertActivateRemove, tokRemoveActivate:
		return nil, false
	case tokActivate:
		return baseCurrent()
	}
	return nil, false
}

// tokenGetActive projects the active-timeline payload a token implies.
// Insert/Remove are transparent on active (fall back to the base
// active value); Activate/ActivateInsert/ActivateRemove are transparent
// too, but fall back to the base CURRENT value, since activating means
// "the current record becomes active". Everything else is decisive.
func tokenGetActive(t token, baseCurrent, baseActive func() (json.RawMessage, bool)) (json.RawMessage, bool) {
	switch t.kind {
	case tokInsert, tokRemove:
		return baseActive()
	case tokActivate, tokActivateInsert, tokActivateRemove:
		return baseCurrent()
	case tokInsertActivate, tokInsertActivateInsert, tokInsertActivateRemove:
		return t.before, true
	case tokRemoveActivate, tokRemoveActivateInsert:
		return nil, false
	}
	return nil, false
}
