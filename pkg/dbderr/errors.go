// Package dbderr defines the sentinel error taxonomy shared by the table
// engine, the document store and the RPC surface.
package dbderr

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Use errors.Is against these to classify an error for
// RPC serialization; use the typed wrappers below (errors.As) to recover
// the offending table/object id.
var (
	ErrTableNotFound       = errors.New("table not found")
	ErrObjectDoesNotExist  = errors.New("object does not exist")
	ErrObjectIDExists      = errors.New("object id already exists")
	ErrTableNotReady       = errors.New("table not ready")
	ErrSchema              = errors.New("value rejected by schema")
	ErrWrongVersioningType = errors.New("wrong versioning type for table")
	ErrNoTimeline          = errors.New("method not valid for this table's timeline")
	ErrNotTimestamped      = errors.New("method only valid for timestamped tables")
	ErrInconsistentData    = errors.New("inconsistent data for object")
	ErrBulkPartial         = errors.New("bulk update partially failed")
	ErrBulkComplete        = errors.New("bulk update failed")
	ErrNoVerificationRun   = errors.New("no verification run with this id")
	ErrBackend             = errors.New("document store backend error")
	ErrTimeout             = errors.New("operation timed out")
)

// TableNotFoundError names the missing table id.
type TableNotFoundError struct {
	TableID string
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("table not found: %s", e.TableID)
}

func (e *TableNotFoundError) Unwrap() error { return ErrTableNotFound }

// TableNotReadyError names the table and its current transitional marker.
type TableNotReadyError struct {
	TableID string
	Marker  string
}

func (e *TableNotReadyError) Error() string {
	return fmt.Sprintf("table %s is %s", e.TableID, e.Marker)
}

func (e *TableNotReadyError) Unwrap() error { return ErrTableNotReady }

// ObjectDoesNotExistError names the table and object id.
type ObjectDoesNotExistError struct {
	TableID  string
	ObjectID string
}

func (e *ObjectDoesNotExistError) Error() string {
	return fmt.Sprintf("object id %q does not exist in table %q", e.ObjectID, e.TableID)
}

func (e *ObjectDoesNotExistError) Unwrap() error { return ErrObjectDoesNotExist }

// ObjectIDExistsError names the table and object id.
type ObjectIDExistsError struct {
	TableID  string
	ObjectID string
}

func (e *ObjectIDExistsError) Error() string {
	return fmt.Sprintf("object id %q already exists in table %q", e.ObjectID, e.TableID)
}

func (e *ObjectIDExistsError) Unwrap() error { return ErrObjectIDExists }

// InconsistentDataError names the table and the storage document id whose
// fold across the loaded records violated a dual-timeline invariant.
type InconsistentDataError struct {
	TableID string
	DocID   string
}

func (e *InconsistentDataError) Error() string {
	return fmt.Sprintf("inconsistent data in table %s, document id %s", e.TableID, e.DocID)
}

func (e *InconsistentDataError) Unwrap() error { return ErrInconsistentData }

// WrongVersioningTypeError reports a method called against a table whose
// VersioningType does not support it.
type WrongVersioningTypeError struct {
	TableID string
	Got     string
	Want    string
}

func (e *WrongVersioningTypeError) Error() string {
	return fmt.Sprintf("invalid query for %s table %q; only available for %s tables", e.Got, e.TableID, e.Want)
}

func (e *WrongVersioningTypeError) Unwrap() error { return ErrWrongVersioningType }

// SchemaError wraps a value-schema rejection with the offending detail.
type SchemaError struct {
	Detail string
}

func (e *SchemaError) Error() string { return "schema error: " + e.Detail }

func (e *SchemaError) Unwrap() error { return ErrSchema }

// NoVerificationRunError names the missing verification id.
type NoVerificationRunError struct {
	VerificationID string
}

func (e *NoVerificationRunError) Error() string {
	return fmt.Sprintf("no verification run with id %s is currently in progress", e.VerificationID)
}

func (e *NoVerificationRunError) Unwrap() error { return ErrNoVerificationRun }

// BackendError wraps an error returned by the document store driver.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string { return fmt.Sprintf("document store: %s: %v", e.Op, e.Err) }

func (e *BackendError) Unwrap() error { return errors.Join(ErrBackend, e.Err) }

// Kind classifies err for RPC serialization. Returns "internal" for
// anything not in the taxonomy.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTableNotFound), errors.Is(err, ErrObjectDoesNotExist):
		return "not_found"
	case errors.Is(err, ErrObjectIDExists):
		return "conflict"
	case errors.Is(err, ErrTableNotReady):
		return "not_ready"
	case errors.Is(err, ErrSchema), errors.Is(err, ErrWrongVersioningType),
		errors.Is(err, ErrNoTimeline), errors.Is(err, ErrNotTimestamped):
		return "shape"
	case errors.Is(err, ErrInconsistentData):
		return "consistency"
	case errors.Is(err, ErrBackend), errors.Is(err, ErrBulkPartial), errors.Is(err, ErrBulkComplete):
		return "backend"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "internal"
	}
}
