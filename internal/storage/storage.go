package storage

import "github.com/mitakash/ajna-keeper-sub001/internal/model"

// AuditSink receives a record for every dispatched action.
type AuditSink interface {
	PutActionRecord(record model.ActionRecord) error
}

// MultiSink fans one record out to several sinks, returning the first
// error after trying every sink.
type MultiSink []AuditSink

func (m MultiSink) PutActionRecord(record model.ActionRecord) error {
	var firstErr error
	for _, sink := range m {
		if err := sink.PutActionRecord(record); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
