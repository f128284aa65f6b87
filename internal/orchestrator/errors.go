package orchestrator

import (
	"errors"

	"github.com/JakeFAU/storefront-watch/internal/crawler"
)

type acquisitionError struct{ err error }

func (e acquisitionError) Error() string { return e.err.Error() }
func (e acquisitionError) Unwrap() error { return e.err }

type persistenceError struct{ err error }

func (e persistenceError) Error() string { return e.err.Error() }
func (e persistenceError) Unwrap() error { return e.err }

type extractionError struct{ err error }

func (e extractionError) Error() string { return e.err.Error() }
func (e extractionError) Unwrap() error { return e.err }

func errorKind(err error) crawler.ErrorKind {
	var (
		acq  acquisitionError
		pers persistenceError
	)
	switch {
	case errors.As(err, &acq):
		return crawler.ErrorKindAcquisition
	case errors.As(err, &pers):
		return crawler.ErrorKindPersistence
	default:
		return crawler.ErrorKindExtraction
	}
}
