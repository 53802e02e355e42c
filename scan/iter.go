package scan

import (
	stderrors "errors"
	"iter"
)

// Done is returned by Next when no reports remain. It is not an error
// condition, in the manner of io.EOF.
var Done = stderrors.New("scan: no more reports")

// ReportIter walks the legacy reports of a batch. After a decode error it
// yields Done forever.
type ReportIter struct {
	remaining int
	bytes     []byte
}

// Next returns the next report, a decode error, or Done
func (it *ReportIter) Next() (AdvReport, error) {
	if it.remaining == 0 {
		return nil, Done
	}
	r, rest, err := parseAdvReport(it.bytes)
	if err != nil {
		it.remaining = 0
		it.bytes = nil
		return nil, err
	}
	it.bytes = rest
	it.remaining--
	return r, nil
}

// Len returns the number of reports still expected
func (it *ReportIter) Len() int {
	return it.remaining
}

// All adapts the iterator to a range-over-func sequence. The sequence ends
// at Done; a decode error is yielded once as the final element.
func (it *ReportIter) All() iter.Seq2[AdvReport, error] {
	return func(yield func(AdvReport, error) bool) {
		for {
			r, err := it.Next()
			if err == Done {
				return
			}
			if !yield(r, err) || err != nil {
				return
			}
		}
	}
}

// ExtReportIter walks the extended reports of a batch. After a decode
// error it yields Done forever.
type ExtReportIter struct {
	remaining int
	bytes     []byte
}

// Next returns the next report, a decode error, or Done
func (it *ExtReportIter) Next() (ExtAdvReport, error) {
	if it.remaining == 0 {
		return nil, Done
	}
	r, rest, err := parseExtAdvReport(it.bytes)
	if err != nil {
		it.remaining = 0
		it.bytes = nil
		return nil, err
	}
	it.bytes = rest
	it.remaining--
	return r, nil
}

// Len returns the number of reports still expected
func (it *ExtReportIter) Len() int {
	return it.remaining
}

// All adapts the iterator to a range-over-func sequence
func (it *ExtReportIter) All() iter.Seq2[ExtAdvReport, error] {
	return func(yield func(ExtAdvReport, error) bool) {
		for {
			r, err := it.Next()
			if err == Done {
				return
			}
			if !yield(r, err) || err != nil {
				return
			}
		}
	}
}
