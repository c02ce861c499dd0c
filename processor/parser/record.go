package parser

import (
	"strings"
)

// TriggerPeak is the peak flag value that marks a trigger sample.
const TriggerPeak = 1

// Sample is one decoded sensor record.
type Sample struct {
	Value           float64
	Peak            int64
	IsTrigger       bool
	SourceTimestamp *int64 // nil when absent or not numeric
}

// RecordParser decodes "signal,peak[,timestampMs]" lines.
type RecordParser struct{}

// NewRecordParser creates a record parser.
func NewRecordParser() *RecordParser {
	return &RecordParser{}
}

// Format returns the format name
func (p *RecordParser) Format() string {
	return "csv-record"
}

// Parse decodes one line. Rejections return ErrEmptyLine, ErrTooFewFields or
// ErrNotNumeric. An unparseable third field is not a rejection; the sample
// simply has no source timestamp.
func (p *RecordParser) Parse(line string) (Sample, error) {
	line = strings.TrimFunc(strings.ReplaceAll(line, "\r", ""), isSpace)
	if line == "" {
		return Sample{}, ErrEmptyLine
	}

	fields := strings.Split(line, ",")
	if len(fields) < 2 {
		return Sample{}, ErrTooFewFields
	}

	value, ok := leadingFloat(fields[0])
	if !ok {
		return Sample{}, ErrNotNumeric
	}
	peak, ok := leadingInt(fields[1])
	if !ok {
		return Sample{}, ErrNotNumeric
	}

	s := Sample{
		Value:     value,
		Peak:      peak,
		IsTrigger: peak == TriggerPeak,
	}
	if len(fields) >= 3 {
		if ts, ok := leadingInt(fields[2]); ok {
			s.SourceTimestamp = &ts
		}
	}
	return s, nil
}

// Parse decodes one line with a zero-value RecordParser.
func Parse(line string) (Sample, error) {
	var p RecordParser
	return p.Parse(line)
}
