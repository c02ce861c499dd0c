// Package parser decodes the sensor's line protocol.
//
// Each line is "signal,peak[,timestampMs]":
//
//	0.91,1,1001   trigger, value 0.91, source timestamp 1001
//	0.10,0,1050   non-trigger sample
//	0.5,1         trigger without a source timestamp
//
// Numbers are read leniently: the longest valid numeric prefix of a field is
// used and trailing characters are ignored, so "0.5abc" reads as 0.5 and a
// peak of "1.9" reads as 1. A field with no numeric prefix rejects the line.
//
// Parse never panics and never logs; callers decide which rejections are
// worth reporting.
package parser
