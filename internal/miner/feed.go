package miner

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// FeedRecord is one project listed in an input feed.
type FeedRecord struct {
	Line  int
	URL   string
	ID    int64
	HasID bool
}

// FeedError describes a malformed feed record.
type FeedError struct {
	Source string
	Line   int
	Reason string
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Source, e.Line, e.Reason)
}

func (e *FeedError) Unwrap() error {
	return ErrInvalidRecord
}

// ParseFeed reads a CSV feed of projects: one record per line holding either the url,
// or the url followed by an explicit numeric project id. Blank lines and lines starting
// with '#' are ignored.
//
// fn is called for every valid record; an error from fn stops parsing. Malformed records
// are passed to invalid and skipped. source names the feed in error messages.
func ParseFeed(r io.Reader, source string, fn func(FeedRecord) error, invalid func(*FeedError)) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	for {
		fields, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				invalid(&FeedError{Source: source, Line: perr.StartLine, Reason: perr.Err.Error()})
				continue
			}
			return fmt.Errorf("reading feed %s: %w", source, err)
		}

		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			continue
		}
		line, _ := cr.FieldPos(0)
		rec, ferr := parseFeedRecord(fields, line)
		if ferr != nil {
			ferr.Source = source
			invalid(ferr)
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

func parseFeedRecord(fields []string, line int) (FeedRecord, *FeedError) {
	rec := FeedRecord{Line: line}
	if len(fields) != 1 && len(fields) != 2 {
		return rec, &FeedError{Line: line, Reason: fmt.Sprintf("expected 1 or 2 fields, got %d", len(fields))}
	}
	rec.URL = strings.TrimSpace(fields[0])
	if rec.URL == "" {
		return rec, &FeedError{Line: line, Reason: "empty url"}
	}
	if len(fields) == 2 {
		id, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
		if err != nil || id < 0 {
			return rec, &FeedError{Line: line, Reason: fmt.Sprintf("invalid project id %q", fields[1])}
		}
		rec.ID = id
		rec.HasID = true
	}
	return rec, nil
}

// WriteFeed writes failures as a feed that can be passed to a later run.
func WriteFeed(w io.Writer, failures []*Failure) error {
	cw := csv.NewWriter(w)
	for _, f := range failures {
		if err := cw.Write([]string{f.URL, strconv.FormatInt(f.ProjectID, 10)}); err != nil {
			return fmt.Errorf("writing feed: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing feed: %w", err)
	}
	return nil
}
