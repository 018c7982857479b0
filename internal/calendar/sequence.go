package calendar

import (
	"encoding/json"
	"fmt"
	"os"
)

// Sequence wraps the externally supplied, strictly increasing trading-date
// list a backtest runs over. Per spec §3, the engine only ever reasons
// about trading-day distances ("D + holding_period", "D − first_enqueued_date")
// in terms of positions within this sequence, never via independent
// calendar arithmetic — a holiday file can disagree with what the bar
// provider actually shipped, and the sequence is the ground truth for a
// given run.
type Sequence struct {
	dates []Date
	index map[Date]int
}

// NewSequence builds a Sequence from a strictly increasing list of dates.
func NewSequence(dates []Date) (*Sequence, error) {
	index := make(map[Date]int, len(dates))
	for i, d := range dates {
		if i > 0 && dates[i-1] >= d {
			return nil, fmt.Errorf("calendar: trading-date sequence not strictly increasing at index %d (%s >= %s)", i, dates[i-1], d)
		}
		index[d] = i
	}
	return &Sequence{dates: dates, index: index}, nil
}

// Len returns the number of trading days in the sequence.
func (s *Sequence) Len() int { return len(s.dates) }

// At returns the date at position i.
func (s *Sequence) At(i int) Date { return s.dates[i] }

// All returns the full ordered date slice. Callers must not mutate it.
func (s *Sequence) All() []Date { return s.dates }

// IndexOf returns the position of d within the sequence.
func (s *Sequence) IndexOf(d Date) (int, bool) {
	i, ok := s.index[d]
	return i, ok
}

// Contains reports whether d is part of the sequence.
func (s *Sequence) Contains(d Date) bool {
	_, ok := s.index[d]
	return ok
}

// Add returns the date n trading days after d (n may be negative), or
// false if that position falls outside the sequence.
func (s *Sequence) Add(d Date, n int) (Date, bool) {
	i, ok := s.index[d]
	if !ok {
		return "", false
	}
	j := i + n
	if j < 0 || j >= len(s.dates) {
		return "", false
	}
	return s.dates[j], true
}

// TradingDaysBetween returns the count of trading days in (a, b], i.e.
// IndexOf(b) - IndexOf(a). Returns false if either date is not in the
// sequence.
func (s *Sequence) TradingDaysBetween(a, b Date) (int, bool) {
	ia, ok := s.index[a]
	if !ok {
		return 0, false
	}
	ib, ok := s.index[b]
	if !ok {
		return 0, false
	}
	return ib - ia, true
}

// First returns the first date in the sequence.
func (s *Sequence) First() Date { return s.dates[0] }

// Last returns the final date in the sequence.
func (s *Sequence) Last() Date { return s.dates[len(s.dates)-1] }

// LoadSequence reads spec §6's trading-calendar input — a JSON array of
// strictly increasing YYYYMMDD strings — from path and builds a
// Sequence from it. This is the file config.json's market_calendar_path
// names.
func LoadSequence(path string) (*Sequence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("calendar: read trading calendar %s: %w", path, err)
	}
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("calendar: parse trading calendar %s: %w", path, err)
	}
	dates := make([]Date, len(raw))
	for i, s := range raw {
		d, err := ParseDate(s)
		if err != nil {
			return nil, fmt.Errorf("calendar: trading calendar %s: %w", path, err)
		}
		dates[i] = d
	}
	return NewSequence(dates)
}
