// Package rainfall groups daily rainfall series into monthly buckets.
package rainfall

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/chadmayfield/rainfalld/internal/dataset"
)

// Mode selects the per-month aggregate.
type Mode int

const (
	Mean Mode = iota
	Sum
)

func (m Mode) String() string {
	switch m {
	case Mean:
		return "mean"
	case Sum:
		return "sum"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts "mean" or "sum".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "mean":
		return Mean, nil
	case "sum":
		return Sum, nil
	default:
		return 0, fmt.Errorf("unknown aggregation mode %q (expected mean or sum)", s)
	}
}

// monthAbbrev holds Portuguese three-letter month names, January first.
var monthAbbrev = [12]string{
	"Jan", "Fev", "Mar", "Abr", "Mai", "Jun",
	"Jul", "Ago", "Set", "Out", "Nov", "Dez",
}

// Bucket is the aggregate of one calendar month.
type Bucket struct {
	Month     int    // 1-12, 0 if the key carries no valid month
	Abbrev    string // "Jan".."Dez", or the raw key for an invalid month
	YearMonth string // YYYY-MM
	Value     float64
	Days      int // numeric readings that contributed
}

type accumulator struct {
	sum   decimal.Decimal
	count int
}

// Aggregate groups series by month and returns the newest window months in
// ascending order. Non-numeric readings are skipped and count towards
// neither the sum nor the number of days. Values are rounded to two decimals.
//
// Month keys are the first seven characters of each date, so dates must be
// YYYY-MM-DD for the result to be meaningful.
func Aggregate(series dataset.DailySeries, mode Mode, window int) []Bucket {
	if len(series) == 0 || window <= 0 {
		return []Bucket{}
	}

	dates := make([]string, 0, len(series))
	for d := range series {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	months := make(map[string]*accumulator)
	for _, d := range dates {
		v, ok := series[d].Millimeters()
		if !ok {
			continue
		}
		key := monthKey(d)
		acc, ok := months[key]
		if !ok {
			acc = &accumulator{}
			months[key] = acc
		}
		acc.sum = acc.sum.Add(decimal.NewFromFloat(v))
		acc.count++
	}

	keys := make([]string, 0, len(months))
	for k := range months {
		keys = append(keys, k)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	if len(keys) > window {
		keys = keys[:window]
	}
	sort.Strings(keys)

	buckets := make([]Bucket, 0, len(keys))
	for _, k := range keys {
		acc := months[k]
		value := acc.sum
		if mode == Mean {
			value = value.Div(decimal.NewFromInt(int64(acc.count)))
		}

		month := monthNumber(k)
		abbrev := k
		if month >= 1 && month <= 12 {
			abbrev = monthAbbrev[month-1]
		}

		buckets = append(buckets, Bucket{
			Month:     month,
			Abbrev:    abbrev,
			YearMonth: k,
			Value:     value.Round(2).InexactFloat64(),
			Days:      acc.count,
		})
	}
	return buckets
}

func monthKey(date string) string {
	if len(date) < 7 {
		return date
	}
	return date[:7]
}

// monthNumber reads characters 6-7 of a YYYY-MM key. It returns 0 when the
// key is too short or not numeric there.
func monthNumber(key string) int {
	if len(key) < 7 {
		return 0
	}
	n, err := strconv.Atoi(key[5:7])
	if err != nil {
		return 0
	}
	return n
}
