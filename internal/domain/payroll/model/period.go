package model

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PeriodCategory separates regular monthly periods from FOPID contribution periods.
type PeriodCategory string

const (
	CategoryRegular PeriodCategory = "REGULAR"
	CategoryFOPID   PeriodCategory = "FOPID"
)

var ErrInvalidPeriod = errors.New("invalid period")

// Period identifies a payroll period. Year and Month are zero when a document only
// carried the bare FOPID marker.
type Period struct {
	Year     int            `json:"year"`
	Month    int            `json:"month"`
	Category PeriodCategory `json:"category"`
}

var spanishMonths = map[string]int{
	"ENERO": 1, "ENE": 1,
	"FEBRERO": 2, "FEB": 2,
	"MARZO": 3, "MAR": 3,
	"ABRIL": 4, "ABR": 4,
	"MAYO": 5, "MAY": 5,
	"JUNIO": 6, "JUN": 6,
	"JULIO": 7, "JUL": 7,
	"AGOSTO": 8, "AGO": 8,
	"SEPTIEMBRE": 9, "SETIEMBRE": 9, "SEP": 9, "SET": 9,
	"OCTUBRE": 10, "OCT": 10,
	"NOVIEMBRE": 11, "NOV": 11,
	"DICIEMBRE": 12, "DIC": 12,
}

var (
	yearMonthPattern = regexp.MustCompile(`^(\d{4})[-/.](\d{1,2})$`)
	monthYearPattern = regexp.MustCompile(`^(\d{1,2})[-/.](\d{4})$`)
	namedPattern     = regexp.MustCompile(`^([A-Z]+)[\s/\-.]*(\d{4})$`)
	separatorPattern = regexp.MustCompile(`[\s_]+`)
)

// ParsePeriod reads period tokens such as "2024-03", "03/2024", "MARZO 2024",
// "2024-03-FOPID" or a bare "FOPID".
func ParsePeriod(raw string) (Period, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return Period{}, fmt.Errorf("%w: empty", ErrInvalidPeriod)
	}

	p := Period{Category: CategoryRegular}
	if strings.Contains(s, string(CategoryFOPID)) {
		p.Category = CategoryFOPID
		s = strings.ReplaceAll(s, string(CategoryFOPID), " ")
	}
	s = strings.Trim(separatorPattern.ReplaceAllString(s, " "), " -/.")

	if s == "" {
		if p.Category == CategoryFOPID {
			return p, nil
		}
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, raw)
	}

	var year, month int
	switch {
	case yearMonthPattern.MatchString(s):
		m := yearMonthPattern.FindStringSubmatch(s)
		year, _ = strconv.Atoi(m[1])
		month, _ = strconv.Atoi(m[2])
	case monthYearPattern.MatchString(s):
		m := monthYearPattern.FindStringSubmatch(s)
		month, _ = strconv.Atoi(m[1])
		year, _ = strconv.Atoi(m[2])
	case namedPattern.MatchString(s):
		m := namedPattern.FindStringSubmatch(s)
		n, ok := spanishMonths[m[1]]
		if !ok {
			return Period{}, fmt.Errorf("%w: unknown month %q", ErrInvalidPeriod, m[1])
		}
		month = n
		year, _ = strconv.Atoi(m[2])
	default:
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, raw)
	}

	p.Year, p.Month = year, month
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// Validate requires a concrete year and month, as needed for a target period.
func (p Period) Validate() error {
	if p.Year < 1900 || p.Year > 9999 {
		return fmt.Errorf("%w: year %d", ErrInvalidPeriod, p.Year)
	}
	if p.Month < 1 || p.Month > 12 {
		return fmt.Errorf("%w: month %d", ErrInvalidPeriod, p.Month)
	}
	if p.Category != CategoryRegular && p.Category != CategoryFOPID {
		return fmt.Errorf("%w: category %q", ErrInvalidPeriod, p.Category)
	}
	return nil
}

// String is the period key used in storage paths and URLs.
func (p Period) String() string {
	if p.Year == 0 {
		return string(p.Category)
	}
	key := fmt.Sprintf("%04d-%02d", p.Year, p.Month)
	if p.Category == CategoryFOPID {
		key += "-" + string(CategoryFOPID)
	}
	return key
}
