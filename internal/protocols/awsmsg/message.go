package awsmsg

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-comm/internal/protocols/ntcip"
)

// Owner is the owner recorded on messages put up by the importer.
const Owner = "AWS"

// Field layout of one message line.
const (
	numRows      = 6
	rowsPerPage  = 3
	minFields    = 12
	maxFields    = 13
	dateLayout   = "20060102150405"
	firstYear    = 2008
	maxPageTenth = 255
)

// Errors returned by Parse.
var (
	ErrFieldCount  = errors.New("awsmsg: wrong number of fields")
	ErrBadDate     = errors.New("awsmsg: invalid date")
	ErrBadID       = errors.New("awsmsg: invalid sign id")
	ErrBadPageTime = errors.New("awsmsg: invalid page on time")
)

// Kind is the message type named by the description field.
type Kind int

// Message kinds.
const (
	KindUnknown Kind = iota
	KindBlank
	KindOnePage
	KindTwoPage
)

var kindNames = map[Kind]string{
	KindUnknown: "unknown",
	KindBlank:   "blank",
	KindOnePage: "one page",
	KindTwoPage: "two page",
}

// String returns the kind name.
func (k Kind) String() string {
	return kindNames[k]
}

func parseKind(desc string) Kind {
	switch {
	case strings.EqualFold(desc, "Blank"):
		return KindBlank
	case strings.EqualFold(desc, "1 Page (Normal)"):
		return KindOnePage
	case strings.EqualFold(desc, "2 Page (Normal)"):
		return KindTwoPage
	default:
		return KindUnknown
	}
}

// Fonts maps the font names of the file to sign font numbers.
type Fonts struct {
	SingleStroke int
	DoubleStroke int
}

// DefaultFonts are the font numbers used when none are configured.
var DefaultFonts = Fonts{SingleStroke: 1, DoubleStroke: 2}

// number returns the font number for name and whether name was known.
// Unknown names fall back to the single stroke font.
func (f Fonts) number(name string) (int, bool) {
	switch name {
	case "Single Stroke":
		return f.SingleStroke, true
	case "Double Stroke":
		return f.DoubleStroke, true
	default:
		return f.SingleStroke, false
	}
}

// Message is one parsed line of the message file.
type Message struct {
	Date        time.Time
	SignID      int
	Description string
	Kind        Kind
	Fonts       [2]int
	Rows        [numRows]string

	// PageOn is the first page's display time in tenths of a second;
	// zero leaves the sign default.
	PageOn int

	// UnknownFonts lists font names that fell back to the default.
	UnknownFonts []string
}

// Parse parses one line of the message file. Dates are local to loc.
func Parse(line string, fonts Fonts, loc *time.Location) (Message, error) {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), ";")
	if len(fields) != minFields && len(fields) != maxFields {
		return Message{}, fmt.Errorf("%w: got %d, want %d or %d", ErrFieldCount, len(fields), minFields, maxFields)
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	var m Message
	var err error
	if m.Date, err = parseDate(fields[0], loc); err != nil {
		return Message{}, err
	}

	m.SignID, err = strconv.Atoi(fields[1])
	if err != nil || m.SignID < 1 {
		return Message{}, fmt.Errorf("%w: %q", ErrBadID, fields[1])
	}

	m.Description = fields[2]
	m.Kind = parseKind(fields[2])

	for i, name := range fields[3:5] {
		n, ok := fonts.number(name)
		if !ok {
			m.UnknownFonts = append(m.UnknownFonts, name)
		}
		m.Fonts[i] = n
	}

	for i := range numRows {
		m.Rows[i] = escape(fields[5+i])
	}

	if m.PageOn, err = parsePageTime(fields[11]); err != nil {
		return Message{}, err
	}
	return m, nil
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	if len(s) != len(dateLayout) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadDate, s)
	}
	t, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %w", ErrBadDate, s, err)
	}
	if t.Year() < firstYear {
		return time.Time{}, fmt.Errorf("%w: year %d before %d", ErrBadDate, t.Year(), firstYear)
	}
	return t, nil
}

// parsePageTime converts seconds to tenths of a second.
func parsePageTime(s string) (int, error) {
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(secs) || secs < 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadPageTime, s)
	}
	tenths := int(math.Round(secs * 10))
	if tenths > maxPageTenth {
		return 0, fmt.Errorf("%w: %q exceeds %.1f s", ErrBadPageTime, s, float64(maxPageTenth)/10)
	}
	return tenths, nil
}

// escape doubles brackets so row text cannot inject MULTI tags.
func escape(row string) string {
	row = strings.ReplaceAll(row, "[", "[[")
	return strings.ReplaceAll(row, "]", "]]")
}

// Multi returns the MULTI markup of the message. The second page is only
// added when one of rows 4-6 has text.
func (m Message) Multi() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[fo%d]", m.Fonts[0])
	if m.PageOn > 0 {
		fmt.Fprintf(&b, "[pt%do]", m.PageOn)
	}
	b.WriteString(page(m.Rows[:rowsPerPage]))

	second := m.Rows[rowsPerPage:]
	if strings.Join(second, "") != "" {
		fmt.Fprintf(&b, "[np][fo%d]", m.Fonts[1])
		b.WriteString(page(second))
	}
	return b.String()
}

// page joins rows with new line tags, dropping trailing empty rows.
func page(rows []string) string {
	n := len(rows)
	for n > 0 && rows[n-1] == "" {
		n--
	}
	return strings.Join(rows[:n], "[nl]")
}

// SignMessage returns the message to display. A message without text
// blanks the sign.
func (m Message) SignMessage() ntcip.SignMessage {
	multi := m.Multi()
	if ntcip.IsBlankMulti(multi) {
		blank := ntcip.BlankMessage()
		blank.Owner = Owner
		return blank
	}
	return ntcip.SignMessage{
		Multi:    multi,
		Priority: ntcip.PriorityAlert,
		Source:   ntcip.SourceOtherSystem,
		Owner:    Owner,
	}
}

// Report returns the audit line written for the message.
func (m Message) Report(now time.Time) string {
	return fmt.Sprintf("%s, %d, %s", now.Format(time.DateTime), m.SignID, strings.Join(m.Rows[:], " / "))
}
