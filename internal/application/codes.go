package application

import (
	"crypto/rand"
	"io"
	"math/big"
	"regexp"
	"strings"
	"time"
)

const (
	// ReferenceCodePrefix starts every reference code.
	ReferenceCodePrefix = "UTM"
	// ReferenceCodeBodyLength is the number of base-36 characters after the prefix.
	ReferenceCodeBodyLength = 9
	// CheckInCodeLength is the number of digits an operator enters at check-in.
	CheckInCodeLength = 6

	// DateLabelLayout formats the slot date shown on bookings, e.g. "Sun, Nov 16".
	DateLabelLayout = "Mon, Jan 2"
	// SlotTimeLayout parses the start of a time label such as "8:00 AM - 9:00 AM".
	SlotTimeLayout = "3:04 PM"
)

const (
	base36Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitAlphabet  = "0123456789"
)

var (
	referenceCodePattern = regexp.MustCompile(`^UTM[0-9A-Z]{9}$`)
	nonDigitPattern      = regexp.MustCompile(`\D`)
)

// CodeGenerator issues the human-facing codes assigned at booking creation.
type CodeGenerator interface {
	ReferenceCode() string
	CheckInCode() string
}

// RandomCodes draws codes from a cryptographically secure source.
type RandomCodes struct {
	// Source defaults to crypto/rand.Reader.
	Source io.Reader
}

// ReferenceCode returns "UTM" followed by nine uppercase base-36 characters.
func (g RandomCodes) ReferenceCode() string {
	return ReferenceCodePrefix + randomString(g.source(), base36Alphabet, ReferenceCodeBodyLength)
}

// CheckInCode returns six random digits.
func (g RandomCodes) CheckInCode() string {
	return randomString(g.source(), digitAlphabet, CheckInCodeLength)
}

func (g RandomCodes) source() io.Reader {
	if g.Source != nil {
		return g.Source
	}
	return rand.Reader
}

func randomString(source io.Reader, alphabet string, length int) string {
	max := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(source, max)
		if err != nil {
			panic("application: random source failed: " + err.Error())
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String()
}

// ValidReferenceCode reports whether code has the issued reference code format.
func ValidReferenceCode(code string) bool {
	return referenceCodePattern.MatchString(code)
}

// NormalizeCheckInCode strips every non-digit from operator input and requires
// exactly six digits to remain.
func NormalizeCheckInCode(input string) (string, error) {
	code := nonDigitPattern.ReplaceAllString(input, "")
	if len(code) != CheckInCodeLength {
		return "", newValidationError("code", "must contain exactly 6 digits")
	}
	return code, nil
}

// DateLabel formats t in loc as a booking date label.
func DateLabel(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLabelLayout)
}

// slotStart parses the start time of a time label. Unparseable labels report false.
func slotStart(timeLabel string) (time.Time, bool) {
	start, _, _ := strings.Cut(timeLabel, "-")
	t, err := time.Parse(SlotTimeLayout, strings.TrimSpace(start))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
