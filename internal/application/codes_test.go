package application

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomCodes(t *testing.T) {
	t.Parallel()

	codes := RandomCodes{}
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		ref := codes.ReferenceCode()
		assert.Regexp(t, `^UTM[0-9A-Z]{9}$`, ref)
		seen[ref] = struct{}{}

		assert.Regexp(t, `^[0-9]{6}$`, codes.CheckInCode())
	}
	assert.Greater(t, len(seen), 190)

	deterministic := RandomCodes{Source: bytes.NewReader(bytes.Repeat([]byte{0}, 64))}
	assert.Equal(t, "UTM000000000", deterministic.ReferenceCode())
}

func TestNormalizeCheckInCode(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"123456":      "123456",
		" 123 456 ":   "123456",
		"12-34-56":    "123456",
		"UTM0A123456": "0123456",
		"":            "",
		"12345a":      "12345",
	}

	for input, digits := range cases {
		code, err := NormalizeCheckInCode(input)
		if len(digits) == CheckInCodeLength {
			require.NoError(t, err, input)
			assert.Equal(t, digits, code)
			continue
		}
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr, input)
		assert.Contains(t, vErr.FieldErrors, "code")
	}
}

func TestDateLabel(t *testing.T) {
	t.Parallel()

	instant := time.Date(2025, time.November, 15, 17, 0, 0, 0, time.UTC)
	assert.Equal(t, "Sat, Nov 15", DateLabel(instant, nil))
	assert.Equal(t, "Sun, Nov 16", DateLabel(instant, time.FixedZone("MYT", 8*60*60)))
}

func TestSlotStart(t *testing.T) {
	t.Parallel()

	start, ok := slotStart("8:00 AM - 9:00 AM")
	require.True(t, ok)
	assert.Equal(t, 8, start.Hour())

	start, ok = slotStart("2:30 PM-3:30 PM")
	require.True(t, ok)
	assert.Equal(t, 14, start.Hour())
	assert.Equal(t, 30, start.Minute())

	_, ok = slotStart("all day")
	assert.False(t, ok)
}

func TestBookingStatus(t *testing.T) {
	t.Parallel()

	assert.True(t, StatusConfirmed.CanTransitionTo(StatusCheckedIn))
	assert.True(t, StatusConfirmed.CanTransitionTo(StatusCancelled))
	assert.True(t, StatusCheckedIn.CanTransitionTo(StatusCompleted))
	assert.False(t, StatusCheckedIn.CanTransitionTo(StatusCancelled))
	assert.False(t, StatusCompleted.CanTransitionTo(StatusConfirmed))
	assert.False(t, StatusCancelled.CanTransitionTo(StatusConfirmed))
	assert.True(t, StatusCompleted.Terminal())
	assert.False(t, StatusCheckedIn.Terminal())

	assert.Equal(t, "Checked In", StatusCheckedIn.Label())

	status, err := ParseBookingStatus("checked_in")
	require.NoError(t, err)
	assert.Equal(t, StatusCheckedIn, status)
	_, err = ParseBookingStatus("pending")
	assert.Error(t, err)

	order, err := ParseListOrder("")
	require.NoError(t, err)
	assert.Equal(t, OrderOldestFirst, order)
	_, err = ParseListOrder("sideways")
	assert.Error(t, err)
}

func TestBookingEffectiveCheckInCode(t *testing.T) {
	t.Parallel()

	withCode := confirmedBooking("b-1", "u-1", "Sun, Nov 16", "UTMABCDEF123", "654321")
	assert.Equal(t, "654321", withCode.EffectiveCheckInCode())

	legacy := confirmedBooking("b-2", "u-1", "Sun, Nov 16", "UTMABCDEF123", "")
	assert.Equal(t, "DEF123", legacy.EffectiveCheckInCode())
}
