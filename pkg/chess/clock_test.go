package chess

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestClockRemainingIsPure(t *testing.T) {
	c := NewClock(60_000)
	c.Start(t0)

	assert.Equal(t, int64(59_000), c.Remaining(t0.Add(time.Second)))
	assert.Equal(t, int64(59_000), c.Remaining(t0.Add(time.Second)))
	assert.Equal(t, int64(60_000), c.Committed())
}

func TestClockStoppedDoesNotAdvance(t *testing.T) {
	c := NewClock(60_000)

	assert.Equal(t, int64(60_000), c.Remaining(t0.Add(time.Hour)))
	assert.False(t, c.IsExpired(t0.Add(time.Hour)))
}

func TestClockChargeIsIdempotentForSameInstant(t *testing.T) {
	c := NewClock(10_000)
	c.Start(t0)

	now := t0.Add(2500 * time.Millisecond)
	require.Equal(t, int64(7_500), c.Charge(now))
	require.Equal(t, int64(7_500), c.Charge(now))
	assert.Equal(t, now, c.AnchoredAt())
}

func TestClockChargeIgnoresTimeGoingBackwards(t *testing.T) {
	c := NewClock(10_000)
	c.Start(t0)

	assert.Equal(t, int64(10_000), c.Charge(t0.Add(-time.Second)))
	assert.Equal(t, t0, c.AnchoredAt())
}

func TestClockExpiresAtZero(t *testing.T) {
	c := NewClock(60_000)
	c.Start(t0)

	assert.False(t, c.IsExpired(t0.Add(59_999*time.Millisecond)))
	assert.True(t, c.IsExpired(t0.Add(60*time.Second)))
	assert.Equal(t, int64(0), c.Remaining(t0.Add(2*time.Minute)))
}

func TestClockStopFreezes(t *testing.T) {
	c := NewClock(30_000)
	c.Start(t0)

	assert.Equal(t, int64(20_000), c.Stop(t0.Add(10*time.Second)))
	assert.False(t, c.Running())
	assert.Equal(t, int64(20_000), c.Remaining(t0.Add(time.Hour)))

	c.Start(t0.Add(time.Hour))
	assert.Equal(t, int64(15_000), c.Remaining(t0.Add(time.Hour+5*time.Second)))
}

func TestClockCredit(t *testing.T) {
	c := NewClock(1_000)
	c.Credit(2_000)
	c.Credit(-5)

	assert.Equal(t, int64(3_000), c.Committed())
}

func TestTimeControlValidate(t *testing.T) {
	assert.NoError(t, TimeControl{InitialMillis: 1}.Validate())
	assert.Error(t, TimeControl{}.Validate())
	assert.Error(t, TimeControl{InitialMillis: 1, IncrementMillis: -1}.Validate())
}

func TestFormatClockTime(t *testing.T) {
	assert.Equal(t, "1:30", FormatClockTime(90_000))
	assert.Equal(t, "9.5", FormatClockTime(9_500))
	assert.Equal(t, "0.0", FormatClockTime(-3))
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("white")
	require.NoError(t, err)
	assert.Equal(t, White, c)
	assert.Equal(t, Black, c.Opp())

	_, err = ParseColor("green")
	assert.Error(t, err)
}

func TestClockRepeatedChargesKeepSubMillisecondRemainder(t *testing.T) {
	c := NewClock(10_000)
	c.Start(t0)

	for i := 1; i <= 5; i++ {
		c.Charge(t0.Add(time.Duration(i) * 600 * time.Microsecond))
	}

	assert.Equal(t, int64(9_997), c.Committed())
	assert.Equal(t, t0.Add(3*time.Millisecond), c.AnchoredAt())
}
