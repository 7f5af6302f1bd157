package health

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequiredGapHoursSchedule(t *testing.T) {
	require.Equal(t, 0, requiredGapHours(0))
	require.Equal(t, 6, requiredGapHours(1))
	require.Equal(t, 12, requiredGapHours(2))
	require.Equal(t, 24, requiredGapHours(3))
	require.Equal(t, 48, requiredGapHours(4))
	require.Equal(t, 48, requiredGapHours(5))
	require.Equal(t, 48, requiredGapHours(100))
}
