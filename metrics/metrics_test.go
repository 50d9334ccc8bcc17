// SPDX-License-Identifier: GPL-3.0-or-later

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	t.Run("nil collectors are a no-op", func(t *testing.T) {
		var c *Collectors
		assert.NotPanics(t, func() {
			c.ObserveCall(1, OutcomeOK)
			c.ObserveLongPoll(OutcomeIdle)
			c.ObserveEvent(OutcomeDispatch)
			c.ObserveFrame("ap", DirectionIn)
			c.ObservePeerRequest(1)
		})
	})

	t.Run("counters are labelled", func(t *testing.T) {
		c := MustNew(nil)
		c.ObserveCall(0x17, OutcomeOK)
		c.ObserveCall(0x17, OutcomeOK)
		c.ObserveCall(0x03, OutcomePeerError)
		assert.Equal(t, 2.0, testutil.ToFloat64(c.calls.WithLabelValues("0x17", OutcomeOK)))
		assert.Equal(t, 1.0, testutil.ToFloat64(c.calls.WithLabelValues("0x03", OutcomePeerError)))
	})

	t.Run("registration", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		_, err := New(reg)
		require.NoError(t, err)

		// Registering twice on the same registry fails.
		_, err = New(reg)
		assert.Error(t, err)
	})
}

func TestCommandLabel(t *testing.T) {
	assert.Equal(t, "0xf4", CommandLabel(0xF4))
	assert.Equal(t, "0x01", CommandLabel(1))
}
