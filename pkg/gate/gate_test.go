package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/dsrtos-core/pkg/collab/simhw"
)

func TestDisableEnableRoundTrip(t *testing.T) {
	ic := simhw.NewInterruptController()
	halt := simhw.NewAssertService(nil)
	g := New(ic, halt, 4)

	g.Disable()
	assert.Equal(t, int32(1), g.Depth())
	assert.True(t, g.Disabled())

	g.Enable()
	assert.Equal(t, int32(0), g.Depth())
	assert.False(t, g.Disabled())

	halted, _, _ := halt.Halted()
	assert.False(t, halted)
}

func TestNestedDisableMaxDepthIsFatal(t *testing.T) {
	ic := simhw.NewInterruptController()
	halt := simhw.NewAssertService(nil)
	g := New(ic, halt, 2)

	g.Disable() // depth 1, ok
	g.Disable() // depth 2 == maxDepth, rejected -> fatal

	halted, code, _ := halt.Halted()
	require.True(t, halted)
	assert.Equal(t, uint32(1001), code)
}

func TestEnableUnderflowIsFatal(t *testing.T) {
	ic := simhw.NewInterruptController()
	halt := simhw.NewAssertService(nil)
	g := New(ic, halt, 4)

	g.Enable()

	halted, code, _ := halt.Halted()
	require.True(t, halted)
	assert.Equal(t, uint32(1002), code)
}

func TestDeferredSwitchFiresOnZeroTransition(t *testing.T) {
	ic := simhw.NewInterruptController()
	halt := simhw.NewAssertService(nil)
	g := New(ic, halt, 4)

	g.Disable()
	g.RequestSwitchWhileDisabled()
	assert.False(t, ic.ConsumePendingSwitch(), "no switch pending yet, inside critical section")

	g.Enable()
	assert.True(t, ic.ConsumePendingSwitch(), "deferred switch must fire on 1->0 transition")
}

func TestSectionRunsWithPreemptionDisabled(t *testing.T) {
	ic := simhw.NewInterruptController()
	halt := simhw.NewAssertService(nil)
	g := New(ic, halt, 4)

	var sawDisabled bool
	g.Section(func() {
		sawDisabled = g.Disabled()
	})

	assert.True(t, sawDisabled)
	assert.False(t, g.Disabled())
}
