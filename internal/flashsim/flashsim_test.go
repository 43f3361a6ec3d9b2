package flashsim_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/d3zd3z/swapcore/internal/flashsim"
	"github.com/d3zd3z/swapcore/pkg/flash"
)

func Test_Area_Read_Before_Write_Is_Unwritten(t *testing.T) {
	t.Parallel()

	driver, err := flashsim.NewDriver([2]uint32{1536, 1024}, 512, nil, nil)
	require.NoError(t, err)

	area, err := driver.Open(0)
	require.NoError(t, err)

	buf := make([]byte, 512)
	err = area.Read(0, buf)
	require.ErrorIs(t, err, flash.ErrUnwritten)
}

func Test_Area_Write_Then_Read_Round_Trips(t *testing.T) {
	t.Parallel()

	driver, err := flashsim.NewDriver([2]uint32{1536, 1024}, 512, nil, nil)
	require.NoError(t, err)
	area, err := driver.Open(0)
	require.NoError(t, err)

	page := make([]byte, 512)
	for i := range page {
		page[i] = byte(i)
	}
	require.NoError(t, area.Write(0, page))

	got := make([]byte, 512)
	require.NoError(t, area.Read(0, got))
	require.Equal(t, page, got)

	state, err := area.GetState(0)
	require.NoError(t, err)
	require.Equal(t, flash.StateWritten, state)
}

func Test_Stepper_Trips_After_Budget_Exhausted(t *testing.T) {
	t.Parallel()

	stepper := flashsim.NewStepper(2)
	driver, err := flashsim.NewDriver([2]uint32{1536, 1024}, 512, nil, stepper)
	require.NoError(t, err)
	area, err := driver.Open(0)
	require.NoError(t, err)

	page := make([]byte, 512)
	require.NoError(t, area.Erase(0, 512)) // tick 1
	require.NoError(t, area.Write(0, page)) // tick 2

	err = area.Write(0, page) // tick 3: over budget
	require.ErrorIs(t, err, flashsim.ErrExpired)
}

func Test_Stepper_Reset_Rearms_Without_Touching_Content(t *testing.T) {
	t.Parallel()

	stepper := flashsim.NewStepper(1)
	driver, err := flashsim.NewDriver([2]uint32{1536, 1024}, 512, nil, stepper)
	require.NoError(t, err)
	area, err := driver.Open(0)
	require.NoError(t, err)

	page := make([]byte, 512)
	for i := range page {
		page[i] = 0xAB
	}
	require.NoError(t, area.Erase(0, 512))

	err = area.Write(0, page)
	require.ErrorIs(t, err, flashsim.ErrExpired)

	stepper.Reset(0)
	require.NoError(t, area.Write(0, page))

	got := make([]byte, 512)
	require.NoError(t, area.Read(0, got))
	require.Equal(t, page, got)
}

func Test_GetState_Does_Not_Consume_Stepper_Budget(t *testing.T) {
	t.Parallel()

	stepper := flashsim.NewStepper(0)
	driver, err := flashsim.NewDriver([2]uint32{1536, 1024}, 512, nil, stepper)
	require.NoError(t, err)
	area, err := driver.Open(0)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		_, err := area.GetState(0)
		require.NoError(t, err)
	}
	require.Equal(t, uint64(0), stepper.Count())
}

func Test_Chaos_Torn_Write_Still_Marks_Page_Written(t *testing.T) {
	t.Parallel()

	chaos := &flashsim.ChaosConfig{TornWriteRate: 1.0, Seed: 42}
	driver, err := flashsim.NewDriver([2]uint32{1536, 1024}, 512, chaos, nil)
	require.NoError(t, err)
	area, err := driver.Open(0)
	require.NoError(t, err)

	page := make([]byte, 512)
	for i := range page {
		page[i] = 0xCD
	}
	require.NoError(t, area.Erase(0, 512))
	require.NoError(t, area.Write(0, page))

	state, err := area.GetState(0)
	require.NoError(t, err)
	require.Equal(t, flash.StateWritten, state)

	got := make([]byte, 512)
	require.NoError(t, area.Read(0, got))
	require.NotEqual(t, page, got, "a guaranteed torn write must not match the full intended page")
}

func Test_Chaos_Hard_Error_Classifies_As_EIO(t *testing.T) {
	t.Parallel()

	chaos := &flashsim.ChaosConfig{HardErrorRate: 1.0, Seed: 7}
	driver, err := flashsim.NewDriver([2]uint32{1536, 1024}, 512, chaos, nil)
	require.NoError(t, err)
	area, err := driver.Open(0)
	require.NoError(t, err)

	err = area.Erase(0, 512)
	require.Error(t, err)
	require.ErrorIs(t, err, unix.EIO)

	state, stateErr := area.GetState(0)
	require.NoError(t, stateErr)
	require.Equal(t, flash.StateErased, state, "a hard error must leave the page state untouched")
}

func Test_NewDriver_Rejects_Mismatched_Slot_Capacities(t *testing.T) {
	t.Parallel()

	_, err := flashsim.NewDriver([2]uint32{1024, 1024}, 512, nil, nil)
	require.Error(t, err)
}
