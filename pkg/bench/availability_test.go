package bench

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAvailabilityCapturingDisablesAcquisition(t *testing.T) {
	c := Availability(State{Capturing: true, Running: true, MemDepth: 12000})
	assert.False(t, c.Run)
	assert.False(t, c.Stop)
	assert.False(t, c.Single)
	assert.False(t, c.VoltageScale)
	assert.False(t, c.TimeScale)
	assert.False(t, c.VerticalOffset)
	assert.False(t, c.TimeOffset)
	assert.False(t, c.TriggerLevel)
	assert.False(t, c.ChannelToggles)
	assert.False(t, c.MemDepth)
	assert.False(t, c.Capture)

	c = Availability(State{Running: true, MemDepth: 12000})
	assert.True(t, c.Stop)
	assert.False(t, c.Run)
	assert.True(t, c.MemDepth)
	assert.True(t, c.Capture)
}

func TestAvailabilityRules(t *testing.T) {
	tests := []struct {
		name  string
		state State
		check func(t *testing.T, c Controls)
	}{
		{"capture needs fixed depth", State{Running: true}, func(t *testing.T, c Controls) {
			assert.False(t, c.Capture)
		}},
		{"memdepth needs running scope", State{MemDepth: 12000}, func(t *testing.T, c Controls) {
			assert.False(t, c.MemDepth)
			assert.True(t, c.Run)
			assert.True(t, c.Capture)
		}},
		{"empty slot", State{}, func(t *testing.T, c Controls) {
			assert.False(t, c.Upload)
			assert.False(t, c.EditParameters)
			assert.False(t, c.Load)
			assert.False(t, c.Play)
			assert.True(t, c.SlotList)
			assert.True(t, c.OpenFile)
		}},
		{"occupied slot", State{SlotOccupied: true}, func(t *testing.T, c Controls) {
			assert.True(t, c.Upload)
			assert.True(t, c.EditParameters)
			assert.False(t, c.Load)
		}},
		{"uploading", State{SlotOccupied: true, RecordUploaded: true, Uploading: true}, func(t *testing.T, c Controls) {
			assert.False(t, c.Upload)
			assert.False(t, c.Load)
			assert.False(t, c.EditParameters)
			assert.False(t, c.OpenFile)
		}},
		{"loading", State{SlotOccupied: true, RecordUploaded: true, LoadedToFocusedChannel: true, Loading: true}, func(t *testing.T, c Controls) {
			assert.False(t, c.Upload)
			assert.False(t, c.Load)
			assert.False(t, c.Play)
			assert.True(t, c.EditParameters)
		}},
		{"uploaded", State{SlotOccupied: true, RecordUploaded: true}, func(t *testing.T, c Controls) {
			assert.True(t, c.Load)
			assert.False(t, c.Play)
		}},
		{"loaded", State{SlotOccupied: true, RecordUploaded: true, LoadedToFocusedChannel: true}, func(t *testing.T, c Controls) {
			assert.True(t, c.Play)
		}},
		{"opening file", State{SlotOccupied: true, OpeningFile: true}, func(t *testing.T, c Controls) {
			assert.False(t, c.Upload)
			assert.True(t, c.SlotList)
		}},
		{"parsing", State{Parsing: true}, func(t *testing.T, c Controls) {
			assert.False(t, c.SlotList)
			assert.False(t, c.OpenFile)
		}},
		{"calibrating", State{Calibrating: true}, func(t *testing.T, c Controls) {
			assert.False(t, c.SlotList)
			assert.False(t, c.Calibrate)
			assert.True(t, c.Play)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, Availability(tt.state))
		})
	}
}
