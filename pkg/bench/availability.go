package bench

import "github.com/norasector/benchtop/pkg/bench/instrument"

// State is everything control availability depends on.
type State struct {
	Capturing   bool
	Uploading   bool
	Loading     bool
	Parsing     bool
	OpeningFile bool
	Calibrating bool
	Running     bool
	MemDepth    int

	// Describe the record in the selected slot.
	SlotOccupied           bool
	RecordUploaded         bool
	LoadedToFocusedChannel bool
}

// Controls says which controls may be used.
type Controls struct {
	Run            bool
	Stop           bool
	Single         bool
	VoltageScale   bool
	TimeScale      bool
	VerticalOffset bool
	TimeOffset     bool
	TriggerLevel   bool
	ChannelToggles bool
	MemDepth       bool
	Capture        bool

	OpenFile       bool
	SlotList       bool
	EditParameters bool
	Upload         bool
	Load           bool
	Play           bool
	Calibrate      bool
}

// Availability maps a session state to the controls that can be used in it.
func Availability(st State) Controls {
	acquire := !st.Capturing
	busy := st.Uploading || st.Loading

	return Controls{
		Run:            acquire && !st.Running,
		Stop:           acquire && st.Running,
		Single:         acquire,
		VoltageScale:   acquire,
		TimeScale:      acquire,
		VerticalOffset: acquire,
		TimeOffset:     acquire,
		TriggerLevel:   acquire,
		ChannelToggles: acquire,
		MemDepth:       acquire && st.Running,
		Capture:        acquire && st.MemDepth != instrument.MemDepthAuto,

		OpenFile:       !st.Parsing && !busy,
		SlotList:       !st.Parsing && !st.Calibrating,
		EditParameters: st.SlotOccupied && !st.Uploading,
		Upload:         st.SlotOccupied && !st.OpeningFile && !busy,
		Load:           st.RecordUploaded && !busy,
		Play:           (st.LoadedToFocusedChannel || st.Calibrating) && !st.Loading,
		Calibrate:      !st.Calibrating,
	}
}
