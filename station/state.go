package station

// MenuState is the state of the on-device menu
type MenuState int32

const (
	MainMenu MenuState = iota
	CalibrationPreviewMenu
	PreviewLoop
	CalibrationLoop
	MeasuringLoop
)

func (s MenuState) String() string {
	switch s {
	case MainMenu:
		return "main_menu"
	case CalibrationPreviewMenu:
		return "calibration_preview_menu"
	case PreviewLoop:
		return "preview_loop"
	case CalibrationLoop:
		return "calibration_loop"
	case MeasuringLoop:
		return "measuring_loop"
	default:
		return "unknown"
	}
}
