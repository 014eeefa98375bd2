package messages

// Recovery action tags carried by PopupState.Action.
const (
	ActionEnableOCR  = "ocr/enable"
	ActionRecheckOCR = "ocr/recheck"
)

// PopupState is pushed by the orchestrator to the popup window. Empty fields
// mean "leave as is"; the orchestrator merges partial updates into the full
// state before forwarding.
type PopupState struct {
	Status      string `json:"status,omitempty"`
	Source      string `json:"source,omitempty"`
	SourceLang  string `json:"source_lang,omitempty"`
	Translation string `json:"translation,omitempty"`
	Action      string `json:"action,omitempty"`
}

// OCRSelected carries the selected rectangle in physical pixels,
// virtual-screen coordinates.
type OCRSelected struct {
	X      int
	Y      int
	Width  int
	Height int
}
