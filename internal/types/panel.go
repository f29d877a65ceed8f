package types

// PanelMessage is what the in-page panel sends back to the controller when
// one of its controls is used.
type PanelMessage struct {
	Action string `json:"action"`
	Text   string `json:"text,omitempty"`
}

// Panel actions.
const (
	PanelActionAsk           = "ask"
	PanelActionExtractCanvas = "extract_canvas"
)
