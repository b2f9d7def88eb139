package vonage

// NCCO is the call-control instruction list returned to the provider on
// answer webhooks and embedded in outbound call-creation requests.
type NCCO []Action

// Action is one call-control instruction. Only the fields for the action
// kinds this service emits are modeled; omitempty keeps the wire shape
// identical to hand-built payloads.
type Action struct {
	Action string `json:"action"`

	// conversation
	Name           string   `json:"name,omitempty"`
	StartOnEnter   *bool    `json:"startOnEnter,omitempty"`
	MusicOnHoldURL []string `json:"musicOnHoldUrl,omitempty"`

	// talk
	Text     string `json:"text,omitempty"`
	Language string `json:"language,omitempty"`

	// connect
	From     string     `json:"from,omitempty"`
	Endpoint []Endpoint `json:"endpoint,omitempty"`
}

// Endpoint is a call endpoint (phone number or in-app user).
type Endpoint struct {
	Type   string `json:"type"`
	Number string `json:"number,omitempty"`
	User   string `json:"user,omitempty"`
}

// PhoneEndpoint creates a phone endpoint.
func PhoneEndpoint(number string) Endpoint {
	return Endpoint{Type: "phone", Number: number}
}

// ConversationAction joins the leg into the named conversation resource.
// startOnEnter=false parks the leg on hold music without starting the
// timed conversation; the default (true) starts it and unmutes audio.
func ConversationAction(name string, startOnEnter bool, musicOnHoldURL string) Action {
	a := Action{Action: "conversation", Name: name}
	if !startOnEnter {
		f := false
		a.StartOnEnter = &f
	}
	if musicOnHoldURL != "" {
		a.MusicOnHoldURL = []string{musicOnHoldURL}
	}
	return a
}

// TalkAction plays synthesized speech to the leg.
func TalkAction(text, language string) Action {
	return Action{Action: "talk", Text: text, Language: language}
}
