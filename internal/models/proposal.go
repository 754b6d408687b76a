package models

// IacConfig holds infrastructure options plus a free-form config map.
// The config map doubles as the side channel for recording guardrail
// escalation choices (build_action, test_action, retry_action).
type IacConfig struct {
	Provider string         `json:"provider,omitempty"`
	Region   string         `json:"region,omitempty"`
	Tier     string         `json:"tier,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
}

// Proposal describes the application being built. Stations read it;
// answer handling and the fix router occasionally amend it.
type Proposal struct {
	SessionID  string    `json:"sessionId"`
	AppName    string    `json:"appName"`
	TemplateID string    `json:"templateId,omitempty"`
	StackTags  []string  `json:"stackTags,omitempty"`
	Iac        IacConfig `json:"iac"`
	Confidence float64   `json:"confidence"`
}

func NewProposal(sessionID, appName string) *Proposal {
	return &Proposal{SessionID: sessionID, AppName: appName}
}

// ConfigString reads a string value from the iac config side channel.
func (p *Proposal) ConfigString(key string) (string, bool) {
	if p.Iac.Config == nil {
		return "", false
	}
	v, ok := p.Iac.Config[key].(string)
	return v, ok
}

// SetConfig writes a value into the iac config side channel.
func (p *Proposal) SetConfig(key string, value any) {
	if p.Iac.Config == nil {
		p.Iac.Config = map[string]any{}
	}
	p.Iac.Config[key] = value
}

// ClearConfig removes a side channel key.
func (p *Proposal) ClearConfig(key string) {
	delete(p.Iac.Config, key)
}
