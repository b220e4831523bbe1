package flow

import "fmt"

// Patch is a partial update to one node's data. Nil fields are left alone.
type Patch interface {
	Role() Role
	apply(NodeData) error
}

// Update is the message a node form emits when the user edits it.
type Update struct {
	NodeID string
	Patch  Patch
}

// PromptPatch edits a PromptData.
type PromptPatch struct {
	Content *string
}

func (PromptPatch) Role() Role { return RolePrompt }

func (p PromptPatch) apply(d NodeData) error {
	pd, ok := d.(*PromptData)
	if !ok {
		return fmt.Errorf("%w: data is %T", ErrRoleMismatch, d)
	}
	if p.Content != nil {
		pd.Content = *p.Content
	}
	return nil
}

// LLMConfigPatch edits an LLMConfigData.
type LLMConfigPatch struct {
	Model       *Model
	Temperature *float64
	APIKey      *string
}

func (LLMConfigPatch) Role() Role { return RoleLLM }

func (p LLMConfigPatch) apply(d NodeData) error {
	ld, ok := d.(*LLMConfigData)
	if !ok {
		return fmt.Errorf("%w: data is %T", ErrRoleMismatch, d)
	}
	// Check everything before touching the record so a bad patch is a no-op.
	if p.Model != nil && !p.Model.Valid() {
		return fmt.Errorf("unknown model %q", *p.Model)
	}
	if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > 1) {
		return fmt.Errorf("temperature %g outside [0,1]", *p.Temperature)
	}
	if p.Model != nil {
		ld.Model = *p.Model
	}
	if p.Temperature != nil {
		ld.Temperature = *p.Temperature
	}
	if p.APIKey != nil {
		ld.APIKey = *p.APIKey
	}
	return nil
}

// SetContent builds a prompt content update.
func SetContent(nodeID, content string) Update {
	return Update{NodeID: nodeID, Patch: PromptPatch{Content: &content}}
}

// SetModel builds a model selection update.
func SetModel(nodeID string, m Model) Update {
	return Update{NodeID: nodeID, Patch: LLMConfigPatch{Model: &m}}
}

// SetTemperature builds a temperature slider update.
func SetTemperature(nodeID string, t float64) Update {
	return Update{NodeID: nodeID, Patch: LLMConfigPatch{Temperature: &t}}
}

// SetAPIKey builds an API key update.
func SetAPIKey(nodeID, key string) Update {
	return Update{NodeID: nodeID, Patch: LLMConfigPatch{APIKey: &key}}
}
