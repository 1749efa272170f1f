package anvil

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// MainAgentID is the agent that receives workflow command subscriptions.
const MainAgentID = "main"

// Command is a workflow-defined event name the main agent subscribes to.
type Command struct {
	Name        string `toml:"name" json:"name"`
	Description string `toml:"description" json:"description,omitempty"`
}

// Workflow is the declarative configuration a Conversation is created from:
// the agent roster plus workflow-level defaults that apply to every agent
// that does not override them.
type Workflow struct {
	Agents []Agent `toml:"agents" json:"agents"`

	// Defaults applied to agents at materialization.
	Model          string   `toml:"model" json:"model,omitempty"`
	Temperature    *float64 `toml:"temperature" json:"temperature,omitempty"`
	ToolSupported  *bool    `toml:"tool_supported" json:"tool_supported,omitempty"`
	CustomRules    string   `toml:"custom_rules" json:"custom_rules,omitempty"`
	MaxWalkerDepth int      `toml:"max_walker_depth" json:"max_walker_depth,omitempty"`

	// Variables seed the conversation's variable map.
	Variables map[string]any `toml:"variables" json:"variables,omitempty"`

	// Commands are merged into the main agent's subscriptions.
	Commands []Command `toml:"commands" json:"commands,omitempty"`
}

// LoadWorkflow reads and decodes a workflow TOML file.
func LoadWorkflow(path string) (Workflow, error) {
	var wf Workflow
	if _, err := toml.DecodeFile(path, &wf); err != nil {
		return Workflow{}, fmt.Errorf("load workflow %s: %w", path, err)
	}
	return wf, nil
}

// materialize applies workflow-level defaults to every agent and merges
// command names into the main agent's subscriptions. Agent-specific settings
// always win over workflow defaults.
func (wf Workflow) materialize() []Agent {
	agents := make([]Agent, 0, len(wf.Agents))
	for _, agent := range wf.Agents {
		if agent.Model == "" {
			agent.Model = wf.Model
		}
		if agent.Temperature == nil {
			agent.Temperature = wf.Temperature
		}
		if agent.ToolSupported == nil {
			agent.ToolSupported = wf.ToolSupported
		}
		if agent.CustomRules == "" {
			agent.CustomRules = wf.CustomRules
		}
		if agent.MaxWalkerDepth == 0 {
			agent.MaxWalkerDepth = wf.MaxWalkerDepth
		}
		if agent.ID == MainAgentID {
			agent.Subscribe = append([]string(nil), agent.Subscribe...)
			for _, cmd := range wf.Commands {
				agent.Subscribe = append(agent.Subscribe, cmd.Name)
			}
		}
		agents = append(agents, agent)
	}
	return agents
}
