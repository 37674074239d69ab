// Package config decodes the swarm/agent definition document: name, lead
// agent, agent list, tool lists, permissions, and plugin config. Grounded on
// the teacher's integration_tests/framework/runner.go YAML struct-tag style.
//
// Resolving a document from disk, watching it for changes, and CLI flag
// parsing are out of scope (spec §1 "YAML/DSL configuration loaders" is an
// external collaborator) — this package only exposes Parse over an
// io.Reader plus the struct tags.
package config

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/swarmkit/swarmkit/agent"
	"github.com/swarmkit/swarmkit/swarm"
)

// Document is the top-level decoded shape of a swarm definition file.
type Document struct {
	Name      string                  `yaml:"name"`
	LeadAgent string                  `yaml:"lead_agent"`
	Agents    []AgentDocument         `yaml:"agents"`
	MaxTurns  int                     `yaml:"max_turns,omitempty"`
}

// AgentDocument decodes one entry of the agents list.
type AgentDocument struct {
	Name              string                       `yaml:"name"`
	Description       string                       `yaml:"description,omitempty"`
	Model             string                       `yaml:"model"`
	Directory         string                       `yaml:"directory,omitempty"`
	Tools             []string                     `yaml:"tools,omitempty"`
	DelegationTargets []string                     `yaml:"delegation_targets,omitempty"`
	Permissions       map[string]PermissionDocument `yaml:"permissions,omitempty"`
	PluginConfig      map[string]map[string]any    `yaml:"plugin_config,omitempty"`
	SystemPrompt      string                       `yaml:"system_prompt,omitempty"`
}

// PermissionDocument decodes one tool's allow/deny regex lists.
type PermissionDocument struct {
	Allowed []string `yaml:"allowed,omitempty"`
	Denied  []string `yaml:"denied,omitempty"`
}

// Parse decodes r into a Document without touching the filesystem; the
// caller is responsible for opening whatever source (file, embedded asset,
// network fetch) the document comes from.
func Parse(r io.Reader) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &doc, nil
}

// ToSwarmDefinition converts a parsed Document into the immutable
// swarm.Definition/agent.Definition structs the orchestrator builds from.
func (d *Document) ToSwarmDefinition() (swarm.Definition, error) {
	agents := make(map[agent.Ident]*agent.Definition, len(d.Agents))
	for _, a := range d.Agents {
		targets := make([]agent.Ident, len(a.DelegationTargets))
		for i, t := range a.DelegationTargets {
			targets[i] = agent.Ident(t)
		}
		var perms agent.ToolPermissions
		if len(a.Permissions) > 0 {
			perms = make(agent.ToolPermissions, len(a.Permissions))
			for tool, p := range a.Permissions {
				perms[tool] = &agent.Permissions{Allowed: p.Allowed, Denied: p.Denied}
			}
		}
		agents[agent.Ident(a.Name)] = &agent.Definition{
			Name:              agent.Ident(a.Name),
			Description:       a.Description,
			Model:             a.Model,
			Directory:         a.Directory,
			Tools:             a.Tools,
			DelegationTargets: targets,
			Permissions:       perms,
			PluginConfig:      a.PluginConfig,
			SystemPrompt:      a.SystemPrompt,
		}
	}
	return swarm.Definition{
		Name:      d.Name,
		LeadAgent: agent.Ident(d.LeadAgent),
		Agents:    agents,
	}, nil
}
