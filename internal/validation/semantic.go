package validation

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/robfig/cron/v3"

	"github.com/windlass-dev/windlass/pkg/schema"
)

// cronParser accepts standard five-field cron expressions plus an optional
// leading seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// loopBodyTypes are the node types allowed inside a loop body. Flow-control
// nodes do not nest: a loop body holds only leaf work.
var loopBodyTypes = map[schema.NodeType]bool{
	schema.NodeAction:        true,
	schema.NodeHTTPRequest:   true,
	schema.NodeDataTransform: true,
	schema.NodeNotification:  true,
}

// validateSemantic performs semantic analysis on the definition: node ID and
// position uniqueness, branch target resolution, loop body shape, trigger
// config coherence, and action registration. All issues are collected; the
// stage never stops at the first error.
func validateSemantic(def *schema.WorkflowDefinition, lookup ActionLookup, result *schema.ValidationResult) {
	validatePositions(def, result)
	validateNodeIDs(def, result)

	positions := make(map[int]int, len(def.Nodes)) // position -> node index
	for i, n := range def.Nodes {
		if _, dup := positions[n.Position]; !dup {
			positions[n.Position] = i
		}
	}

	for i := range def.Nodes {
		node := &def.Nodes[i]
		path := fmt.Sprintf("nodes[%d]", i)

		switch node.Type {
		case schema.NodeAction:
			validateActionNode(node, path, lookup, result)
		case schema.NodeCondition:
			validateConditionNode(node, path, positions, result)
		case schema.NodeLoop:
			validateLoopNode(def, node, path, positions, result)
		}

		if node.Retry != nil && node.Retry.Max > 10 {
			result.AddWarning(path+".retry.max", schema.ErrCodeValidation,
				fmt.Sprintf("high retry count (%d) may cause excessive delays", node.Retry.Max))
		}
	}

	validateTriggerConfig(def, result)
}

// validatePositions requires unique, strictly increasing positions in the
// order nodes are declared.
func validatePositions(def *schema.WorkflowDefinition, result *schema.ValidationResult) {
	seen := make(map[int]int, len(def.Nodes))
	prev := -1
	for i, n := range def.Nodes {
		if j, dup := seen[n.Position]; dup {
			result.AddError(fmt.Sprintf("nodes[%d].position", i), schema.ErrCodeValidation,
				fmt.Sprintf("position %d already used by nodes[%d]", n.Position, j))
			continue
		}
		seen[n.Position] = i
		if n.Position <= prev {
			result.AddError(fmt.Sprintf("nodes[%d].position", i), schema.ErrCodeValidation,
				fmt.Sprintf("position %d is not strictly increasing (previous was %d)", n.Position, prev))
		}
		prev = n.Position
	}
}

func validateNodeIDs(def *schema.WorkflowDefinition, result *schema.ValidationResult) {
	seen := make(map[string]int, len(def.Nodes))
	for i, n := range def.Nodes {
		if j, dup := seen[n.ID]; dup {
			result.AddError(fmt.Sprintf("nodes[%d].id", i), schema.ErrCodeValidation,
				fmt.Sprintf("node id %q already used by nodes[%d]", n.ID, j))
			continue
		}
		seen[n.ID] = i
	}
}

func validateActionNode(node *schema.Node, path string, lookup ActionLookup, result *schema.ValidationResult) {
	var cfg schema.ActionConfig
	if err := json.Unmarshal(node.Config, &cfg); err != nil {
		return // structural stage already reported the malformed config
	}
	if lookup != nil && cfg.Name != "" && !lookup.Has(cfg.Name) {
		result.AddError(path+".config.name", schema.ErrCodeValidation,
			fmt.Sprintf("action %q not registered", cfg.Name))
	}
}

func validateConditionNode(node *schema.Node, path string, positions map[int]int, result *schema.ValidationResult) {
	var cfg schema.ConditionConfig
	if err := json.Unmarshal(node.Config, &cfg); err != nil {
		return
	}
	if cfg.ElseTarget != nil {
		if _, ok := positions[*cfg.ElseTarget]; !ok {
			result.AddError(path+".config.else_target", schema.ErrCodeValidation,
				fmt.Sprintf("else_target %d does not match any node position", *cfg.ElseTarget))
		}
	}
}

func validateLoopNode(def *schema.WorkflowDefinition, node *schema.Node, path string, positions map[int]int, result *schema.ValidationResult) {
	var cfg schema.LoopConfig
	if err := json.Unmarshal(node.Config, &cfg); err != nil {
		return
	}

	if cfg.BodyStart > cfg.BodyEnd {
		result.AddError(path+".config", schema.ErrCodeValidation,
			fmt.Sprintf("body_start %d is after body_end %d", cfg.BodyStart, cfg.BodyEnd))
		return
	}
	if cfg.BodyStart <= node.Position {
		result.AddError(path+".config.body_start", schema.ErrCodeValidation,
			fmt.Sprintf("body_start %d must come after the loop node's position %d", cfg.BodyStart, node.Position))
	}
	if _, ok := positions[cfg.BodyStart]; !ok {
		result.AddError(path+".config.body_start", schema.ErrCodeValidation,
			fmt.Sprintf("body_start %d does not match any node position", cfg.BodyStart))
	}
	if _, ok := positions[cfg.BodyEnd]; !ok {
		result.AddError(path+".config.body_end", schema.ErrCodeValidation,
			fmt.Sprintf("body_end %d does not match any node position", cfg.BodyEnd))
	}

	for _, bodyNode := range nodesInRange(def, cfg.BodyStart, cfg.BodyEnd) {
		if !loopBodyTypes[bodyNode.Type] {
			result.AddError(path+".config", schema.ErrCodeValidation,
				fmt.Sprintf("loop body node %q has type %q; loop bodies may only contain action, httpRequest, dataTransform, and notification nodes", bodyNode.ID, bodyNode.Type))
		}
	}
}

// nodesInRange returns the nodes with positions in [start, end], ordered.
func nodesInRange(def *schema.WorkflowDefinition, start, end int) []*schema.Node {
	var out []*schema.Node
	for i := range def.Nodes {
		if def.Nodes[i].Position >= start && def.Nodes[i].Position <= end {
			out = append(out, &def.Nodes[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func validateTriggerConfig(def *schema.WorkflowDefinition, result *schema.ValidationResult) {
	switch def.TriggerType {
	case schema.TriggerSchedule:
		var cfg schema.ScheduleTriggerConfig
		if err := json.Unmarshal(def.TriggerConfig, &cfg); err != nil {
			return
		}
		if cfg.Cron == "" {
			return
		}
		if _, err := cronParser.Parse(cfg.Cron); err != nil {
			result.AddError("trigger_config.cron", schema.ErrCodeValidation,
				fmt.Sprintf("invalid cron expression %q: %s", cfg.Cron, err.Error()))
		}
	}
}
