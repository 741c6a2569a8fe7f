// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Role tags a transcript message with its speaker, matching a generic
// chat-message list. Per prd005-chat R1.1.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Stage identifies which pipeline stage produced an intermediate message.
type Stage string

const (
	StagePlan      Stage = "plan"
	StageResearch  Stage = "research"
	StageSynthesis Stage = "synthesis"
	StageAnswer    Stage = "answer"
)

// Message is one role-tagged transcript entry. Intermediate assistant
// messages give the caller visibility into plan and search-step progress
// before the final answer arrives.
type Message struct {
	// Role is the speaker: user or assistant.
	Role Role `json:"role" yaml:"role"`

	// Stage names the pipeline stage that produced the message. Empty for
	// user messages.
	Stage Stage `json:"stage,omitempty" yaml:"stage,omitempty"`

	// Content is the message text.
	Content string `json:"content" yaml:"content"`
}
