package memory

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestBuildPromptSectionsOrderAndOmission(t *testing.T) {
	c := Context{
		KeyMemories:     []Node{{Text: "User's name is Alice"}},
		Relevant:        []Node{{Text: "User likes tea"}},
		RecurringTopics: []RecurringTopic{{Topic: "marathon training", Mentions: 3, LastMentioned: time.Now()}},
	}
	sections := BuildPromptSections(c)
	if len(sections) != 3 {
		t.Fatalf("sections = %d, want 3 (empty blocks omitted)", len(sections))
	}
	if !strings.HasPrefix(sections[0], "KEY MEMORIES:") {
		t.Errorf("section 0 = %q", sections[0])
	}
	if !strings.HasPrefix(sections[1], "RELEVANT MEMORIES:") {
		t.Errorf("section 1 = %q", sections[1])
	}
	if !strings.HasPrefix(sections[2], "RECURRING TOPICS:") {
		t.Errorf("section 2 = %q", sections[2])
	}
}

func TestBuildPromptSectionsEmptyContext(t *testing.T) {
	if sections := BuildPromptSections(Context{}); len(sections) != 0 {
		t.Fatalf("sections = %v, want none", sections)
	}
}

func TestBuildPromptSectionsCapsRelevant(t *testing.T) {
	var c Context
	for i := 0; i < 40; i++ {
		c.Relevant = append(c.Relevant, Node{Text: fmt.Sprintf("memory %d", i)})
	}
	sections := BuildPromptSections(c)
	if len(sections) != 1 {
		t.Fatalf("sections = %d, want 1", len(sections))
	}
	lines := strings.Count(sections[0], "\n")
	if lines != maxRelevantInPrompt {
		t.Fatalf("relevant lines = %d, want %d", lines, maxRelevantInPrompt)
	}
}

func TestBuildPromptSectionsCapsRelationships(t *testing.T) {
	var c Context
	for i := 0; i < 30; i++ {
		c.Relationships = append(c.Relationships, fmt.Sprintf("Alice → KNOWS → Bob%d", i))
	}
	sections := BuildPromptSections(c)
	lines := strings.Count(sections[0], "\n")
	if lines != maxRelationshipsInPrompt {
		t.Fatalf("relationship lines = %d, want %d", lines, maxRelationshipsInPrompt)
	}
}

func TestBuildPromptSectionsFullOrder(t *testing.T) {
	c := Context{
		KeyMemories:     []Node{{Text: "k"}},
		Relevant:        []Node{{Text: "r"}},
		Relationships:   []string{"a → REL → b"},
		Emotional:       []Node{{Text: "calm session"}},
		RecurringTopics: []RecurringTopic{{Topic: "chess", Mentions: 2, LastMentioned: time.Now()}},
	}
	sections := BuildPromptSections(c)
	wantOrder := []string{
		"KEY MEMORIES:",
		"RELEVANT MEMORIES:",
		"KNOWN RELATIONSHIPS:",
		"RECENT EMOTIONAL CONTEXT:",
		"RECURRING TOPICS:",
	}
	if len(sections) != len(wantOrder) {
		t.Fatalf("sections = %d, want %d", len(sections), len(wantOrder))
	}
	for i, prefix := range wantOrder {
		if !strings.HasPrefix(sections[i], prefix) {
			t.Errorf("section %d starts %q, want prefix %q", i, sections[i][:min(20, len(sections[i]))], prefix)
		}
	}
}
