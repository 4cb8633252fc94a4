// Package improve implements the self-improvement cycle: an oracle-backed
// pipeline that identifies a task, plans it, generates changes, validates
// them against the test harness with rollback on regression, and publishes
// the survivors for human review.
package improve

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ouroboros/api/schemas"
	"github.com/xkilldash9x/ouroboros/internal/feed"
	"github.com/xkilldash9x/ouroboros/internal/oracle"
)

const identifySystem = `You are a code quality analyst. You identify ONE concrete, small improvement to make to a codebase. Focus on:
1. Fixing failing tests (fix_test)
2. Adding missing test coverage (add_test)
3. Fixing clear bugs (fix_bug)

Output JSON with keys:
- task_type: one of "fix_test", "add_test", "fix_bug"
- description: what to fix/add (1-2 sentences)
- target_files: list of file paths to modify
- evidence: why this improvement is needed

If no improvements are needed, return {"task_type": "none", "description": "No improvements needed"}.
Never suggest modifying the files listed as protected in the constraints.`

const planSystem = `You are a senior developer planning a code change. Create a clear, step-by-step plan for the improvement. Be specific about what to change and where. Keep the plan concise, at most 10 steps.`

const generateSystem = `You are a code generator. Given a plan and existing code, produce the complete new file contents for each file that needs changing.

Output JSON with key "changes", a list of objects:
- file_path: relative path of the file
- new_content: the COMPLETE new file content (not a diff)
- description: what was changed and why (1 sentence)

IMPORTANT:
- Output complete file contents, not patches
- Preserve existing functionality
- Follow existing code style
- Do not add unnecessary imports or code`

const suggestionSystem = `You are a code generator implementing a community member's suggestion. Follow the suggested approach faithfully where it is sound, adapting details to the actual code. Produce the complete new file contents for each file that needs changing.

Output JSON with key "changes", a list of objects:
- file_path: relative path of the file
- new_content: the COMPLETE new file content (not a diff)
- description: what was changed and why (1 sentence)`

const analyzeSystem = `You analyze community comments on a technical question for concrete code-level suggestions.

Look for specific approaches, code snippets, or fixes that address the stated problem. Ignore generic praise, off-topic remarks, and spam.

Output JSON:
{
  "has_actionable": true/false,
  "suggestions": [
    {
      "author": "commenter name",
      "comment_id": "comment id",
      "approach": "what the commenter proposes",
      "code_snippets": ["any code they included"],
      "confidence": 0.0-1.0
    }
  ]
}

Be conservative: only extract clear, actionable suggestions.`

const draftPostSystem = `You are an autonomous agent posting a technical question to a developer community.

Write a well-formed question about a real problem in your codebase:
1. Problem: 1-2 sentence summary of the issue
2. Code Context: the relevant snippets with file paths
3. What I've Observed: test output or behavior
4. Question: the specific thing you want suggestions for

Keep it under 400 words, no emojis.

Output JSON: {"title": "...", "content": "..."}`

// Suggestion is one actionable idea extracted from a community comment.
type Suggestion struct {
	Author     string   `json:"author"`
	CommentID  string   `json:"comment_id"`
	Approach   string   `json:"approach"`
	Snippets   []string `json:"code_snippets,omitempty"`
	Confidence float64  `json:"confidence"`
}

// CommentAnalysis is the oracle's read of a post's comment thread.
type CommentAnalysis struct {
	HasActionable bool         `json:"has_actionable"`
	Suggestions   []Suggestion `json:"suggestions"`
}

// PostDraft is a generated community question.
type PostDraft struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// rawTask is the identification response before it becomes a Task.
type rawTask struct {
	TaskType    string   `json:"task_type"`
	Description string   `json:"description"`
	TargetFiles []string `json:"target_files"`
	Evidence    string   `json:"evidence"`
}

// rawChanges wraps the generation response.
type rawChanges struct {
	Changes []struct {
		FilePath    string `json:"file_path"`
		NewContent  string `json:"new_content"`
		Description string `json:"description"`
	} `json:"changes"`
}

// Oracle wraps the generator with the engine's prompt roles. Every
// method degrades to its zero result on failure; the error is logged at
// the call, never propagated.
type Oracle struct {
	gen    oracle.Generator
	logger *zap.Logger
}

// NewOracle returns the role wrapper around gen.
func NewOracle(gen oracle.Generator, logger *zap.Logger) *Oracle {
	return &Oracle{gen: gen, logger: logger.Named("roles")}
}

// IdentifyTask asks the oracle for one improvement worth making. A nil
// return means nothing was identified, whether by choice or by failure.
func (o *Oracle) IdentifyTask(ctx context.Context, codebaseSummary, testText, historySummary, constraints string) *schemas.Task {
	prompt := fmt.Sprintf(
		"## Codebase Summary\n%s\n\n## Test Results\n%s\n\n## Improvement History\n%s\n\n## Constraints\n%s",
		codebaseSummary, testText, historySummary, constraints,
	)
	raw, err := o.call(ctx, oracle.TierFast, identifySystem, prompt)
	if err != nil {
		o.logger.Warn("Task identification failed", zap.Error(err))
		return nil
	}
	parsed, err := oracle.ParseJSONResponse[rawTask](raw)
	if err != nil {
		o.logger.Warn("Task identification returned unparseable output", zap.Error(err))
		return nil
	}
	taskType := schemas.TaskType(parsed.TaskType)
	switch taskType {
	case schemas.TaskFixTest, schemas.TaskAddTest, schemas.TaskFixBug:
	default:
		// Includes the explicit "none" answer.
		return nil
	}
	if len(parsed.TargetFiles) == 0 {
		o.logger.Warn("Identified task names no target files, discarding")
		return nil
	}
	return &schemas.Task{
		ID:          mintTaskID(),
		Type:        taskType,
		Description: parsed.Description,
		TargetFiles: parsed.TargetFiles,
		Evidence:    parsed.Evidence,
	}
}

// PlanChange produces a step-by-step plan for task over the given code.
// An empty return means planning failed.
func (o *Oracle) PlanChange(ctx context.Context, task schemas.Task, code string) string {
	prompt := fmt.Sprintf(
		"## Task\nType: %s\nDescription: %s\nTarget files: %s\nEvidence: %s\n\n## Relevant Code\n%s",
		task.Type, task.Description, strings.Join(task.TargetFiles, ", "), task.Evidence, code,
	)
	plan, err := o.gen.Generate(ctx, oracle.Request{
		Tier:         oracle.TierPowerful,
		SystemPrompt: planSystem,
		UserPrompt:   prompt,
	})
	if err != nil {
		o.logger.Warn("Planning failed", zap.Error(err))
		return ""
	}
	return strings.TrimSpace(plan)
}

// GenerateChanges turns a plan into concrete changes, bounded by the
// rendered safety constraints. A nil return means generation failed or
// produced nothing.
func (o *Oracle) GenerateChanges(ctx context.Context, plan string, files map[string]string, constraints string) []schemas.Change {
	prompt := fmt.Sprintf("## Plan\n%s\n\n## Current File Contents\n%s", plan, RenderFiles(files, 0))
	return o.generate(ctx, generateSystem+"\n\nConstraints:\n"+constraints, prompt, files)
}

// GenerateFromSuggestion implements a community suggestion instead of a
// free plan. The plan still frames the work; the suggestion drives it.
func (o *Oracle) GenerateFromSuggestion(ctx context.Context, suggestion Suggestion, files map[string]string, plan, constraints string) []schemas.Change {
	var snippets string
	if len(suggestion.Snippets) > 0 {
		snippets = "\nTheir code snippets:\n" + strings.Join(suggestion.Snippets, "\n---\n")
	}
	prompt := fmt.Sprintf(
		"## Community Suggestion (by %s)\n%s%s\n\n## Plan\n%s\n\n## Current File Contents\n%s",
		suggestion.Author, suggestion.Approach, snippets, plan, RenderFiles(files, 0),
	)
	return o.generate(ctx, suggestionSystem+"\n\nConstraints:\n"+constraints, prompt, files)
}

// AnalyzeComments extracts actionable suggestions from a comment thread.
// A nil return means the analysis itself failed.
func (o *Oracle) AnalyzeComments(ctx context.Context, problem string, code map[string]string, comments []feed.Comment) *CommentAnalysis {
	var thread strings.Builder
	for _, c := range comments {
		fmt.Fprintf(&thread, "Comment by %s (id: %s): %s\n\n", c.Author, c.ID, c.Content)
	}
	prompt := fmt.Sprintf(
		"## Problem\n%s\n\n## Code Context\n%s\n\n## Comments\n%s",
		problem, RenderFiles(code, 0), thread.String(),
	)
	raw, err := o.call(ctx, oracle.TierPowerful, analyzeSystem, prompt)
	if err != nil {
		o.logger.Warn("Comment analysis failed", zap.Error(err))
		return nil
	}
	analysis, err := oracle.ParseJSONResponse[CommentAnalysis](raw)
	if err != nil {
		o.logger.Warn("Comment analysis returned unparseable output", zap.Error(err))
		return nil
	}
	return analysis
}

// DraftPost writes the community question for task. A nil return means
// drafting failed.
func (o *Oracle) DraftPost(ctx context.Context, task schemas.Task, code map[string]string, testOutput string) *PostDraft {
	prompt := fmt.Sprintf(
		"## Task\nType: %s\nDescription: %s\nTarget files: %s\nEvidence: %s\n\n## Code Context\n%s\n\n## Test Output\n%s",
		task.Type, task.Description, strings.Join(task.TargetFiles, ", "), task.Evidence,
		RenderFiles(code, 0), testOutput,
	)
	raw, err := o.call(ctx, oracle.TierFast, draftPostSystem, prompt)
	if err != nil {
		o.logger.Warn("Post drafting failed", zap.Error(err))
		return nil
	}
	draft, err := oracle.ParseJSONResponse[PostDraft](raw)
	if err != nil {
		o.logger.Warn("Post draft returned unparseable output", zap.Error(err))
		return nil
	}
	if draft.Title == "" || draft.Content == "" {
		o.logger.Warn("Post draft is missing title or content")
		return nil
	}
	return draft
}

// generate runs one code-generation call and maps the raw response onto
// Change values, filling OriginalContent from the files the caller read.
func (o *Oracle) generate(ctx context.Context, system, prompt string, files map[string]string) []schemas.Change {
	raw, err := o.call(ctx, oracle.TierPowerful, system, prompt)
	if err != nil {
		o.logger.Warn("Code generation failed", zap.Error(err))
		return nil
	}
	parsed, err := oracle.ParseJSONResponse[rawChanges](raw)
	if err != nil {
		o.logger.Warn("Code generation returned unparseable output", zap.Error(err))
		return nil
	}
	changes := make([]schemas.Change, 0, len(parsed.Changes))
	for _, rc := range parsed.Changes {
		if rc.FilePath == "" {
			continue
		}
		changes = append(changes, schemas.Change{
			FilePath:        rc.FilePath,
			OriginalContent: files[rc.FilePath],
			NewContent:      oracle.CleanCodeOutput(rc.NewContent),
			Description:     rc.Description,
		})
	}
	if len(changes) == 0 {
		return nil
	}
	return changes
}

func (o *Oracle) call(ctx context.Context, tier oracle.Tier, system, prompt string) (string, error) {
	return o.gen.Generate(ctx, oracle.Request{
		Tier:         tier,
		SystemPrompt: system,
		UserPrompt:   prompt,
		ForceJSON:    true,
	})
}

// mintTaskID creates a unique task ID when the oracle response carries
// none of its own.
func mintTaskID() string {
	return fmt.Sprintf("improve-%d-%s", time.Now().Unix(), uuid.NewString()[:8])
}

// RenderFiles formats a path-to-content map for prompt embedding, paths
// sorted for deterministic output. A positive perFileLimit truncates each
// file's content.
func RenderFiles(files map[string]string, perFileLimit int) string {
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var b strings.Builder
	for i, path := range paths {
		if i > 0 {
			b.WriteString("\n\n")
		}
		content := files[path]
		if perFileLimit > 0 && len(content) > perFileLimit {
			content = content[:perFileLimit] + "\n... (truncated)"
		}
		fmt.Fprintf(&b, "### %s\n%s", path, content)
	}
	return b.String()
}
