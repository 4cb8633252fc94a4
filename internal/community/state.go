// Package community wraps the validate/publish machinery in a persisted
// state machine that asks a community feed for suggestions before
// generating code. The machine advances one transition per tick, holds
// its whole world in one durable document, and survives any restart by
// re-reading that document instead of trusting process memory.
package community

import (
	"fmt"
	"time"

	"github.com/xkilldash9x/ouroboros/api/schemas"
	"github.com/xkilldash9x/ouroboros/internal/feed"
	"github.com/xkilldash9x/ouroboros/internal/improve"
)

// Status names the phase a community improvement is in.
type Status string

const (
	StatusIdentified   Status = "identified"
	StatusPosted       Status = "posted"
	StatusWaiting      Status = "waiting"
	StatusAnalyzing    Status = "analyzing"
	StatusImplementing Status = "implementing"
	StatusCompleted    Status = "completed"
	StatusFallback     Status = "fallback"
	StatusFailed       Status = "failed"
)

// maxHistory bounds the archived improvement history, oldest dropped.
const maxHistory = 20

// state is the in-memory tagged union: one variant per status, each
// carrying only the fields its phase needs, so an impossible field
// combination cannot be represented.
type state interface {
	status() Status
}

// taskContext is the identification payload every later phase carries.
type taskContext struct {
	Task        schemas.Task
	CodeContext map[string]string
	TestOutput  string
}

// identified: a task exists but has not been posted yet.
type identified struct {
	taskContext
}

// posted: the question is live and the wait window is open.
type posted struct {
	taskContext
	PostID    string
	PostedAt  time.Time
	WaitUntil time.Time
	Comments  []feed.Comment
}

// waiting is posted after at least one poll; the guards are identical,
// the distinct variant keeps the persisted trace honest.
type waiting struct {
	posted
}

// analyzing: the wait ended, the snapshot is final.
type analyzing struct {
	taskContext
	PostID   string
	Comments []feed.Comment
}

// implementing: a suggestion was selected and drives generation.
type implementing struct {
	taskContext
	PostID   string
	Selected improve.Suggestion
}

// fallback: no usable suggestions; the oracle works alone.
type fallback struct {
	taskContext
	PostID string
}

// terminal: completed or failed, waiting to be archived.
type terminal struct {
	taskContext
	St             Status
	PostID         string
	PublishURL     string
	FallbackUsed   bool
	SelectedAuthor string
}

func (identified) status() Status   { return StatusIdentified }
func (posted) status() Status       { return StatusPosted }
func (waiting) status() Status      { return StatusWaiting }
func (analyzing) status() Status    { return StatusAnalyzing }
func (implementing) status() Status { return StatusImplementing }
func (fallback) status() Status     { return StatusFallback }
func (t terminal) status() Status   { return t.St }

// ArchiveEntry is the condensed trace of one finished improvement.
type ArchiveEntry struct {
	TaskID         string    `json:"task_id"`
	TaskType       string    `json:"task_type"`
	Description    string    `json:"description"`
	Status         Status    `json:"status"`
	PostID         string    `json:"post_id,omitempty"`
	PublishURL     string    `json:"publish_url,omitempty"`
	FallbackUsed   bool      `json:"fallback_used"`
	SelectedAuthor string    `json:"selected_author,omitempty"`
	ArchivedAt     time.Time `json:"archived_at"`
}

// record is the flat durable form of the live state. One shape on disk
// keeps the document stable across variants; decode maps it back onto
// the union and rejects statuses it does not know.
type record struct {
	Status          Status              `json:"status"`
	TaskID          string              `json:"task_id"`
	TaskType        schemas.TaskType    `json:"task_type"`
	Description     string              `json:"description"`
	TargetFiles     []string            `json:"target_files"`
	Evidence        string              `json:"evidence,omitempty"`
	CodeContext     map[string]string   `json:"code_context,omitempty"`
	TestOutput      string              `json:"test_output,omitempty"`
	PostID          string              `json:"post_id,omitempty"`
	PostedAt        int64               `json:"posted_at,omitempty"`
	WaitUntil       int64               `json:"wait_until,omitempty"`
	Comments        []feed.Comment      `json:"comments_snapshot,omitempty"`
	SelectedComment *improve.Suggestion `json:"selected_comment,omitempty"`
	FallbackUsed    bool                `json:"fallback_used"`
	PublishURL      string              `json:"publish_url,omitempty"`
}

// document is everything the machine persists: the live record, the
// interval bookkeeping, and the bounded archive.
type document struct {
	Current        *record        `json:"current,omitempty"`
	LastCycleStart int64          `json:"last_cycle_start,omitempty"`
	LastPost       int64          `json:"last_post,omitempty"`
	History        []ArchiveEntry `json:"history,omitempty"`
}

// encode flattens a state variant into the durable record.
func encode(s state) *record {
	rec := &record{Status: s.status()}
	fill := func(tc taskContext) {
		rec.TaskID = tc.Task.ID
		rec.TaskType = tc.Task.Type
		rec.Description = tc.Task.Description
		rec.TargetFiles = tc.Task.TargetFiles
		rec.Evidence = tc.Task.Evidence
		rec.CodeContext = tc.CodeContext
		rec.TestOutput = tc.TestOutput
	}
	switch v := s.(type) {
	case identified:
		fill(v.taskContext)
	case posted:
		fill(v.taskContext)
		rec.PostID = v.PostID
		rec.PostedAt = v.PostedAt.Unix()
		rec.WaitUntil = v.WaitUntil.Unix()
		rec.Comments = v.Comments
	case waiting:
		fill(v.taskContext)
		rec.PostID = v.PostID
		rec.PostedAt = v.PostedAt.Unix()
		rec.WaitUntil = v.WaitUntil.Unix()
		rec.Comments = v.Comments
	case analyzing:
		fill(v.taskContext)
		rec.PostID = v.PostID
		rec.Comments = v.Comments
	case implementing:
		fill(v.taskContext)
		rec.PostID = v.PostID
		selected := v.Selected
		rec.SelectedComment = &selected
	case fallback:
		fill(v.taskContext)
		rec.PostID = v.PostID
		rec.FallbackUsed = true
	case terminal:
		fill(v.taskContext)
		rec.PostID = v.PostID
		rec.PublishURL = v.PublishURL
		rec.FallbackUsed = v.FallbackUsed
		if v.SelectedAuthor != "" {
			rec.SelectedComment = &improve.Suggestion{Author: v.SelectedAuthor}
		}
	}
	return rec
}

// decode rebuilds the tagged union from a durable record. An unknown
// status is corruption and comes back as an error for the machine to
// self-heal on.
func decode(rec *record) (state, error) {
	tc := taskContext{
		Task: schemas.Task{
			ID:          rec.TaskID,
			Type:        rec.TaskType,
			Description: rec.Description,
			TargetFiles: rec.TargetFiles,
			Evidence:    rec.Evidence,
		},
		CodeContext: rec.CodeContext,
		TestOutput:  rec.TestOutput,
	}
	switch rec.Status {
	case StatusIdentified:
		return identified{tc}, nil
	case StatusPosted, StatusWaiting:
		p := posted{
			taskContext: tc,
			PostID:      rec.PostID,
			PostedAt:    time.Unix(rec.PostedAt, 0),
			WaitUntil:   time.Unix(rec.WaitUntil, 0),
			Comments:    rec.Comments,
		}
		if rec.Status == StatusWaiting {
			return waiting{p}, nil
		}
		return p, nil
	case StatusAnalyzing:
		return analyzing{taskContext: tc, PostID: rec.PostID, Comments: rec.Comments}, nil
	case StatusImplementing:
		if rec.SelectedComment == nil {
			return nil, fmt.Errorf("implementing state has no selected suggestion")
		}
		return implementing{taskContext: tc, PostID: rec.PostID, Selected: *rec.SelectedComment}, nil
	case StatusFallback:
		return fallback{taskContext: tc, PostID: rec.PostID}, nil
	case StatusCompleted, StatusFailed:
		t := terminal{
			taskContext:  tc,
			St:           rec.Status,
			PostID:       rec.PostID,
			PublishURL:   rec.PublishURL,
			FallbackUsed: rec.FallbackUsed,
		}
		if rec.SelectedComment != nil {
			t.SelectedAuthor = rec.SelectedComment.Author
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unrecognized community status %q", rec.Status)
	}
}

// archive converts a terminal state into its history entry.
func (t terminal) archive(now time.Time) ArchiveEntry {
	return ArchiveEntry{
		TaskID:         t.Task.ID,
		TaskType:       string(t.Task.Type),
		Description:    t.Task.Description,
		Status:         t.St,
		PostID:         t.PostID,
		PublishURL:     t.PublishURL,
		FallbackUsed:   t.FallbackUsed,
		SelectedAuthor: t.SelectedAuthor,
		ArchivedAt:     now,
	}
}
