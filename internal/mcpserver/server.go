// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes publishing tools for LLM integration via stdio transport. Tools
// are read-only: the agent inspects queue state and guardrail verdicts, it
// never publishes through MCP.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/ansuz/internal/draft"
	"github.com/starford/ansuz/internal/frontmatter"
	"github.com/starford/ansuz/internal/guardrail"
	"github.com/starford/ansuz/internal/ledger"
	"github.com/starford/ansuz/internal/publisher"
	"github.com/starford/ansuz/internal/scheduler"
)

// Server wraps the MCP server with publishing tools.
type Server struct {
	mcp    *server.MCPServer
	store  *draft.Store
	ledger *ledger.Ledger
	env    *publisher.Environment
	rules  guardrail.Rules
	sched  scheduler.Config
	now    func() time.Time
}

// New creates an MCP server with all tools registered. now defaults to
// time.Now.
func New(store *draft.Store, lg *ledger.Ledger, env *publisher.Environment,
	rules guardrail.Rules, sched scheduler.Config, now func() time.Time) *Server {
	if now == nil {
		now = time.Now
	}
	s := &Server{store: store, ledger: lg, env: env, rules: rules, sched: sched, now: now}

	s.mcp = server.NewMCPServer(
		"Ansuz",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_drafts",
		mcp.WithDescription("List every draft with its schedule, arming flag, and published state."),
	), s.listDrafts)

	s.mcp.AddTool(mcp.NewTool("read_draft",
		mcp.WithDescription("Read the full content of a draft, frontmatter included."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Draft file name (e.g. 2026-08-29-hello.md)")),
	), s.readDraft)

	s.mcp.AddTool(mcp.NewTool("draft_status",
		mcp.WithDescription("Evaluate whether a draft would be allowed to publish right now, "+
			"and if not, which guardrail blocks it."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Draft file name")),
		mcp.WithString("mode", mcp.Description("Publish mode to evaluate: human (default) or auto")),
	), s.draftStatus)

	s.mcp.AddTool(mcp.NewTool("next_slot",
		mcp.WithDescription("Preview the next publish slot that rate limits and the "+
			"slot grid would allow."),
	), s.nextSlot)

	s.mcp.AddTool(mcp.NewTool("recent_posts",
		mcp.WithDescription("List the most recent published posts from the ledger."),
	), s.recentPosts)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

type draftSummary struct {
	ID          string `json:"id"`
	AutoPublish bool   `json:"auto_publish"`
	ScheduledAt string `json:"scheduled_at,omitempty"`
	Published   bool   `json:"published"`
	Topics      string `json:"topics,omitempty"`
}

func (s *Server) listDrafts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	drafts, err := s.store.List()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	snap, err := s.ledger.Snapshot()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	summaries := make([]draftSummary, 0, len(drafts))
	for _, d := range drafts {
		summaries = append(summaries, draftSummary{
			ID:          d.ID,
			AutoPublish: d.Meta.AutoPublish,
			ScheduledAt: d.RawScheduled(),
			Published:   snap.ContainsDraft(d.ID),
			Topics:      d.Meta.Topics,
		})
	}
	out, _ := json.MarshalIndent(summaries, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

// draftID resolves a tool argument to a workspace-relative draft id. Callers
// pass bare file names; joining on the base also tolerates a drafts/-prefixed
// id.
func draftID(id string) string {
	return path.Join(draft.Dir, filepath.Base(id))
}

func (s *Server) readDraft(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.store.Get(draftID(id))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("draft not found: %s", id)), nil
	}
	return mcp.NewToolResultText(string(d.Doc.Bytes())), nil
}

func (s *Server) draftStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	mode := guardrail.ModeManual
	if req.GetString("mode", "human") == "auto" {
		mode = guardrail.ModeAuto
	}

	d, err := s.store.Get(draftID(id))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("draft not found: %s", id)), nil
	}
	snap, err := s.ledger.Snapshot()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	inputs, err := s.env.Inputs(d.ID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	fingerprint, _ := s.store.Fingerprint(d)

	decision := guardrail.Evaluate(s.now().UTC(), snap, s.rules, guardrail.Draft{
		ID:          d.ID,
		Fingerprint: fingerprint,
		AutoPublish: d.Meta.AutoPublish,
		ScheduledAt: d.Meta.ScheduledAt,
		HasSchedule: d.Meta.HasScheduled,
	}, inputs, mode)

	out, _ := json.MarshalIndent(map[string]any{
		"id":      d.ID,
		"mode":    mode.String(),
		"allowed": decision.Allowed,
		"reason":  decision.Reason,
		"detail":  decision.Detail,
	}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) nextSlot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := s.ledger.Snapshot()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	now := s.now().UTC()
	earliest := scheduler.EarliestSchedule(snap, s.sched, now)
	at, err := scheduler.NextSlot(earliest, s.sched.Location, s.sched.Slots, s.sched.HorizonDays)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(map[string]string{
		"next_slot_utc":   at.Format(frontmatter.TimeLayout),
		"next_slot_local": at.In(s.sched.Location).Format("2006-01-02 15:04 MST"),
	}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) recentPosts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := s.ledger.Snapshot()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entries := snap.Entries()
	const keep = 10
	if len(entries) > keep {
		entries = entries[len(entries)-keep:]
	}
	type post struct {
		PublishedAt string `json:"published_at"`
		DraftPath   string `json:"draft_path"`
		TweetID     string `json:"tweet_id"`
		Text        string `json:"text,omitempty"`
	}
	out := make([]post, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		out = append(out, post{
			PublishedAt: e.PublishedAt.UTC().Format(frontmatter.TimeLayout),
			DraftPath:   e.DraftPath,
			TweetID:     e.TweetID,
			Text:        e.Text,
		})
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return mcp.NewToolResultText(string(data)), nil
}
