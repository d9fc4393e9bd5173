package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/quantive/sage/internal/answer"
	"github.com/quantive/sage/internal/ingest"
)

// MCPDeps holds the MCP server's dependencies.
type MCPDeps struct {
	Ingestor Ingestor
	Asker    Asker
	Items    ItemStore
}

// NewMCPServer registers the sage tools and resources.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"sage",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("sage — business knowledge base: ingest sources, ask contextual questions, track ingestion jobs."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask a business question against the knowledge base and receive a structured, source-grounded answer."),
			mcp.WithString("query", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of sources to consider (default 10)")),
			mcp.WithString("industry", mcp.Description("Known industry context, overrides inference")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("add_knowledge",
			mcp.WithDescription("Ingest content into the knowledge base. Returns a job id for status tracking."),
			mcp.WithString("content", mcp.Description("Inline text content to ingest")),
			mcp.WithString("source_type", mcp.Description("Source type: text, file, url, or video (default text)")),
			mcp.WithString("source", mcp.Description("Locator for non-text sources: path, URL, or video id")),
		),
		mcpAddKnowledge(deps),
	)

	s.AddTool(
		mcp.NewTool("job_status",
			mcp.WithDescription("Check the status and per-stage progress of an ingestion job."),
			mcp.WithString("job_id", mcp.Description("The job id returned by add_knowledge"), mcp.Required()),
		),
		mcpJobStatus(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"sage://items",
			"Knowledge Items",
			mcp.WithResourceDescription("Recently ingested content items"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceItems(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		opts := answer.AskOptions{MaxResults: req.GetInt("limit", 0)}
		opts.Known.Industry = req.GetString("industry", "")

		ans, err := deps.Asker.Ask(ctx, question, opts)
		if err != nil {
			return mcpError(fmt.Sprintf("answering failed: %v", err)), nil
		}

		b, err := json.Marshal(ans)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sourceType := req.GetString("source_type", "text")
		content := req.GetString("content", "")
		source := req.GetString("source", "")

		if sourceType == "text" && content == "" {
			return mcpError("content is required for text sources"), nil
		}
		if sourceType != "text" && source == "" {
			return mcpError("source is required for non-text sources"), nil
		}

		job := deps.Ingestor.Submit(ctx, ingest.Request{
			SourceType: sourceType,
			Source:     source,
			Content:    content,
		}, ingest.DefaultOptions())

		return mcpText(fmt.Sprintf("Ingestion started, job %s", job.ID)), nil
	}
}

func mcpJobStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}

		job, ok := deps.Ingestor.Job(jobID)
		if !ok {
			return mcpError(fmt.Sprintf("job %s not found", jobID)), nil
		}

		b, err := json.Marshal(job)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal job: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceItems(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		items, err := deps.Items.ListContentItems(20, false)
		if err != nil {
			return nil, fmt.Errorf("listing items: %w", err)
		}

		type itemSummary struct {
			ID         string  `json:"id"`
			Title      string  `json:"title"`
			SourceType string  `json:"source_type"`
			Status     string  `json:"status"`
			Relevance  float64 `json:"relevance"`
		}
		summaries := make([]itemSummary, len(items))
		for i, item := range items {
			summaries[i] = itemSummary{
				ID:         item.ID,
				Title:      item.Title,
				SourceType: item.SourceType,
				Status:     item.Status,
				Relevance:  item.RelevanceScore,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("marshalling items: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
