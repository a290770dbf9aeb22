package mcp

import (
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/drip/internal/ops"
)

// toolEntry pairs a tool definition factory with a handler factory.
type toolEntry struct {
	def     func(*Handlers) mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

func static(t mcp.Tool) func(*Handlers) mcp.Tool {
	return func(*Handlers) mcp.Tool { return t }
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"email_rewrite": {
		def:     func(h *Handlers) mcp.Tool { return rewriteToolDef(h.tones()) },
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRewrite },
	},
	"email_status": {
		def:     static(statusToolDef),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStatus },
	},
	"email_history": {
		def:     static(historyToolDef),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistory },
	},
	"email_copy": {
		def:     static(copyToolDef),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCopy },
	},
	"email_export": {
		def:     static(exportToolDef),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExport },
	},
	"billing_checkout": {
		def:     static(checkoutToolDef),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCheckout },
	},
	"account_whoami": {
		def:     static(whoamiToolDef),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleWhoami },
	},
}

// AllToolNames returns all valid tool names, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with Drip tools registered.
// Tools listed in DisabledTools are excluded from registration.
func NewServer(h *Handlers, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"drip",
		version,
		server.WithToolCapabilities(true),
	)

	disabled := make(map[string]bool)
	if h.deps.Config != nil {
		for _, name := range h.deps.Config.DisabledTools {
			disabled[name] = true
		}
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def(h), entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport. The editor and dashboard live
// for the whole session, so only one rewrite can be in flight at a time.
func Run(deps ops.Deps, version string) error {
	h := NewHandlers(deps)
	defer h.Close()
	return server.ServeStdio(NewServer(h, version))
}
