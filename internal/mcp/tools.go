package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/drip/internal/email"
)

// rewriteToolDef builds the rewrite tool with tones as the enum.
func rewriteToolDef(tones []string) mcp.Tool {
	tone, _ := email.ParseTone("", email.Tones(tones))
	return mcp.NewTool("email_rewrite",
		mcp.WithDescription("Rewrite an email draft in the chosen tone. Free accounts get 5 rewrites per day; "+
			"the quota is checked before the rewrite service is called and only a successful rewrite counts."),
		mcp.WithString("draft",
			mcp.Required(),
			mcp.Description("The email draft to rewrite"),
		),
		mcp.WithString("tone",
			mcp.Description("Rewrite tone (default "+string(tone)+")"),
			mcp.Enum(tones...),
		),
		mcp.WithBoolean("roast",
			mcp.Description("Also return a short roast of the original draft"),
		),
	)
}

var statusToolDef = mcp.NewTool("email_status",
	mcp.WithDescription("Show today's usage, the daily limit and the plan (Free or Pro) for the signed-in user."),
)

var historyToolDef = mcp.NewTool("email_history",
	mcp.WithDescription("List a page of rewritten emails, newest first. Collapsed entries show 100-character previews."),
	mcp.WithNumber("page",
		mcp.Description("1-based page number; out-of-range pages are clamped"),
		mcp.Min(1),
	),
	mcp.WithBoolean("expand",
		mcp.Description("Return full text for every entry on the page"),
	),
)

var copyToolDef = mcp.NewTool("email_copy",
	mcp.WithDescription("Return one field of a stored email."),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Email id"),
	),
	mcp.WithString("field",
		mcp.Description("Field to copy (default rewritten)"),
		mcp.Enum("original", "rewritten", "roast"),
	),
)

var exportToolDef = mcp.NewTool("email_export",
	mcp.WithDescription("Export the full history (Pro only). Writes to ~/.drip/exports unless a path is given."),
	mcp.WithString("format",
		mcp.Description("Export format (default json)"),
		mcp.Enum("json", "csv", "text", "html"),
	),
	mcp.WithString("path",
		mcp.Description("Destination file; must sit directly in an allowed directory and match the format extension"),
	),
	mcp.WithBoolean("stdout",
		mcp.Description("Return the export content instead of writing a file"),
	),
)

var checkoutToolDef = mcp.NewTool("billing_checkout",
	mcp.WithDescription("Start a Pro checkout and return the payment page URL."),
)

var whoamiToolDef = mcp.NewTool("account_whoami",
	mcp.WithDescription("Describe the current session: loading, authenticated or anonymous."),
)
