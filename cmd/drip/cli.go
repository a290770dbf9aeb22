package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/drip/internal/config"
	"github.com/hpungsan/drip/internal/email"
	"github.com/hpungsan/drip/internal/errors"
	"github.com/hpungsan/drip/internal/ops"
)

// stdout is where command output goes. Tests swap it for a buffer.
var stdout io.Writer = os.Stdout

// stdin is where drafts are read from when none is given as arguments.
var stdin io.Reader = os.Stdin

// newCLIApp creates the CLI application with all commands.
// deps is nil when only help or version output is needed.
func newCLIApp(deps *ops.Deps) *cli.App {
	var d ops.Deps
	if deps != nil {
		d = *deps
	}
	app := &cli.App{
		Name:    "drip",
		Usage:   "Rewrite email drafts in the tone you need",
		Version: Version,
		Commands: []*cli.Command{
			loginCmd(d),
			logoutCmd(d),
			whoamiCmd(d),
			statusCmd(d),
			rewriteCmd(d),
			historyCmd(d),
			copyCmd(d),
			exportCmd(d),
			upgradeCmd(d),
			planCmd(d),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// loginCmd creates the login command.
func loginCmd(d ops.Deps) *cli.Command {
	return &cli.Command{
		Name:      "login",
		Usage:     "Sign in with an email address (the account is created on first use)",
		ArgsUsage: "[email]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Aliases: []string{"e"}, Usage: "Email address"},
		},
		Action: func(c *cli.Context) error {
			addr := c.String("email")
			if addr == "" && c.NArg() > 0 {
				addr = c.Args().First()
			}

			output, err := ops.NewAccount(d).Login(c.Context, ops.LoginInput{Email: addr})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// logoutCmd creates the logout command.
func logoutCmd(d ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Sign out",
		Action: func(c *cli.Context) error {
			output, err := ops.NewAccount(d).Logout(c.Context)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// whoamiCmd creates the whoami command.
func whoamiCmd(d ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "Show the signed-in account",
		Action: func(c *cli.Context) error {
			return outputJSON(ops.NewAccount(d).Whoami())
		},
	}
}

// statusCmd creates the status command.
func statusCmd(d ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show today's usage, plan and history size",
		Action: func(c *cli.Context) error {
			dash := ops.NewDashboard(d, nil)
			defer dash.Close()

			output, err := dash.Load(c.Context)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// rewriteCmd creates the rewrite command.
func rewriteCmd(d ops.Deps) *cli.Command {
	return &cli.Command{
		Name:      "rewrite",
		Usage:     "Rewrite a draft (from arguments, or piped via stdin)",
		ArgsUsage: "[draft...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tone", Aliases: []string{"t"}, Usage: toneUsage(d.Config)},
			&cli.BoolFlag{Name: "roast", Aliases: []string{"r"}, Usage: "Also roast the original draft"},
		},
		Action: func(c *cli.Context) error {
			draft := strings.Join(c.Args().Slice(), " ")
			if draft == "" {
				if !stdinHasData() {
					return outputError(errors.NewInvalidRequest("draft must be given as arguments or piped via stdin"))
				}
				text, err := readStdin()
				if err != nil {
					return outputError(errors.NewInternal(err))
				}
				draft = text
			}

			ed := ops.NewEditor(d, nil)
			defer ed.Close()

			output, err := ed.Rewrite(c.Context, ops.RewriteInput{
				Draft: draft,
				Tone:  c.String("tone"),
				Roast: c.Bool("roast"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// historyCmd creates the history command.
func historyCmd(d ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List rewritten emails, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "page", Aliases: []string{"p"}, Value: 1, Usage: "Page number"},
			&cli.BoolFlag{Name: "expand", Aliases: []string{"x"}, Usage: "Show full text instead of previews"},
		},
		Action: func(c *cli.Context) error {
			dash := ops.NewDashboard(d, nil)
			defer dash.Close()

			output, err := dash.ListHistory(c.Context, ops.HistoryInput{
				Page:   c.Int("page"),
				Expand: c.Bool("expand"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// copyCmd creates the copy command. The field text is printed raw so it can be piped.
func copyCmd(d ops.Deps) *cli.Command {
	return &cli.Command{
		Name:      "copy",
		Usage:     "Print one field of a stored email",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "field", Aliases: []string{"f"}, Value: "rewritten", Usage: "Field: original|rewritten|roast"},
			&cli.BoolFlag{Name: "json", Usage: "Print JSON instead of the raw text"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("id is required"))
			}

			dash := ops.NewDashboard(d, nil)
			defer dash.Close()

			output, err := dash.Copy(c.Context, ops.CopyInput{
				ID:    c.Args().First(),
				Field: c.String("field"),
			})
			if err != nil {
				return outputError(err)
			}

			if c.Bool("json") {
				return outputJSON(output)
			}
			_, err = fmt.Fprintln(stdout, output.Text)
			return err
		},
	}
}

// exportCmd creates the export command.
func exportCmd(d ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export the full history (Pro)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "json", Usage: "Format: json|csv|text|html"},
			&cli.StringFlag{Name: "path", Usage: "Output file (default: ~/.drip/exports/emails-export-<date>.<ext>)"},
			&cli.BoolFlag{Name: "stdout", Usage: "Write the export to stdout instead of a file"},
		},
		Action: func(c *cli.Context) error {
			dash := ops.NewDashboard(d, nil)
			defer dash.Close()

			output, err := dash.Export(c.Context, ops.ExportInput{
				Format: c.String("format"),
				Path:   c.String("path"),
				Stdout: c.Bool("stdout"),
			})
			if err != nil {
				return outputError(err)
			}

			if c.Bool("stdout") {
				_, err = io.WriteString(stdout, output.Content)
				return err
			}
			return outputJSON(output)
		},
	}
}

// upgradeCmd creates the upgrade command.
func upgradeCmd(d ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "upgrade",
		Usage: "Start a Pro checkout and print the payment page URL",
		Action: func(c *cli.Context) error {
			output, err := ops.NewAccount(d).Upgrade(c.Context)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// planCmd creates the plan command.
func planCmd(d ops.Deps) *cli.Command {
	return &cli.Command{
		Name:      "plan",
		Usage:     "Set the signed-in account to free or pro (local database only)",
		ArgsUsage: "<free|pro>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("exactly one plan (free or pro) is required"))
			}

			output, err := ops.NewAccount(d).SetPlan(c.Context, ops.PlanInput{Plan: c.Args().First()})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// Helper functions

// toneUsage lists the configured tones and the one used when --tone is omitted.
func toneUsage(cfg *config.Config) string {
	names := config.DefaultTones
	if cfg != nil && len(cfg.Tones) > 0 {
		names = cfg.Tones
	}
	tone, _ := email.ParseTone("", email.Tones(names))
	return fmt.Sprintf("Tone: %s (default %s)", strings.Join(names, "|"), tone)
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if dErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", dErr.Code, dErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	f, ok := stdin.(*os.File)
	if !ok {
		return stdin != nil
	}
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
