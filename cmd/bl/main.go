package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"boardline/internal/app"
	"boardline/internal/columns"
	"boardline/internal/db"
	"boardline/internal/engine"
	"boardline/internal/repo"
	"boardline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "bl",
	Short: "Boardline CLI",
	Long: `Boardline manages kanban workflow templates and migrates issues safely
when a template's columns change.

- Workspace: your .boardline directory holding the database.
- Template: a named, ordered set of columns (To Do, Doing, Done, ...).
- Preview: diff a draft column set against the committed one; removals of
  non-empty columns come back as warnings with suggested targets.
- Apply: commit the new columns atomically, moving every affected issue to
  its chosen target column. No migration target, no migration.
- Event log: diary of changes, view with 'bl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BOARDLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func templateCmd() *cobra.Command {
	tpl := &cobra.Command{Use: "template", Short: "Manage workflow templates"}
	tpl.AddCommand(templateListCmd())
	tpl.AddCommand(templateShowCmd())
	tpl.AddCommand(templateCreateCmd())
	tpl.AddCommand(templateUpdateCmd())
	tpl.AddCommand(templateDeleteCmd())
	tpl.AddCommand(templatePreviewCmd())
	tpl.AddCommand(templateApplyCmd())
	tpl.AddCommand(templateCountsCmd())
	return tpl
}

func templateListCmd() *cobra.Command {
	var includeSystem bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflow templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListTemplates(ctx, includeSystem)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Columns", "Default", "System"})
				for _, t := range items {
					names := make([]string, len(t.Columns))
					for i, c := range t.Columns {
						names[i] = c.Name
					}
					tw.AppendRow(table.Row{t.ID, t.Name, strings.Join(names, " > "), t.IsDefault, t.IsSystem})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&includeSystem, "system", true, "include system templates")
	return cmd
}

func templateShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <template-id>",
		Short: "Show a template with its columns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTemplate(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("%s  (%s)\n", t.Name, t.ID)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Pos", "ID", "Name", "WIP", "Color"})
				for _, c := range t.Columns {
					wip := ""
					if c.WIPLimit != nil {
						wip = fmt.Sprintf("%d", *c.WIPLimit)
					}
					tw.AppendRow(table.Row{c.Position, c.ID, c.Name, wip, c.Color})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func templateCreateCmd() *cobra.Command {
	var name, desc string
	var colNames []string
	var isDefault bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workflow template",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			if len(colNames) == 0 {
				return fmt.Errorf("--column required at least once")
			}
			cols := make([]columns.Column, len(colNames))
			for i, n := range colNames {
				cols[i] = columns.Column{Name: n}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTemplate(ctx, engine.TemplateCreateOptions{
					Name:        name,
					Description: desc,
					IsDefault:   isDefault,
					Columns:     cols,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "template name")
	cmd.Flags().StringVar(&desc, "description", "", "template description")
	cmd.Flags().StringArrayVar(&colNames, "column", nil, "column name, in board order (repeatable)")
	cmd.Flags().BoolVar(&isDefault, "default", false, "mark as the default template")
	return cmd
}

func templateUpdateCmd() *cobra.Command {
	var name, desc string
	var makeDefault bool
	cmd := &cobra.Command{
		Use:   "update <template-id>",
		Short: "Update template metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TemplateUpdateOptions{ID: args[0], ActorID: viper.GetString("actor-id")}
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &desc
			}
			if cmd.Flags().Changed("default") {
				opts.IsDefault = &makeDefault
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTemplate(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&desc, "description", "", "new description")
	cmd.Flags().BoolVar(&makeDefault, "default", false, "mark as the default template")
	return cmd
}

func templateDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <template-id>",
		Short: "Delete a workflow template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteTemplate(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
	return cmd
}

// parseColumnSpec turns "id=abc,name=Review,wip=3" or a bare name into a
// draft column. A draft column without an id is a new column.
func parseColumnSpec(spec string) (columns.Column, error) {
	if !strings.Contains(spec, "=") {
		return columns.Column{Name: spec}, nil
	}
	var c columns.Column
	for _, part := range strings.Split(spec, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return c, fmt.Errorf("invalid column spec %q", spec)
		}
		switch k {
		case "id":
			c.ID = v
		case "name":
			c.Name = v
		case "wip":
			var n int
			if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
				return c, fmt.Errorf("invalid wip limit %q", v)
			}
			c.WIPLimit = &n
		case "color":
			c.Color = v
		default:
			return c, fmt.Errorf("unknown column field %q", k)
		}
	}
	return c, nil
}

func parseColumnSpecs(specs []string) ([]columns.Column, error) {
	out := make([]columns.Column, len(specs))
	for i, s := range specs {
		c, err := parseColumnSpec(s)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func templatePreviewCmd() *cobra.Command {
	var specs []string
	cmd := &cobra.Command{
		Use:   "preview <template-id>",
		Short: "Preview a column change without committing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			draft, err := parseColumnSpecs(specs)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				preview, err := e.PreviewColumnChanges(ctx, args[0], draft)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(preview)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Change", "Column", "Detail"})
				for _, ch := range preview.Changes {
					detail := ""
					if ch.Kind == columns.ChangeRenamed {
						detail = fmt.Sprintf("%s -> %s", ch.OldName, ch.NewName)
					}
					tw.AppendRow(table.Row{string(ch.Kind), ch.Column.Name, detail})
				}
				tw.Render()
				for _, w := range preview.Warnings {
					fmt.Printf("warning: column %q holds %d issue(s); pick a migration target with --map %s=<target-id>\n",
						w.ColumnName, w.IssueCount, w.ColumnID)
				}
				if preview.SafeToApply {
					fmt.Println("safe to apply: no issues need migrating")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&specs, "column", nil, "column spec: bare name for a new column, or id=...,name=... (repeatable, board order)")
	return cmd
}

func templateApplyCmd() *cobra.Command {
	var specs, mappings []string
	cmd := &cobra.Command{
		Use:   "apply <template-id>",
		Short: "Apply a column change, migrating issues per --map",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			draft, err := parseColumnSpecs(specs)
			if err != nil {
				return err
			}
			mapping := map[string]string{}
			for _, m := range mappings {
				from, to, ok := strings.Cut(m, "=")
				if !ok {
					return fmt.Errorf("invalid --map %q, want removed-id=target-id", m)
				}
				mapping[from] = to
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, vr, err := e.ApplyColumnChanges(ctx, engine.ApplyOptions{
					TemplateID: args[0],
					Columns:    draft,
					Mapping:    mapping,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"columns_changed":   res.ColumnsChanged,
						"issues_reassigned": res.IssuesReassigned,
						"summary":           vr.Summary,
					})
				}
				fmt.Println(vr.Summary)
				fmt.Printf("%d column change(s) applied, %d issue(s) reassigned\n", res.ColumnsChanged, res.IssuesReassigned)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&specs, "column", nil, "column spec (repeatable, board order)")
	cmd.Flags().StringArrayVar(&mappings, "map", nil, "issue migration: removed-column-id=target-column-id (repeatable)")
	return cmd
}

func templateCountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counts <template-id>",
		Short: "Show issue counts per column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTemplate(ctx, args[0])
				if err != nil {
					return err
				}
				counts, err := e.ColumnIssueCounts(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Column", "Issues"})
				for _, c := range t.Columns {
					tw.AppendRow(table.Row{c.Name, counts[c.ID]})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func issueCmd() *cobra.Command {
	iss := &cobra.Command{Use: "issue", Short: "Manage issues"}
	iss.AddCommand(issueCreateCmd())
	iss.AddCommand(issueListCmd())
	iss.AddCommand(issueMoveCmd())
	return iss
}

func issueCreateCmd() *cobra.Command {
	var templateID, columnID, title string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if templateID == "" || title == "" {
				return fmt.Errorf("--template and --title required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				i, err := e.CreateIssue(ctx, engine.IssueCreateOptions{
					TemplateID: templateID,
					ColumnID:   columnID,
					Title:      title,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(i)
			})
		},
	}
	cmd.Flags().StringVar(&templateID, "template", "", "template id")
	cmd.Flags().StringVar(&columnID, "column", "", "column id (defaults to the first column)")
	cmd.Flags().StringVar(&title, "title", "", "issue title")
	return cmd
}

func issueListCmd() *cobra.Command {
	var templateID, columnID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			if templateID == "" {
				return fmt.Errorf("--template required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListIssues(ctx, templateID, columnID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t, err := e.GetTemplate(ctx, templateID)
				if err != nil {
					return err
				}
				names := map[string]string{}
				for _, c := range t.Columns {
					names[c.ID] = c.Name
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Column"})
				for _, i := range items {
					tw.AppendRow(table.Row{i.ID, i.Title, names[i.ColumnID]})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&templateID, "template", "", "template id")
	cmd.Flags().StringVar(&columnID, "column", "", "filter by column id")
	return cmd
}

func issueMoveCmd() *cobra.Command {
	var columnID string
	cmd := &cobra.Command{
		Use:   "move <issue-id>",
		Short: "Move an issue to another column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if columnID == "" {
				return fmt.Errorf("--column required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				i, err := e.MoveIssue(ctx, args[0], columnID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(i)
			})
		},
	}
	cmd.Flags().StringVar(&columnID, "column", "", "target column id")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var limit int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.LatestEvents(ctx, limit, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Entity", "Actor"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.TS, evt.Type, evt.EntityKind + "/" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "filter by event type")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "filter by entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "filter by entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			e, err := app.OpenWorkspace(cmd.Context(), workspace, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			defer e.DB.Close()
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, ActorID: viper.GetString("actor-id")})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Boardline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	e, err := app.OpenWorkspace(ctx, workspace, viper.GetString("actor-id"))
	if err != nil {
		return err
	}
	defer e.DB.Close()
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	e, err := app.OpenWorkspace(ctx, workspace, viper.GetString("actor-id"))
	if err != nil {
		return err
	}
	defer e.DB.Close()
	return fn(ctx, e.Repo)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
