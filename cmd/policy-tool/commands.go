package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/fruitsalade/drivegate/internal/access"
	"github.com/fruitsalade/drivegate/internal/access/postgres"
)

// env carries what the commands touch outside the process.
type env struct {
	fs  afero.Fs
	out io.Writer
	// replace publishes rules to the database at url.
	replace func(ctx context.Context, url string, rules []access.Rule) error
}

func newEnv() *env {
	return &env{fs: afero.NewOsFs(), out: os.Stdout, replace: replaceRules}
}

func replaceRules(ctx context.Context, url string, rules []access.Rule) error {
	src, err := postgres.Open(ctx, url)
	if err != nil {
		return err
	}
	defer src.Close()
	if err := src.Migrate(ctx); err != nil {
		return err
	}
	return src.Replace(ctx, rules)
}

var (
	allowed = color.New(color.FgGreen).SprintFunc()
	denied  = color.New(color.FgRed).SprintFunc()
	bold    = color.New(color.Bold).SprintFunc()
)

func newRootCommand(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:           "policy-tool",
		Short:         "Inspect and publish drivegate access rules",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(e.out)
	root.PersistentFlags().String("rules", "", "path to the YAML rule document")
	_ = root.MarkPersistentFlagRequired("rules")

	root.AddCommand(newCheckCommand(e), newLintCommand(e), newImportCommand(e))
	return root
}

func loadDocument(e *env, cmd *cobra.Command) (*access.Document, error) {
	name, _ := cmd.Flags().GetString("rules")
	return access.LoadFile(e.fs, name)
}

func newCheckCommand(e *env) *cobra.Command {
	var (
		role   string
		isFile bool
	)
	cmd := &cobra.Command{
		Use:   "check <path>...",
		Short: "Print the capabilities a role has on each path",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := loadDocument(e, cmd)
			if err != nil {
				return err
			}
			policy := doc.Policy(role)
			for _, p := range args {
				if !strings.HasPrefix(p, "/") {
					p = "/" + p
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", bold(p), describe(policy.Resolve(p, isFile)))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role to evaluate (defaults to the document's role)")
	cmd.Flags().BoolVar(&isFile, "file", false, "treat the paths as files")
	return cmd
}

// describe renders a permission as "read=allow write=deny ...".
func describe(perm *access.Permission) string {
	if perm == nil {
		return "no restriction"
	}
	parts := make([]string, 0, len(access.Capabilities())+1)
	for _, c := range access.Capabilities() {
		if perm.Has(c) {
			parts = append(parts, allowed(c.String()+"=allow"))
		} else {
			parts = append(parts, denied(c.String()+"=deny"))
		}
	}
	if perm.Message != "" {
		parts = append(parts, fmt.Sprintf("message=%q", perm.Message))
	}
	return strings.Join(parts, " ")
}

func newLintCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "lint",
		Short: "Validate a rule document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := loadDocument(e, cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d rules\n", allowed("ok"), len(doc.Rules))
			return nil
		},
	}
}

func newImportCommand(e *env) *cobra.Command {
	var databaseURL string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the rules stored in PostgreSQL with a rule document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				return fmt.Errorf("--database-url or DRIVEGATE_POLICY_DATABASE_URL is required")
			}
			doc, err := loadDocument(e, cmd)
			if err != nil {
				return err
			}
			if err := e.replace(cmd.Context(), databaseURL, doc.Rules); err != nil {
				return fmt.Errorf("import rules: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d rules\n", len(doc.Rules))
			return nil
		},
	}
	cmd.Flags().StringVar(&databaseURL, "database-url", os.Getenv("DRIVEGATE_POLICY_DATABASE_URL"), "PostgreSQL connection string")
	return cmd
}
