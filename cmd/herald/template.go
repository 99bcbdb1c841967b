package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/foxzi/herald/internal/cache"
	"github.com/foxzi/herald/internal/config"
	"github.com/foxzi/herald/internal/errs"
	"github.com/foxzi/herald/internal/template"
)

var (
	templateActor     string
	templateNotes     string
	templateDataJSON  string
	templateLocale    string
	templateOutputDir string
	templateAll       bool
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Template management commands",
	Long: `Template management commands. They open the database directly,
so the server must be stopped. Use the HTTP API against a running server.`,
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates",
	RunE:  runTemplateList,
}

var templateShowCmd = &cobra.Command{
	Use:   "show <code>",
	Short: "Show template details",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateShow,
}

var templateImportCmd = &cobra.Command{
	Use:   "import <file.yaml>...",
	Short: "Create or update templates from YAML files",
	Long: `Create or update templates from YAML files. An existing template gets
a new version only when its content changed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTemplateImport,
}

var templateExportCmd = &cobra.Command{
	Use:   "export [code]...",
	Short: "Export templates to YAML files",
	RunE:  runTemplateExport,
}

var templatePreviewCmd = &cobra.Command{
	Use:   "preview <code>",
	Short: "Render a template with preview data",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplatePreview,
}

var templateVersionsCmd = &cobra.Command{
	Use:   "versions <code>",
	Short: "List the version history of a template",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateVersions,
}

var templateRestoreCmd = &cobra.Command{
	Use:   "restore <version-id>",
	Short: "Restore a template to a stored version",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateRestore,
}

var templateDeleteCmd = &cobra.Command{
	Use:   "delete <code>",
	Short: "Soft delete a template",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateDelete,
}

func init() {
	for _, c := range []*cobra.Command{templateImportCmd, templateRestoreCmd, templateDeleteCmd} {
		c.Flags().StringVar(&templateActor, "actor", "", "Actor recorded in history (default: cli:$USER)")
	}
	templateImportCmd.Flags().StringVar(&templateNotes, "notes", "", "Change notes for new versions")

	templatePreviewCmd.Flags().StringVar(&templateDataJSON, "data", "", "JSON data merged over preview_data")
	templatePreviewCmd.Flags().StringVar(&templateLocale, "locale", "", "Locale")

	templateExportCmd.Flags().StringVarP(&templateOutputDir, "output", "o", ".", "Output directory")
	templateListCmd.Flags().BoolVar(&templateAll, "all", false, "Include deleted templates")

	templateCmd.AddCommand(
		templateListCmd,
		templateShowCmd,
		templateImportCmd,
		templateExportCmd,
		templatePreviewCmd,
		templateVersionsCmd,
		templateRestoreCmd,
		templateDeleteCmd,
	)
	rootCmd.AddCommand(templateCmd)
}

// templateDoc is the on-disk YAML form of a template
type templateDoc struct {
	template.Template `yaml:",inline"`
	ChangeNotes       string `yaml:"change_notes,omitempty"`
}

func readTemplateFile(path string) (*templateDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	doc := &templateDoc{}
	doc.IsActive = true
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if doc.Code == "" {
		doc.Code = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return doc, nil
}

func writeTemplateFile(dir string, tmpl *template.Template) (string, error) {
	data, err := yaml.Marshal(&templateDoc{Template: *tmpl})
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", tmpl.Code, err)
	}
	path := filepath.Join(dir, tmpl.Code+".yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// importTemplate creates the template or saves it over the live one.
// The returned version is the snapshot taken, nil when nothing changed.
func importTemplate(ctx context.Context, store template.Store, doc *templateDoc, notes, actor string) (*template.Template, *template.Version, bool, error) {
	tmpl := doc.Template
	if notes == "" {
		notes = doc.ChangeNotes
	}

	_, err := store.Get(ctx, tmpl.Code)
	switch {
	case errs.Is(err, errs.KindNotFound):
		if err := store.Create(ctx, &tmpl, actor); err != nil {
			return nil, nil, false, err
		}
		return &tmpl, nil, true, nil
	case err != nil:
		return nil, nil, false, err
	}

	saved, version, err := store.Save(ctx, &tmpl, notes, actor)
	if err != nil {
		return nil, nil, false, err
	}
	return saved, version, false, nil
}

func cliActor() string {
	if templateActor != "" {
		return templateActor
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	return "cli"
}

// openTemplateStore opens the template store of a stopped server. With the
// cache enabled the store is wrapped the same way the server wraps it, so
// imports, restores and deletes invalidate the entries the server reads.
func openTemplateStore(ctx context.Context) (template.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := openConfiguredDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	storage, err := template.NewStorage(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create template storage: %w", err)
	}
	store, closeCache, err := withTemplateCache(ctx, cfg.Cache, storage)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, func() {
		closeCache()
		db.Close()
	}, nil
}

func withTemplateCache(ctx context.Context, cfg config.CacheConfig, store template.Store) (template.Store, func(), error) {
	if !cfg.Enabled {
		return store, func() {}, nil
	}
	client, err := cache.NewRedisClient(ctx, cache.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		Prefix:   cfg.Prefix,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to template cache: %w", err)
	}
	return template.NewCachedStore(store, client, cfg.TTL, nil), func() { client.Close() }, nil
}

func runTemplateList(cmd *cobra.Command, args []string) error {
	store, cleanup, err := openTemplateStore(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	templates, err := store.List(cmd.Context(), template.ListFilter{IncludeDeleted: templateAll})
	if err != nil {
		return fmt.Errorf("failed to list templates: %w", err)
	}

	if len(templates) == 0 {
		fmt.Println("No templates found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tNAME\tCHANNELS\tVERSION\tSTATUS\tUPDATED")
	for _, tmpl := range templates {
		status := "active"
		switch {
		case tmpl.Deleted():
			status = "deleted"
		case !tmpl.IsActive:
			status = "inactive"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			tmpl.Code,
			tmpl.Name,
			joinChannels(tmpl),
			tmpl.Version,
			status,
			tmpl.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d templates\n", len(templates))
	return nil
}

func joinChannels(tmpl *template.Template) string {
	names := make([]string, len(tmpl.Channels))
	for i, c := range tmpl.Channels {
		names[i] = string(c)
	}
	return strings.Join(names, ",")
}

func runTemplateShow(cmd *cobra.Command, args []string) error {
	store, cleanup, err := openTemplateStore(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	tmpl, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("ID:          %s\n", tmpl.ID)
	fmt.Printf("Code:        %s\n", tmpl.Code)
	fmt.Printf("Name:        %s\n", tmpl.Name)
	fmt.Printf("Description: %s\n", tmpl.Description)
	fmt.Printf("Channels:    %s\n", joinChannels(tmpl))
	fmt.Printf("Version:     %d\n", tmpl.Version)
	fmt.Printf("Active:      %v\n", tmpl.IsActive)
	fmt.Printf("Created:     %s by %s\n", tmpl.CreatedAt.Format("2006-01-02 15:04:05"), tmpl.CreatedBy)
	fmt.Printf("Updated:     %s by %s\n", tmpl.UpdatedAt.Format("2006-01-02 15:04:05"), tmpl.UpdatedBy)

	printTranslations("Subject", tmpl.Subject)
	printTranslations("Text", tmpl.BodyText)
	printTranslations("HTML", tmpl.BodyHTML)

	if len(tmpl.Variables) > 0 {
		fmt.Printf("\nVariables:\n")
		for _, v := range tmpl.Variables {
			req := ""
			if v.Required {
				req = " (required)"
			}
			fmt.Printf("  - %s: %s%s\n", v.Name, v.Description, req)
		}
	}
	if undeclared := template.NewEngine("").UndeclaredVariables(tmpl); len(undeclared) > 0 {
		fmt.Printf("\nUndeclared placeholders: %s\n", strings.Join(undeclared, ", "))
	}
	if len(tmpl.Conditions) > 0 {
		data, _ := json.Marshal(tmpl.Conditions)
		fmt.Printf("\nConditions: %s\n", data)
	}

	return nil
}

func printTranslations(label string, tr template.Translations) {
	if len(tr) == 0 {
		return
	}
	fmt.Printf("\n%s:\n", label)
	for locale, text := range tr {
		if locale == "" {
			locale = "default"
		}
		fmt.Printf("  [%s]\n", locale)
		for _, line := range strings.Split(text, "\n") {
			fmt.Printf("    %s\n", line)
		}
	}
}

func runTemplateImport(cmd *cobra.Command, args []string) error {
	store, cleanup, err := openTemplateStore(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	actor := cliActor()
	for _, path := range args {
		doc, err := readTemplateFile(path)
		if err != nil {
			return err
		}
		tmpl, version, created, err := importTemplate(cmd.Context(), store, doc, templateNotes, actor)
		if err != nil {
			return fmt.Errorf("failed to import %s: %w", path, err)
		}
		switch {
		case created:
			fmt.Printf("Created %s (version %d)\n", tmpl.Code, tmpl.Version)
		case version != nil:
			fmt.Printf("Updated %s to version %d\n", tmpl.Code, tmpl.Version)
		default:
			fmt.Printf("Unchanged %s (version %d)\n", tmpl.Code, tmpl.Version)
		}
	}
	return nil
}

func runTemplateExport(cmd *cobra.Command, args []string) error {
	store, cleanup, err := openTemplateStore(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	var templates []*template.Template
	if len(args) == 0 {
		templates, err = store.List(cmd.Context(), template.ListFilter{})
		if err != nil {
			return fmt.Errorf("failed to list templates: %w", err)
		}
	}
	for _, code := range args {
		tmpl, err := store.Get(cmd.Context(), code)
		if err != nil {
			return err
		}
		templates = append(templates, tmpl)
	}

	if err := os.MkdirAll(templateOutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for _, tmpl := range templates {
		path, err := writeTemplateFile(templateOutputDir, tmpl)
		if err != nil {
			return err
		}
		fmt.Printf("Exported: %s\n", path)
	}
	return nil
}

func runTemplatePreview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, cleanup, err := openTemplateStore(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	tmpl, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	data, err := parseJSONObject("data", templateDataJSON)
	if err != nil {
		return err
	}

	engine := template.NewEngine(cfg.Dispatch.DefaultLocale)
	result := engine.Preview(tmpl, data, templateLocale)

	fmt.Printf("Subject:\n  %s\n\n", result.Subject)
	if result.BodyText != "" {
		fmt.Printf("Text:\n")
		for _, line := range strings.Split(result.BodyText, "\n") {
			fmt.Printf("  %s\n", line)
		}
		fmt.Println()
	}
	if result.BodyHTML != "" {
		fmt.Printf("HTML:\n")
		for _, line := range strings.Split(result.BodyHTML, "\n") {
			fmt.Printf("  %s\n", line)
		}
	}
	if missing := engine.MissingVariables(tmpl, template.MergeData(tmpl.PreviewData, data)); len(missing) > 0 {
		fmt.Printf("\nMissing variables: %s\n", strings.Join(missing, ", "))
	}
	return nil
}

func runTemplateVersions(cmd *cobra.Command, args []string) error {
	store, cleanup, err := openTemplateStore(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	tmpl, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	versions, err := store.ListVersions(cmd.Context(), tmpl.ID)
	if err != nil {
		return fmt.Errorf("failed to list versions: %w", err)
	}

	fmt.Printf("%s is at version %d\n\n", tmpl.Code, tmpl.Version)
	if len(versions) == 0 {
		fmt.Println("No stored versions")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tID\tCREATED\tBY\tNOTES")
	for _, v := range versions {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			v.Version,
			v.ID,
			v.CreatedAt.Format("2006-01-02 15:04"),
			v.CreatedBy,
			v.ChangeNotes,
		)
	}
	w.Flush()
	return nil
}

func runTemplateRestore(cmd *cobra.Command, args []string) error {
	store, cleanup, err := openTemplateStore(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	tmpl, err := store.Restore(cmd.Context(), args[0], cliActor())
	if err != nil {
		return fmt.Errorf("failed to restore: %w", err)
	}
	fmt.Printf("Restored %s, now at version %d\n", tmpl.Code, tmpl.Version)
	return nil
}

func runTemplateDelete(cmd *cobra.Command, args []string) error {
	store, cleanup, err := openTemplateStore(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	if err := store.Delete(cmd.Context(), args[0], cliActor()); err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	fmt.Printf("Template deleted: %s\n", args[0])
	return nil
}
