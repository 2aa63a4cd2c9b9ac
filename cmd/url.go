package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/catalogsync/internal/catalog"
	"github.com/sells-group/catalogsync/internal/model"
	"github.com/sells-group/catalogsync/internal/reqcache"
	"github.com/sells-group/catalogsync/internal/search"
	"github.com/sells-group/catalogsync/internal/urlsync"
)

var (
	urlView   string
	urlPath   string
	urlOutput string
)

var urlCmd = &cobra.Command{
	Use:   "url",
	Short: "Inspect search URLs",
}

var urlNormalizeCmd = &cobra.Command{
	Use:   "normalize <query>",
	Short: "Print the canonical form of a search query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loc := resolveLocation(args[0])
		fmt.Fprintln(cmd.OutOrStdout(), loc.Canonical)
		return nil
	},
}

var urlHydrateCmd = &cobra.Command{
	Use:   "hydrate <query>",
	Short: "Print the search state a query describes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeOutput(cmd.OutOrStdout(), urlOutput, resolveLocation(args[0]))
	},
}

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint <query>",
	Short: "Print the cache fingerprint and canonical request of a search query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loc := resolveLocation(args[0])
		req := catalog.NewSearchRequest(loc.Filtered, loc.Scope)
		fmt.Fprintln(cmd.OutOrStdout(), reqcache.Fingerprint(loc.Filtered, req.Endpoint, loc.Scope))
		fmt.Fprintln(cmd.OutOrStdout(), reqcache.Canonical(req))
		return nil
	},
}

// location is a query resolved against a path the way a session opening
// there would see it.
type location struct {
	Scope     model.ScopeContext `json:"scope" yaml:"scope"`
	State     model.SearchState  `json:"state" yaml:"state"`
	Filtered  model.SearchState  `json:"filtered" yaml:"filtered"`
	Stripped  []string           `json:"stripped,omitempty" yaml:"stripped,omitempty"`
	Unknown   []string           `json:"unknown,omitempty" yaml:"unknown,omitempty"`
	Canonical string             `json:"canonical" yaml:"canonical"`
}

func resolveLocation(query string) location {
	scope := urlsync.ScopeFromPath(urlPath)
	state, q := urlsync.Hydrate(query, model.View(urlView), configuredPageSize)
	filtered := search.FilterForContext(state, scope, state.View)
	return location{
		Scope:     scope,
		State:     state,
		Filtered:  filtered,
		Stripped:  search.StrippedFields(state, scope, state.View),
		Unknown:   q.Unknown,
		Canonical: urlsync.Encode(filtered, configuredPageSize(state.View), q.Unknown),
	}
}

// configuredPageSize is the default page size of view when no preference
// is remembered.
func configuredPageSize(view model.View) int {
	n := 0
	switch view {
	case model.ViewCards:
		n = cfg.Search.CardsPageSize
	case model.ViewSets:
		n = cfg.Search.SetsPageSize
	}
	if n <= 0 {
		n = model.RulesFor(view).DefaultPageSize
	}
	return model.ClampPageSize(n)
}

// writeOutput renders v as JSON or YAML.
func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return enc.Close()
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(v), "encode json")
	default:
		return eris.Errorf("unknown output format %q", format)
	}
}

func init() {
	for _, c := range []*cobra.Command{urlNormalizeCmd, urlHydrateCmd, fingerprintCmd} {
		c.Flags().StringVar(&urlView, "view", string(model.ViewCards), "view when the query has no contentType")
		c.Flags().StringVar(&urlPath, "path", "/", "location path; /collections/{id} selects a collection")
	}
	urlHydrateCmd.Flags().StringVarP(&urlOutput, "output", "o", "json", "output format: json or yaml")

	urlCmd.AddCommand(urlNormalizeCmd, urlHydrateCmd)
	rootCmd.AddCommand(urlCmd, fingerprintCmd)
}
