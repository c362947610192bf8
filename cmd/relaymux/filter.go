package main

import (
	"fmt"
	"strings"

	"github.com/alfredjeanlab/relaymux/internal/model"
	"github.com/spf13/cobra"
)

func addFilterFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("filter", "", "raw JSON filter; overrides the other filter flags")
	f.StringSlice("id", nil, "event ids")
	f.StringSlice("author", nil, "author pubkeys")
	f.IntSlice("kind", nil, "event kinds")
	f.Int64("since", 0, "only events created at or after this unix time")
	f.Int64("until", 0, "only events created at or before this unix time")
	f.Int("limit", 0, "maximum number of events")
	f.StringArray("tag", nil, "tag constraint as name=value (repeatable)")
}

// filterFromFlags builds a filter from the flags added by addFilterFlags.
// Flags that were not given leave their field unconstrained.
func filterFromFlags(cmd *cobra.Command) (model.Filter, error) {
	flags := cmd.Flags()
	if raw, _ := flags.GetString("filter"); raw != "" {
		f, err := model.ParseFilter([]byte(raw))
		if err != nil {
			return model.Filter{}, fmt.Errorf("invalid --filter: %w", err)
		}
		return f, nil
	}

	var f model.Filter
	if flags.Changed("id") {
		f.IDs, _ = flags.GetStringSlice("id")
	}
	if flags.Changed("author") {
		f.Authors, _ = flags.GetStringSlice("author")
	}
	if flags.Changed("kind") {
		f.Kinds, _ = flags.GetIntSlice("kind")
	}
	if flags.Changed("since") {
		v, _ := flags.GetInt64("since")
		f.Since = model.Int64(v)
	}
	if flags.Changed("until") {
		v, _ := flags.GetInt64("until")
		f.Until = model.Int64(v)
	}
	f.Limit, _ = flags.GetInt("limit")

	tags, _ := flags.GetStringArray("tag")
	for _, kv := range tags {
		name, value, ok := strings.Cut(strings.TrimPrefix(kv, "#"), "=")
		if !ok || name == "" {
			return model.Filter{}, fmt.Errorf("invalid --tag %q (want name=value)", kv)
		}
		if f.Tags == nil {
			f.Tags = map[string][]string{}
		}
		f.Tags[name] = append(f.Tags[name], value)
	}
	return f, nil
}
