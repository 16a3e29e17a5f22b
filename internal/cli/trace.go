package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/service"
)

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace <collection> <id>",
		Short: "Show the mutation timeline of an entity",
		Long: `Show every mutation that targeted an entity, in queue order.

Archived mutations show their outcome (applied, superseded, dismissed);
active ones show their status and retry count.

Examples:
  posync trace stock sku-123
  posync trace customers c-42 --verbose
  posync trace stock sku-123 --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0], args[1])
			if err != nil {
				return err
			}
			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close()

			tl, err := s.Service.Timeline(commandContext(cmd), ref)
			if err != nil {
				return opError("trace failed", err)
			}
			return s.out.Render(tl, func(w io.Writer) {
				outputTraceText(w, tl, rootOpts.Verbose)
			})
		},
	}
	return cmd
}

// outputTraceText outputs the timeline as text.
func outputTraceText(w io.Writer, tl service.Timeline, verbose bool) {
	fmt.Fprintf(w, "Trace for %s\n", tl.Ref)
	fmt.Fprintf(w, "Status: %s\n", activeStatus(tl.Active))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(tl.Entries) == 0 {
		fmt.Fprintln(w, "  (no mutations)")
		return
	}
	for _, e := range tl.Entries {
		formatTimelineEntry(w, e, verbose)
	}
}

// formatTimelineEntry formats a single timeline entry for text output.
func formatTimelineEntry(w io.Writer, e service.TimelineEntry, verbose bool) {
	fmt.Fprintf(w, "  [%d] %-14s %-10s %s", e.Seq, e.Kind, e.State, formatPayload(e.Payload))
	if e.Reason != "" {
		fmt.Fprintf(w, " reason=%s", e.Reason)
	}
	if e.Attempts > 0 {
		fmt.Fprintf(w, " attempts=%d", e.Attempts)
	}
	fmt.Fprintln(w)
	if verbose {
		fmt.Fprintf(w, "       ID: %s\n", truncateID(e.ID))
	}
}

// formatPayload renders a JSON object payload with sorted keys.
func formatPayload(raw json.RawMessage) string {
	var v map[string]interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return formatArgs(v)
}

// formatArgs formats a map of args for display.
// Uses sorted keys to ensure deterministic output.
func formatArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(args[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// formatValue formats a single value for display, handling nested structures deterministically.
func formatValue(v interface{}) string {
	switch val := v.(type) {
	case map[string]interface{}:
		return formatArgs(val)
	case []interface{}:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return val
	default:
		return fmt.Sprintf("%v", v)
	}
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}

func activeStatus(active int) string {
	if active == 0 {
		return "Settled"
	}
	return fmt.Sprintf("%d active (pending or dead-lettered)", active)
}
