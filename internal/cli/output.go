package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/xraph/workpool/codec"
	"github.com/xraph/workpool/item"
)

func printItem(w io.Writer, c codec.Codec, it *item.Item, format string) error {
	if format == "json" {
		return writeJSON(w, it)
	}

	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	row := func(k, v string) { _, _ = fmt.Fprintf(tw, "%s:\t%s\n", k, v) }

	row("id", it.ID.String())
	row("name", it.Name)
	row("pool", it.PoolKey)
	row("state", string(it.State))
	row("priority", fmt.Sprint(it.Priority))
	row("attempts", fmt.Sprintf("%d/%d", it.Attempts, it.MaxAttempts))
	row("enqueued", formatTime(&it.EnqueuedAt))
	if it.State == item.StatePending {
		row("eligible", formatTime(&it.NextEligibleAt))
	}
	if !it.WorkerID.IsNil() {
		row("worker", it.WorkerID.String())
	}
	if it.HeartbeatAt != nil {
		row("heartbeat", formatTime(it.HeartbeatAt))
	}
	if it.CompletedAt != nil {
		row("completed", formatTime(it.CompletedAt))
	}
	if it.CancelRequested {
		row("cancel", "requested")
	}
	if len(it.Payload) > 0 {
		row("payload", render(c, it.Payload))
	}
	if len(it.Result) > 0 {
		row("result", render(c, it.Result))
	}
	if it.Error != "" {
		row("error", it.Error)
	}
	return tw.Flush()
}

func printItems(w io.Writer, items []*item.Item, format string) error {
	if format == "json" {
		return writeJSON(w, items)
	}

	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tPOOL\tSTATE\tATTEMPTS\tENQUEUED")
	for _, it := range items {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			it.ID, it.Name, it.PoolKey, it.State, it.Attempts, it.MaxAttempts, formatTime(&it.EnqueuedAt))
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// render decodes an encoded value for display. JSON renders as JSON;
// anything the codec cannot decode falls back to printable text or a
// byte count.
func render(c codec.Codec, data []byte) string {
	var v any
	if err := c.Unmarshal(data, &v); err == nil {
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
	}
	if utf8.Valid(data) {
		return string(data)
	}
	return fmt.Sprintf("<%d bytes>", len(data))
}
