package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"nostr-feed/internal/nips"
	"nostr-feed/internal/nostr"
	"nostr-feed/internal/timeline"
	"nostr-feed/internal/types"
	"nostr-feed/internal/util"
)

func newTimelineCmd(flags *rootFlags) *cobra.Command {
	var (
		limit      int
		kinds      []int
		since      time.Duration
		asJSON     bool
		noProfiles bool
	)

	cmd := &cobra.Command{
		Use:   "timeline [pubkey|npub...]",
		Short: "Print a merged timeline from the configured relays",
		Long: `Query every relay for the newest events, optionally restricted to some authors,
and print one merged, de-duplicated timeline.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)

			authors := make([]string, 0, len(args))
			for _, arg := range args {
				pk, err := nips.ParsePubkey(arg)
				if err != nil {
					return fmt.Errorf("%s: %w", arg, err)
				}
				authors = append(authors, pk)
			}

			filter := types.Filter{Authors: authors, Kinds: kinds, Limit: limit}
			if since > 0 {
				ts := time.Now().Add(-since).Unix()
				filter.Since = &ts
			}

			ctx, cancel := withTimeout(cmd, flags)
			defer cancel()
			start := time.Now()
			perRelay := a.pool.Query(ctx, a.cfg.Relays.Default, filter)
			events := timeline.Merge(perRelay, timeline.WithLimit(limit))
			logDone(a.log, "timeline", start, "relays", len(perRelay), "events", len(events))

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSONLines(out, events)
			}

			names := map[string]string{}
			if !noProfiles && len(events) > 0 {
				pubkeys := make([]string, len(events))
				for i, evt := range events {
					pubkeys[i] = evt.PubKey
				}
				for pk, p := range a.profiles().LoadMap(ctx, util.Dedupe(pubkeys)) {
					names[pk] = displayName(p)
				}
			}
			for _, evt := range events {
				printEvent(out, evt, names, 0)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of events")
	cmd.Flags().IntSliceVar(&kinds, "kind", []int{nostr.KindTextNote}, "event kinds to include")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this (e.g. 24h)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print events as JSON lines")
	cmd.Flags().BoolVar(&noProfiles, "no-profiles", false, "do not resolve author names")
	return cmd
}

func writeJSONLines(w io.Writer, events []types.Event) error {
	enc := json.NewEncoder(w)
	for _, evt := range events {
		if err := enc.Encode(evt); err != nil {
			return err
		}
	}
	return nil
}

func displayName(p *types.ProfileInfo) string {
	switch {
	case p == nil:
		return ""
	case p.DisplayName != "":
		return p.DisplayName
	default:
		return p.Name
	}
}

// printEvent writes one line per event, indented by depth
func printEvent(w io.Writer, evt types.Event, names map[string]string, depth int) {
	author := names[evt.PubKey]
	if author == "" {
		author = nostr.ShortID(evt.PubKey)
	}
	content := strings.Join(strings.Fields(evt.Content), " ")
	if r := []rune(content); len(r) > 120 {
		content = string(r[:117]) + "..."
	}
	fmt.Fprintf(w, "%s%s  %-16s  %s  %s\n",
		strings.Repeat("  ", depth),
		time.Unix(evt.CreatedAt, 0).UTC().Format(time.DateTime),
		author,
		nostr.ShortID(evt.ID),
		content)
}
