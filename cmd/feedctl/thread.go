package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"nostr-feed/internal/nips"
	"nostr-feed/internal/nostr"
	"nostr-feed/internal/thread"
	"nostr-feed/internal/timeline"
	"nostr-feed/internal/types"
	"nostr-feed/internal/util"
)

func newThreadCmd(flags *rootFlags) *cobra.Command {
	var (
		depth      int
		noProfiles bool
	)

	cmd := &cobra.Command{
		Use:   "thread <event-id|note|nevent>",
		Short: "Print an event and its reply tree",
		Long: `Fetch an event, then fetch replies, comments and highlights pointing at it
level by level, and print them as a tree.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			ref, err := nips.ParseEventRef(args[0])
			if err != nil {
				return err
			}
			relays := util.Dedupe(append(append([]string{}, a.cfg.Relays.Default...), ref.Relays...))

			ctx, cancel := withTimeout(cmd, flags)
			defer cancel()
			start := time.Now()

			roots := timeline.Merge(a.pool.Query(ctx, relays, types.Filter{IDs: []string{ref.ID}, Limit: 1}))
			if len(roots) == 0 {
				return fmt.Errorf("event %s not found", nostr.ShortID(ref.ID))
			}
			root := roots[0]

			idx := thread.NewIndex()
			frontier := []string{root.ID}
			for level := 0; level < depth && len(frontier) > 0; level++ {
				batch := timeline.Merge(a.pool.Query(ctx, relays, types.Filter{
					ETags: frontier,
					Kinds: []int{nostr.KindTextNote, nostr.KindComment, nostr.KindHighlight},
				}))
				idx.AddEvents(batch)
				a.log.Debug("thread: fetched level", "level", level+1, "events", len(batch))

				frontier = nil
				for _, evt := range batch {
					if !nostr.IsReplaceable(evt.Kind) && !nostr.IsAddressable(evt.Kind) {
						frontier = append(frontier, evt.ID)
					}
				}
			}
			all := []types.Event{root}
			idx.Walk(nostr.Key(root), func(evt types.Event, _ int) { all = append(all, evt) })
			logDone(a.log, "thread", start, "replies", len(all)-1)

			names := map[string]string{}
			if !noProfiles {
				pubkeys := make([]string, len(all))
				for i, evt := range all {
					pubkeys[i] = evt.PubKey
				}
				for pk, p := range a.profiles().LoadMap(ctx, util.Dedupe(pubkeys)) {
					names[pk] = displayName(p)
				}
			}

			out := cmd.OutOrStdout()
			printEvent(out, root, names, 0)
			idx.Walk(nostr.Key(root), func(evt types.Event, d int) {
				printEvent(out, evt, names, d)
			})
			return nil
		},
	}

	cmd.Flags().IntVar(&depth, "depth", 3, "how many reply levels to fetch")
	cmd.Flags().BoolVar(&noProfiles, "no-profiles", false, "do not resolve author names")
	return cmd
}
