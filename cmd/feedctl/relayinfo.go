package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"nostr-feed/internal/nostr"
)

func newRelayInfoCmd(flags *rootFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "relayinfo [relay...]",
		Short: "Fetch NIP-11 relay information documents",
		Long:  `Fetch the NIP-11 document of each relay (default: the configured relays).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			relays := args
			if len(relays) == 0 {
				relays = a.cfg.Relays.Default
			}
			for i, r := range relays {
				if n := nostr.NormalizeRelayURL(r); n != "" {
					relays[i] = n
				}
			}

			ctx, cancel := withTimeout(cmd, flags)
			defer cancel()
			infos, found := a.relayInfo().LoadMany(ctx, relays)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				for i, relay := range relays {
					if !found[i] {
						continue
					}
					if err := enc.Encode(map[string]interface{}{"relay": relay, "info": infos[i]}); err != nil {
						return err
					}
				}
				return nil
			}

			for i, relay := range relays {
				if !found[i] {
					fmt.Fprintf(out, "%s  (unavailable)\n", relay)
					continue
				}
				info := infos[i]
				nips := make([]string, len(info.SupportedNIPs))
				for j, n := range info.SupportedNIPs {
					nips[j] = strconv.Itoa(n)
				}
				fmt.Fprintf(out, "%s  %s\n", relay, info.Name)
				if info.Software != "" {
					fmt.Fprintf(out, "  software %s %s\n", info.Software, info.Version)
				}
				if len(nips) > 0 {
					fmt.Fprintf(out, "  nips     %s\n", strings.Join(nips, ","))
				}
				if l := info.Limitation; l != nil && (l.AuthRequired || l.PaymentRequired) {
					fmt.Fprintf(out, "  auth=%t payment=%t\n", l.AuthRequired, l.PaymentRequired)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print documents as JSON lines")
	return cmd
}
