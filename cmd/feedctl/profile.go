package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"nostr-feed/internal/nips"
	"nostr-feed/internal/nostr"
	"nostr-feed/internal/types"
)

type profileOutput struct {
	Pubkey     string             `json:"pubkey"`
	Npub       string             `json:"npub,omitempty"`
	Profile    *types.ProfileInfo `json:"profile,omitempty"`
	Reputation *float64           `json:"reputation,omitempty"`
}

func newProfileCmd(flags *rootFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "profile <pubkey|npub|nprofile>...",
		Short: "Resolve profiles through the cached loader",
		Long: `Look up kind-0 profiles for one or more pubkeys. Stored profiles are printed
immediately and refreshed from relays before the command exits.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			pubkeys := make([]string, len(args))
			for i, arg := range args {
				pk, err := nips.ParsePubkey(arg)
				if err != nil {
					return fmt.Errorf("%s: %w", arg, err)
				}
				pubkeys[i] = pk
			}

			ctx, cancel := withTimeout(cmd, flags)
			defer cancel()

			profiles, found := a.profiles().LoadMany(ctx, pubkeys)
			var scores []float64
			var scored []bool
			if rep := a.reputation(); rep != nil {
				scores, scored = rep.LoadMany(ctx, pubkeys)
			}

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			for i, pk := range pubkeys {
				result := profileOutput{Pubkey: pk}
				result.Npub, _ = nips.EncodePubkey(pk)
				if found[i] {
					result.Profile = profiles[i]
				}
				if scored != nil && scored[i] {
					result.Reputation = &scores[i]
				}

				if asJSON {
					if err := enc.Encode(result); err != nil {
						return err
					}
					continue
				}
				printProfile(cmd, result)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print profiles as JSON")
	return cmd
}

func printProfile(cmd *cobra.Command, p profileOutput) {
	out := cmd.OutOrStdout()
	if p.Profile == nil {
		fmt.Fprintf(out, "%s  (no profile found)\n", nostr.ShortID(p.Pubkey))
		return
	}
	fmt.Fprintf(out, "%s  %s\n", nostr.ShortID(p.Pubkey), displayName(p.Profile))
	for _, field := range [][2]string{
		{"npub", p.Npub},
		{"nip05", p.Profile.Nip05},
		{"lud16", p.Profile.Lud16},
		{"website", p.Profile.Website},
		{"about", p.Profile.About},
	} {
		if field[1] != "" {
			fmt.Fprintf(out, "  %-8s %s\n", field[0], field[1])
		}
	}
	if p.Reputation != nil {
		fmt.Fprintf(out, "  %-8s %.2f\n", "score", *p.Reputation)
	}
}
