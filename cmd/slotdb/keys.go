package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/acksell/slotdb/httpapi"
	"github.com/acksell/slotdb/index/keys"
	"github.com/acksell/slotdb/physical"
)

func newEncodeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "encode <entity> <item-json>",
		Short:   "Print the index keys of an item",
		Example: `  slotdb encode Account '{"accountId": 1234, "username": "antonio"}'`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(g, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			cat, err := e.catalog(args[0])
			if err != nil {
				return err
			}
			item, err := httpapi.ParseObject([]byte(args[1]))
			if err != nil {
				return err
			}
			slots, err := cat.EncodeAll(physical.Document(item))
			if err != nil {
				return err
			}
			out := make(map[string]string, len(slots))
			for slot, key := range slots {
				out[string(slot)] = key
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <key>",
		Short: "Split a key into its parts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := keys.Decode(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"typeTag": d.TypeTag,
				"slot":    d.Slot,
				"pk":      terms(d.PK),
				"sk":      terms(d.SK),
			})
		},
	}
}

// terms shows numeric terms with their decoded value.
func terms(ts []string) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t
		if n, err := keys.DecodeNumber(t); err == nil {
			out[i] = fmt.Sprintf("%s (%s)", t, n)
		}
	}
	return out
}
