package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/parley/internal/textdiff"
)

func deltaCmd() *cli.Command {
	var asJSON bool
	return &cli.Command{
		Name:      "delta",
		Usage:     "Show the delta that turns one shown text into another",
		ArgsUsage: "PREVIOUS CURRENT",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the delta as JSON",
				Destination: &asJSON,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 2 {
				return cli.Exit("error: delta needs exactly two arguments: PREVIOUS CURRENT", 1)
			}
			prev, curr := c.Args().Get(0), c.Args().Get(1)
			d := textdiff.Compute(prev, curr)
			w := c.Root().Writer

			if asJSON {
				out, err := json.Marshal(struct {
					Backtrack  int    `json:"backtrack"`
					Text       string `json:"text"`
					Correcting bool   `json:"correcting"`
				}{d.Backtrack, d.Text, d.Correcting()})
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(w, string(out))
				return err
			}
			_, err := fmt.Fprintf(w, "backtrack: %d\ntext:      %s\n", d.Backtrack, strconv.Quote(d.Text))
			return err
		},
	}
}
