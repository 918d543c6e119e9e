package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/parley/internal/conversation"
	"github.com/samcharles93/parley/internal/tplparser"
)

func templatesCmd() *cli.Command {
	var (
		render string
		system string
	)
	return &cli.Command{
		Name:      "templates",
		Usage:     "List chat templates, or render a sample prompt with one",
		ArgsUsage: "[MESSAGE...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "render",
				Usage:       "template to render the messages with",
				Destination: &render,
			},
			&cli.StringFlag{
				Name:        "system",
				Usage:       "system prompt for --render",
				Destination: &system,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			w := c.Root().Writer
			if render == "" {
				for _, name := range tplparser.Names() {
					tpl, _ := tplparser.Lookup(name)
					stops := make([]string, len(tpl.StopStrings))
					for i, s := range tpl.StopStrings {
						stops[i] = strconv.Quote(s)
					}
					_, _ = fmt.Fprintf(w, "%-8s bos=%-20s stop=%s\n", name, strconv.Quote(tpl.BOSToken), strings.Join(stops, ","))
				}
				return nil
			}

			tpl, ok := tplparser.Lookup(render)
			if !ok {
				return cli.Exit(fmt.Sprintf("error: unknown template %q", render), 1)
			}
			// Arguments alternate user and assistant turns, starting with user.
			var msgs []conversation.Turn
			if system != "" {
				msgs = append(msgs, conversation.Turn{Role: conversation.RoleSystem, Content: system})
			}
			for i, arg := range c.Args().Slice() {
				role := conversation.RoleUser
				if i%2 == 1 {
					role = conversation.RoleAssistant
				}
				msgs = append(msgs, conversation.Turn{Role: role, Content: arg})
			}
			out, err := tpl.Render(tplparser.RenderOptions{
				AddGenerationPrompt: true,
				Messages:            msgs,
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: render: %v", err), 1)
			}
			_, err = fmt.Fprint(w, out)
			return err
		},
	}
}
