package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func (c *cli) chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [question...]",
		Short: "Ask a question about your finances",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := c.svc.Chat(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if ok, err := c.printJSON(cmd, resp); ok {
				return err
			}
			cmd.Println(resp.Answer)
			return nil
		},
	}
}

func (c *cli) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past chat exchanges, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			history, err := c.svc.ChatHistory(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if ok, err := c.printJSON(cmd, history); ok {
				return err
			}
			if len(history) == 0 {
				cmd.Println("No chat history.")
				return nil
			}
			for _, ex := range history {
				cmd.Printf("[%s]\n", ex.Timestamp.Format("2006-01-02 15:04"))
				cmd.Printf("Q: %s\n", ex.Message)
				cmd.Printf("A: %s\n\n", ex.Response)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of exchanges")
	return cmd
}
