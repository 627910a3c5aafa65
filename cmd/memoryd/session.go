package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xaenox/memory-service/internal/models"
)

func newAppendCmd() *cobra.Command {
	var sessionID, userID, role, content string

	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append a message to a session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := models.ParseRole(role)
			if err != nil {
				return err
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			msg, err := a.service.AppendMessage(cmd.Context(), sessionID, userID, r, content, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), msg)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID")
	cmd.Flags().StringVar(&userID, "user", "", "User ID owning the session")
	cmd.Flags().StringVar(&role, "role", string(models.RoleUser), "Message role (user, assistant, system)")
	cmd.Flags().StringVar(&content, "content", "", "Message text")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func newContextCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "context",
		Short: "Print the prompt context of a session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.service.GetContextForPrompt(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newSummarizeCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Summarize a session if it is over the threshold",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.service.SummarizeSession(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			if summary == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to summarize")
				return nil
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newExtractCmd() *cobra.Command {
	var sessionID, userID string

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract collective memory facts from a session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			stored := a.service.AfterSessionIdle(cmd.Context(), sessionID, userID)
			fmt.Fprintf(cmd.OutOrStdout(), "%d facts stored\n", stored)
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID")
	cmd.Flags().StringVar(&userID, "user", "", "User the facts are attributed to")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
