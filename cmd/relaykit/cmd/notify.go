package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"

	"github.com/solatis/relaykit/internal/core/notification"
)

var notifyCmd = &cobra.Command{
	Use:   "notify <payload.json>",
	Short: "Handle a push payload as a notification, command or response",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotify,
}

func init() {
	rootCmd.AddCommand(notifyCmd)
	notifyCmd.Flags().Duration("deadline", 25*time.Second, "notification augmentation deadline")
	notifyCmd.Flags().Duration("budget", 30*time.Second, "execution budget for silent commands")
	notifyCmd.Flags().String("action", "", "report a user response instead (opened, dismissed)")
}

func runNotify(cmd *cobra.Command, args []string) error {
	raw, err := readPayload(args[0])
	if err != nil {
		return err
	}
	budget, _ := cmd.Flags().GetDuration("budget")
	action, _ := cmd.Flags().GetString("action")

	s, err := startSession(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	switch {
	case action != "":
		if !s.rt.HandleResponse(cmd.Context(), raw, notification.Action(action)) {
			return fmt.Errorf("response %q not handled", action)
		}
		fmt.Fprintf(out, "response %s reported\n", action)
		return nil

	case notification.IsCommand(raw):
		done := make(chan struct{})
		s.rt.HandleCommand(raw, budget, func() { close(done) })
		<-done
		fmt.Fprintln(out, "command finished")
		return nil
	}

	contents := make(chan notification.Content, 1)
	if !s.rt.HandleNotification(raw, func(c notification.Content) { contents <- c }) {
		return fmt.Errorf("payload is not a relaykit notification")
	}
	content := <-contents
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"title":        content.Title,
		"body":         content.Body,
		"collapse_key": content.CollapseKey,
		"category":     content.Category,
		"user_info":    content.UserInfo,
	})
}

// readPayload reads a JSON object, comments and trailing commas allowed.
func readPayload(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse payload %s: %w", path, err)
	}
	return raw, nil
}
