package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var notifyCmd = &cobra.Command{
	Use:   "notify ACTION",
	Short: "Fire an action for the token's user, or every user with --broadcast",
	Long: `Fire an action through the control API.

Without --broadcast only the registrations of the token's user are
notified. --broadcast requires an admin token.`,
	Args: cobra.ExactArgs(1),
	RunE: runNotify,
}

func init() {
	notifyCmd.Flags().String("data", "", "JSON payload sent as the notification data")
	notifyCmd.Flags().Bool("broadcast", false, "Notify every user (admin only)")
}

type notifyBody struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func runNotify(cmd *cobra.Command, args []string) error {
	raw, _ := cmd.Flags().GetString("data")
	broadcast, _ := cmd.Flags().GetBool("broadcast")

	body := notifyBody{Action: args[0]}
	if raw != "" {
		if !json.Valid([]byte(raw)) {
			return fmt.Errorf("--data is not valid JSON")
		}
		body.Data = json.RawMessage(raw)
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	path := "/api/v1/notify"
	if broadcast {
		path = "/api/v1/admin/notify"
	}

	data, err := client.Post(cmd.Context(), path, body)
	if err != nil {
		return err
	}

	var resp DispatchResponse
	if err := unmarshal(data, &resp); err != nil {
		return err
	}

	if done, err := printStructured(resp); done {
		return err
	}

	fmt.Fprintf(stdout, "Action %q submitted to %d registration(s) of %d user(s).\n",
		body.Action, resp.Submitted, resp.Users)
	return nil
}
