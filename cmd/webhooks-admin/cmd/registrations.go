package cmd

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

var registrationsCmd = &cobra.Command{
	Use:     "registrations",
	Aliases: []string{"registration", "reg"},
	Short:   "Manage webhook registrations of the token's user",
}

var listRegistrationsCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registrations",
	Args:    cobra.NoArgs,
	RunE:    runListRegistrations,
}

var getRegistrationCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show one registration",
	Args:  cobra.ExactArgs(1),
	RunE:  runGetRegistration,
}

var deleteRegistrationCmd = &cobra.Command{
	Use:   "delete [ID]",
	Short: "Delete a registration, or every registration with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDeleteRegistration,
}

func init() {
	deleteRegistrationCmd.Flags().Bool("all", false, "Delete every registration of the user")

	registrationsCmd.AddCommand(listRegistrationsCmd, getRegistrationCmd, deleteRegistrationCmd)
}

func registrationPath(id string) string {
	return "/api/v1/registrations/" + url.PathEscape(id)
}

func runListRegistrations(cmd *cobra.Command, _ []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	data, err := client.Get(cmd.Context(), "/api/v1/registrations")
	if err != nil {
		return err
	}

	var resp ListResponse[RegistrationResponse]
	if err := unmarshal(data, &resp); err != nil {
		return err
	}

	if done, err := printStructured(resp); done {
		return err
	}

	t := newTable("ID", "CALLBACK", "FILTERS", "PAUSED", "VERSION", "UPDATED")
	for _, r := range resp.Data {
		t.AddRow(r.ID, truncate(r.CallbackURI, 48), strings.Join(r.Filters, ","),
			boolToStr(r.IsPaused), truncate(r.Version, 12), shortTime(r.UpdatedAt))
	}
	t.Flush()
	printTotal(resp.Total)
	return nil
}

func runGetRegistration(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	data, err := client.Get(cmd.Context(), registrationPath(args[0]))
	if err != nil {
		return err
	}

	var r RegistrationResponse
	if err := unmarshal(data, &r); err != nil {
		return err
	}

	if done, err := printStructured(r); done {
		return err
	}

	fmt.Fprintf(stdout, "ID:           %s\n", r.ID)
	fmt.Fprintf(stdout, "Callback URI: %s\n", r.CallbackURI)
	fmt.Fprintf(stdout, "Description:  %s\n", dashIfEmpty(r.Description))
	fmt.Fprintf(stdout, "Filters:      %s\n", strings.Join(r.Filters, ", "))
	fmt.Fprintf(stdout, "Has secret:   %s\n", boolToStr(r.HasSecret))
	fmt.Fprintf(stdout, "Paused:       %s\n", boolToStr(r.IsPaused))
	fmt.Fprintf(stdout, "Version:      %s\n", r.Version)
	fmt.Fprintf(stdout, "Created:      %s\n", shortTime(r.CreatedAt))
	fmt.Fprintf(stdout, "Updated:      %s\n", shortTime(r.UpdatedAt))
	if len(r.Headers) > 0 {
		fmt.Fprintln(stdout, "Headers:")
		for k, v := range r.Headers {
			fmt.Fprintf(stdout, "  %s: %s\n", k, v)
		}
	}
	return nil
}

func runDeleteRegistration(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	switch {
	case all && len(args) > 0:
		return fmt.Errorf("give either an ID or --all, not both")
	case !all && len(args) == 0:
		return fmt.Errorf("registration ID is required (or --all)")
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	if all {
		if err := client.Delete(cmd.Context(), "/api/v1/registrations"); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "All registrations deleted.")
		return nil
	}

	if err := client.Delete(cmd.Context(), registrationPath(args[0])); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Registration %s deleted.\n", args[0])
	return nil
}
