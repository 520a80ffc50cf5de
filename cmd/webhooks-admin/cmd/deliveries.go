package cmd

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var deliveriesCmd = &cobra.Command{
	Use:     "deliveries",
	Aliases: []string{"delivery"},
	Short:   "Inspect delivery status",
}

var getDeliveryCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show the outcome of one delivery",
	Args:  cobra.ExactArgs(1),
	RunE:  runGetDelivery,
}

var listDeliveriesCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List recent deliveries",
	Args:    cobra.NoArgs,
	RunE:    runListDeliveries,
}

var deliveryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recent deliveries",
	Args:  cobra.NoArgs,
	RunE:  runDeliveryStats,
}

func init() {
	listDeliveriesCmd.Flags().String("status", "", "Filter by status (delivered, failed, rejected, cancelled)")
	listDeliveriesCmd.Flags().Int("limit", 50, "Maximum number of deliveries")

	deliveriesCmd.AddCommand(getDeliveryCmd, listDeliveriesCmd, deliveryStatsCmd)
}

func runGetDelivery(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	data, err := client.Get(cmd.Context(), "/api/v1/deliveries/"+url.PathEscape(args[0]))
	if err != nil {
		return err
	}

	var d DeliveryResponse
	if err := unmarshal(data, &d); err != nil {
		return err
	}

	if done, err := printStructured(d); done {
		return err
	}

	fmt.Fprintf(stdout, "Delivery:     %s\n", d.DeliveryID)
	fmt.Fprintf(stdout, "Registration: %s\n", d.RegistrationID)
	fmt.Fprintf(stdout, "Callback URI: %s\n", d.CallbackURI)
	fmt.Fprintf(stdout, "Actions:      %s\n", strings.Join(d.Actions, ", "))
	fmt.Fprintf(stdout, "Status:       %s\n", d.Status)
	fmt.Fprintf(stdout, "Attempts:     %d\n", d.Attempts)
	if d.StatusCode != 0 {
		fmt.Fprintf(stdout, "HTTP status:  %d\n", d.StatusCode)
	}
	if d.Error != "" {
		fmt.Fprintf(stdout, "Error:        %s\n", d.Error)
	}
	fmt.Fprintf(stdout, "Created:      %s\n", shortTime(d.CreatedAt))
	fmt.Fprintf(stdout, "Completed:    %s\n", shortTime(d.CompletedAt))
	return nil
}

func runListDeliveries(cmd *cobra.Command, _ []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	params := url.Values{}
	if v, _ := cmd.Flags().GetString("status"); v != "" {
		params.Set("status", v)
	}
	if v, _ := cmd.Flags().GetInt("limit"); v > 0 {
		params.Set("limit", strconv.Itoa(v))
	}

	path := "/api/v1/deliveries"
	if q := params.Encode(); q != "" {
		path += "?" + q
	}

	data, err := client.Get(cmd.Context(), path)
	if err != nil {
		return err
	}

	var resp ListResponse[DeliveryResponse]
	if err := unmarshal(data, &resp); err != nil {
		return err
	}

	if done, err := printStructured(resp); done {
		return err
	}

	t := newTable("ID", "REGISTRATION", "ACTIONS", "STATUS", "ATTEMPTS", "CODE", "COMPLETED")
	for _, d := range resp.Data {
		code := "-"
		if d.StatusCode != 0 {
			code = strconv.Itoa(d.StatusCode)
		}
		t.AddRow(d.DeliveryID, d.RegistrationID, truncate(strings.Join(d.Actions, ","), 32),
			d.Status, strconv.Itoa(d.Attempts), code, shortTime(d.CompletedAt))
	}
	t.Flush()
	printTotal(resp.Total)
	return nil
}

func runDeliveryStats(cmd *cobra.Command, _ []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	data, err := client.Get(cmd.Context(), "/api/v1/deliveries/stats")
	if err != nil {
		return err
	}

	var s DeliveryStatsResponse
	if err := unmarshal(data, &s); err != nil {
		return err
	}

	if done, err := printStructured(s); done {
		return err
	}

	statuses := make([]string, 0, len(s.ByStatus))
	for status := range s.ByStatus {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)

	t := newTable("STATUS", "COUNT")
	for _, status := range statuses {
		t.AddRow(status, strconv.Itoa(s.ByStatus[status]))
	}
	t.Flush()
	fmt.Fprintf(stdout, "\n%d deliveries, %d attempts\n", s.Total, s.Attempts)
	return nil
}
