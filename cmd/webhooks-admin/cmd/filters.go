package cmd

import (
	"github.com/spf13/cobra"
)

var filtersCmd = &cobra.Command{
	Use:     "filters",
	Aliases: []string{"filter"},
	Short:   "List the filters a registration may subscribe to",
	Args:    cobra.NoArgs,
	RunE:    runFilters,
}

func runFilters(cmd *cobra.Command, _ []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	data, err := client.Get(cmd.Context(), "/api/v1/filters")
	if err != nil {
		return err
	}

	var resp ListResponse[FilterResponse]
	if err := unmarshal(data, &resp); err != nil {
		return err
	}

	if done, err := printStructured(resp); done {
		return err
	}

	t := newTable("NAME", "DESCRIPTION")
	for _, f := range resp.Data {
		t.AddRow(f.Name, dashIfEmpty(f.Description))
	}
	t.Flush()
	printTotal(resp.Total)
	return nil
}
