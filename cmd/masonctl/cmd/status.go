package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusSite string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status feed of a site",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, pool, err := openRegistry(cmd.Context())
		if err != nil {
			return err
		}
		defer pool.Close()

		messages, err := reg.GetMessages(cmd.Context(), statusSite)
		if err != nil {
			return err
		}
		if len(messages) == 0 {
			fmt.Printf("no messages for %s\n", statusSite)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "TIME\tCODE\tTAG\tMESSAGE")
		for _, m := range messages {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", m.CreatedAt.Format("2006-01-02 15:04:05"), m.Code, m.Tag, m.Message)
		}
		return w.Flush()
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusSite, "site", "", "site name")
	_ = statusCmd.MarkFlagRequired("site")
	rootCmd.AddCommand(statusCmd)
}
