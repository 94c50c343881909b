package cmd

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/encodeous/dvsim/state"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send [destination] [message]",
	Short: "Hands a payload to a leaf through its ingestion api",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		leaf, _ := cmd.Flags().GetString("leaf")
		q := url.Values{}
		q.Set(state.PayloadDestinationKey, args[0])
		if len(args) == 2 {
			q.Set("message", args[1])
		}
		client := http.Client{Timeout: 5 * time.Second}
		res, err := client.Post(fmt.Sprintf("http://%s/send-packet", leaf), "application/x-www-form-urlencoded", strings.NewReader(q.Encode()))
		if err != nil {
			return err
		}
		defer res.Body.Close()
		body, _ := io.ReadAll(res.Body)
		if res.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: %s", res.Status, strings.TrimSpace(string(body)))
		}
		cmd.Print(string(body))
		return nil
	},
	GroupID: "dv",
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringP("leaf", "l", fmt.Sprintf("127.0.0.1:%d", state.DefaultApiPort), "ingestion api of the leaf")
}
