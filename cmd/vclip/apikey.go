package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"vclip/server/internal/auth"
)

func newAPIKeyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "apikey",
		Short:       "Operator API key helpers",
		Annotations: map[string]string{"skip_config": "true"},
	}
	cmd.AddCommand(&cobra.Command{
		Use:         "hash [key]",
		Short:       "Print the bcrypt hash to set as auth.api_key_hash (reads stdin without an argument)",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{"skip_config": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("no key given on stdin")
				}
				key = strings.TrimSpace(line)
			}
			hash, err := auth.HashAPIKey(key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	})
	return cmd
}
