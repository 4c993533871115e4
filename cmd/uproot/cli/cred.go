package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uprootnetworks/uproot/internal/credential"
)

func init() {
	credCmd.AddCommand(credSetCmd)
	credCmd.AddCommand(credRmCmd)
	rootCmd.AddCommand(credCmd)
}

var credCmd = &cobra.Command{
	Use:   "cred",
	Short: "Manage device secrets in the OS keyring",
	Long: `Store device secrets in the OS keyring instead of the inventory file.
Fields are password, enable, and api_key.`,
}

var credSetCmd = &cobra.Command{
	Use:   "set <labId> <device> <field>",
	Short: "Store a device secret",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		labID, device, field := args[0], args[1], args[2]
		if err := validField(field); err != nil {
			return err
		}
		value, err := credential.PromptSecret(fmt.Sprintf("%s for %s/%s: ", field, labID, device))
		if err != nil {
			return err
		}
		if value == "" {
			return fmt.Errorf("empty secret, nothing stored")
		}
		if err := credential.Set(labID, device, field, value); err != nil {
			return err
		}
		cmd.Printf("Stored %s for %s/%s\n", field, labID, device)
		return nil
	},
}

var credRmCmd = &cobra.Command{
	Use:   "rm <labId> <device> <field>",
	Short: "Remove a device secret",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		labID, device, field := args[0], args[1], args[2]
		if err := validField(field); err != nil {
			return err
		}
		if err := credential.Delete(labID, device, field); err != nil {
			return err
		}
		cmd.Printf("Removed %s for %s/%s\n", field, labID, device)
		return nil
	},
}

func validField(field string) error {
	switch field {
	case credential.FieldPassword, credential.FieldEnable, credential.FieldAPIKey:
		return nil
	}
	return fmt.Errorf("unknown field %q (valid: %s, %s, %s)",
		field, credential.FieldPassword, credential.FieldEnable, credential.FieldAPIKey)
}
