package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agentvault",
	Short: "AgentVault CLI",
	Long:  "A CLI for managing payment tokens and purchase scenarios in AgentVault.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(vaultCmd())
	rootCmd.AddCommand(scenarioCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(operatorCmd())
	rootCmd.AddCommand(configureCmd())
}

// --- vault ---

func vaultCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "vault", Short: "Manage tokenized payment records"}

	putCmd := &cobra.Command{
		Use:   "put [field=value ...]",
		Short: "Store a payment record and receive a token",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			record := map[string]any{}
			for _, kv := range args {
				parts := strings.SplitN(kv, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("invalid field=value pair: %s", kv)
				}
				record[parts[0]] = parts[1]
			}
			client := newClient()
			result, err := client.post("/v1/vault", record)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List your vault tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/vault")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if entries, ok := result["entries"].([]any); ok {
				printList(entries)
				return nil
			}
			printResult(result)
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <token>",
		Short: "Show the masked record behind a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/vault/" + args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			if data, ok := result["data"].(map[string]any); ok {
				printResult(data)
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(putCmd, listCmd, showCmd)
	return cmd
}

// --- scenario ---

func scenarioCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "scenario", Short: "Create and drive purchase scenarios"}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a scenario and run the search phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			ceiling, _ := cmd.Flags().GetInt64("ceiling-cents")
			currency, _ := cmd.Flags().GetString("currency")
			token, _ := cmd.Flags().GetString("vault-token")
			location, _ := cmd.Flags().GetString("location")
			start, _ := cmd.Flags().GetString("start-date")
			end, _ := cmd.Flags().GetString("end-date")

			body := map[string]any{
				"kind":          kind,
				"ceiling_cents": ceiling,
				"currency":      currency,
				"vault_token":   token,
			}
			if location != "" {
				body["location"] = location
			}
			if start != "" {
				body["start_date"] = start
			}
			if end != "" {
				body["end_date"] = end
			}

			client := newClient()
			result, err := client.post("/v1/scenarios", body)
			if err != nil {
				printError(err.Error())
				return nil
			}
			if sc, ok := result["scenario"].(map[string]any); ok {
				printResult(sc)
				return nil
			}
			printResult(result)
			return nil
		},
	}
	createCmd.Flags().String("kind", "hotel", "Scenario kind: product, hotel, flight")
	createCmd.Flags().Int64("ceiling-cents", 20000, "Spending ceiling in cents")
	createCmd.Flags().String("currency", "USD", "Currency code")
	createCmd.Flags().String("vault-token", "", "Vault token to pay with")
	createCmd.Flags().String("location", "", "Location (hotel and flight scenarios)")
	createCmd.Flags().String("start-date", "", "Start date, YYYY-MM-DD")
	createCmd.Flags().String("end-date", "", "End date, YYYY-MM-DD")
	createCmd.MarkFlagRequired("vault-token") //nolint:errcheck

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List your scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/scenarios")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if scs, ok := result["scenarios"].([]any); ok {
				printList(scs)
				return nil
			}
			printResult(result)
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/scenarios/" + args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			if sc, ok := result["scenario"].(map[string]any); ok {
				printResult(sc)
				return nil
			}
			printResult(result)
			return nil
		},
	}

	authorizeCmd := &cobra.Command{
		Use:   "authorize <id>",
		Short: "Authorize payment for a scenario awaiting approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, _ := cmd.Flags().GetString("vault-token")
			client := newClient()
			result, err := client.post("/v1/scenarios/"+args[0]+"/authorize", map[string]any{
				"vault_token": token,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			if sc, ok := result["scenario"].(map[string]any); ok {
				printResult(sc)
				return nil
			}
			printResult(result)
			return nil
		},
	}
	authorizeCmd.Flags().String("vault-token", "", "Vault token to charge")
	authorizeCmd.MarkFlagRequired("vault-token") //nolint:errcheck

	cmd.AddCommand(createCmd, listCmd, showCmd, authorizeCmd)
	return cmd
}

// --- workflow ---

func workflowCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "workflow", Short: "Inspect workflow logs"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List your workflow records",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/workflows")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if wfs, ok := result["workflows"].([]any); ok {
				printList(wfs)
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(listCmd)
	return cmd
}

// --- operator ---

func operatorCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "operator", Short: "Operator commands"}

	rotateCmd := &cobra.Command{
		Use:   "rotate",
		Short: "Re-encrypt all vault entries under the active key",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/sys/rotate", nil)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/sys/health")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(rotateCmd, healthCmd)
	return cmd
}

// --- configure ---

func configureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Save CLI connection settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if v, _ := cmd.Flags().GetString("address"); v != "" {
				cfg.Address = v
			}
			if v, _ := cmd.Flags().GetString("user"); v != "" {
				cfg.UserID = v
			}
			if v, _ := cmd.Flags().GetString("ca-cert"); v != "" {
				cfg.TLSCACert = v
			}
			if err := saveConfig(); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Saved config to " + configPath())
			return nil
		},
	}
	cmd.Flags().String("address", "", "Server address, e.g. https://vault.example.com")
	cmd.Flags().String("user", "", "User ID sent with requests")
	cmd.Flags().String("ca-cert", "", "Path to a CA certificate for TLS verification")
	return cmd
}
