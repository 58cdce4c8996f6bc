// Package main provides a CLI for interacting with the upgraderunner server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tcmartin/upgraderunner/pkg/services"
)

var (
	// Global flags
	serverURL  string
	username   string
	password   string
	token      string
	configPath string
)

// Config represents the CLI configuration
type Config struct {
	ServerURL string `json:"server_url"`
	Username  string `json:"username"`
	Token     string `json:"token"`
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "upgraderunner-cli",
		Short: "Upgraderunner CLI",
		Long:  "Command-line interface for controlling the upgraderunner server",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load config if not explicitly provided
			if serverURL == "" || token == "" {
				loadCLIConfig()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Server URL")
	rootCmd.PersistentFlags().StringVar(&username, "username", "", "Username")
	rootCmd.PersistentFlags().StringVar(&password, "password", "", "Password")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Bearer token")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	rootCmd.AddCommand(loginCmd())

	// Workflow commands
	rootCmd.AddCommand(statusCmd(), startCmd(), pauseCmd(), resumeCmd(),
		retryCmd(), skipCmd(), cancelCmd(), actionCmd(), historyCmd())

	// Run archive commands
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Persisted run archive",
	}
	runsCmd.AddCommand(runsListCmd(), runsGetCmd(), runsLogsCmd())
	rootCmd.AddCommand(runsCmd)

	rootCmd.AddCommand(hashPasswordCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in and store the bearer token",
		Run: func(cmd *cobra.Command, args []string) {
			requireServer()

			if username == "" {
				fmt.Print("Username: ")
				fmt.Scanln(&username)
			}
			if password == "" {
				fmt.Print("Password: ")
				fmt.Scanln(&password)
			}

			reqBody, err := json.Marshal(map[string]string{
				"username": username,
				"password": password,
			})
			if err != nil {
				fatal(err)
			}

			resp, err := http.Post(
				fmt.Sprintf("%s/api/v1/login", serverURL),
				"application/json",
				bytes.NewBuffer(reqBody),
			)
			if err != nil {
				fatal(err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				fatal(err)
			}
			if resp.StatusCode != http.StatusOK {
				fmt.Printf("Error: %s\n", body)
				os.Exit(1)
			}

			var result struct {
				Token string `json:"token"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				fatal(err)
			}
			token = result.Token

			fmt.Println("Login successful")

			if err := saveCLIConfig(Config{
				ServerURL: serverURL,
				Username:  username,
				Token:     token,
			}); err != nil {
				fmt.Printf("Warning: Failed to save config: %v\n", err)
			}
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current workflow state",
		Run: func(cmd *cobra.Command, args []string) {
			body := apiRequest(http.MethodGet, "/api/v1/workflow", nil)
			printJSON(body)
		},
	}
}

func startCmd() *cobra.Command {
	var planFile string
	var fromStep string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start an upgrade run",
		Run: func(cmd *cobra.Command, args []string) {
			req := map[string]string{}
			if planFile != "" {
				content, err := os.ReadFile(planFile)
				if err != nil {
					fatal(err)
				}
				req["plan"] = string(content)
			}
			if fromStep != "" {
				req["from_step"] = fromStep
			}

			var reqBody []byte
			if len(req) > 0 {
				var err error
				reqBody, err = json.Marshal(req)
				if err != nil {
					fatal(err)
				}
			}

			body := apiRequest(http.MethodPost, "/api/v1/workflow/start", reqBody)
			fmt.Println("Run started")
			printJSON(body)
		},
	}

	cmd.Flags().StringVar(&planFile, "plan", "", "Path to a YAML plan file")
	cmd.Flags().StringVar(&fromStep, "from-step", "", "Start the default plan from this step type")
	return cmd
}

func pauseCmd() *cobra.Command {
	return controlCommand("pause", "Pause the running workflow")
}

func resumeCmd() *cobra.Command {
	return controlCommand("resume", "Resume a paused workflow")
}

func retryCmd() *cobra.Command {
	return controlCommand("retry", "Retry the failed step")
}

func skipCmd() *cobra.Command {
	return controlCommand("skip", "Skip the failed step")
}

func cancelCmd() *cobra.Command {
	return controlCommand("cancel", "Cancel the workflow")
}

// controlCommand builds a command that posts to one of the workflow control
// endpoints and prints the resulting state.
func controlCommand(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Run: func(cmd *cobra.Command, args []string) {
			body := apiRequest(http.MethodPost, "/api/v1/workflow/"+name, nil)
			printJSON(body)
		},
	}
}

func actionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "action [id]",
		Short: "Resolve a pending user action, e.g. confirm-update",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			body := apiRequest(http.MethodPost, "/api/v1/workflow/actions/"+args[0], nil)
			printJSON(body)
		},
	}
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show the current run's step history",
		Run: func(cmd *cobra.Command, args []string) {
			body := apiRequest(http.MethodGet, "/api/v1/workflow/history", nil)
			printJSON(body)
		},
	}
}

func runsListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted runs, newest first",
		Run: func(cmd *cobra.Command, args []string) {
			path := "/api/v1/runs"
			if limit > 0 {
				path = fmt.Sprintf("%s?limit=%d", path, limit)
			}
			body := apiRequest(http.MethodGet, path, nil)

			var runs []map[string]interface{}
			if err := json.Unmarshal(body, &runs); err != nil {
				fatal(err)
			}
			if len(runs) == 0 {
				fmt.Println("No runs found")
				return
			}

			fmt.Println("ID\t\tStatus\t\tStarted")
			fmt.Println("--\t\t------\t\t-------")
			for _, run := range runs {
				fmt.Printf("%s\t%s\t%s\n", run["id"], run["status"], run["start_time"])
			}
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of runs to list")
	return cmd
}

func runsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [id]",
		Short: "Show a persisted run",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			body := apiRequest(http.MethodGet, "/api/v1/runs/"+args[0], nil)
			printJSON(body)
		},
	}
}

func runsLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs [id]",
		Short: "Show the event log of a persisted run",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			body := apiRequest(http.MethodGet, "/api/v1/runs/"+args[0]+"/logs", nil)
			printJSON(body)
		},
	}
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Hash a password for the server's auth configuration",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			hash, err := services.HashPassword(args[0])
			if err != nil {
				fatal(err)
			}
			fmt.Println(hash)
		},
	}
}

// apiRequest sends an authenticated request and returns the body, exiting on
// any error or non-2xx status.
func apiRequest(method, path string, reqBody []byte) []byte {
	requireServer()

	if token == "" {
		fmt.Println("Error: Not logged in, run 'upgraderunner-cli login' first")
		os.Exit(1)
	}

	var bodyReader io.Reader
	if reqBody != nil {
		bodyReader = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequest(method, serverURL+path, bodyReader)
	if err != nil {
		fatal(err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		fatal(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fatal(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		fmt.Printf("Error: %s\n", strings.TrimSpace(string(body)))
		os.Exit(1)
	}

	return body
}

func printJSON(body []byte) {
	var prettyJSON bytes.Buffer
	if err := json.Indent(&prettyJSON, body, "", "  "); err != nil {
		fmt.Println(string(body))
		return
	}
	fmt.Println(prettyJSON.String())
}

func requireServer() {
	if serverURL == "" {
		fmt.Println("Error: Server URL is required")
		os.Exit(1)
	}
}

func fatal(err error) {
	fmt.Printf("Error: %v\n", err)
	os.Exit(1)
}

// loadCLIConfig fills the global flags from the saved CLI configuration
func loadCLIConfig() {
	path := configPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}
		path = filepath.Join(home, ".upgraderunner", "cli-config.json")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return
	}

	if serverURL == "" {
		serverURL = config.ServerURL
	}
	if username == "" {
		username = config.Username
	}
	if token == "" {
		token = config.Token
	}
}

// saveCLIConfig saves the CLI configuration
func saveCLIConfig(config Config) error {
	path := configPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get user home directory: %w", err)
		}
		configDir := filepath.Join(home, ".upgraderunner")
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		path = filepath.Join(configDir, "cli-config.json")
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
