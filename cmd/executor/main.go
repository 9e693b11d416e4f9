// Command executor is the long-lived daemon that connects outbound to a
// relayer, accepts command jobs, and drives the local agent subprocess.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/devpmagent/relay/internal/executor/agentcli"
	"github.com/devpmagent/relay/internal/executor/clientauth"
	"github.com/devpmagent/relay/internal/executor/config"
	"github.com/devpmagent/relay/internal/executor/relayclient"
	"github.com/devpmagent/relay/relay"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "executor: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "executor",
		Short: "Runs the coding-agent executor daemon",
	}
	run := newRunCmd()
	root.RunE = run.RunE
	root.AddCommand(run, newBootstrapDeviceCmd(), newRegisterDeviceCmd())
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the relayer and run the command loop (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			client := &relayclient.Client{Config: cfg, Runner: agentcli.Runner{}}
			return client.Run(cmd.Context())
		},
	}
}

func newBootstrapDeviceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap-device",
		Short: "Mint a one-time bootstrap key from the relayer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			var resp relay.BootstrapDeviceResponse
			if err := postBearer(cmd.Context(), cfg.RelayerURL+"/api/auth/bootstrap-device", cfg.ExecutorAPIKey, nil, &resp); err != nil {
				return err
			}
			fmt.Println(resp.DeviceAPIKey)
			return nil
		},
	}
}

func newRegisterDeviceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register-device <code> <password>",
		Short: "Consume a registration code to mint a new controller device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			if cfg.ClientSalt == "" {
				return fmt.Errorf("CLIENT_SALT is required for register-device")
			}
			code, password := args[0], args[1]
			preHashed := clientauth.PreHashPassword(cfg.ClientSalt, password)

			req := relay.RegisterDeviceRequest{Code: code, Password: preHashed}
			var resp relay.RegisterDeviceResponse
			if err := postBearer(cmd.Context(), cfg.RelayerURL+"/api/auth/register-device", cfg.ExecutorAPIKey, req, &resp); err != nil {
				return err
			}
			fmt.Printf("device_api_key=%s\ntotp_secret=%s\n", resp.DeviceAPIKey, resp.TOTPSecret)
			return nil
		},
	}
}

func postBearer(ctx context.Context, url, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: status %d: %s", url, resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
