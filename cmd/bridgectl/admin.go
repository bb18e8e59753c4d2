package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/eidos-exchange/eidos-bridge/internal/config"
	"github.com/eidos-exchange/eidos-bridge/internal/dto"
)

// adminClient 调用服务的运维接口，交易由服务端签名，共用服务的 nonce 管理
type adminClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAdminClient(cfg *config.Config, server string) (*adminClient, error) {
	if cfg.Admin.Token == "" {
		return nil, errors.New("admin.token is not configured")
	}
	if server == "" {
		server = fmt.Sprintf("http://localhost:%d", cfg.Service.HTTPPort)
	}
	return &adminClient{
		baseURL: strings.TrimRight(server, "/"),
		token:   cfg.Admin.Token,
		// 创建活动需等待回执
		http: &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

func (c *adminClient) post(ctx context.Context, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	envelope := dto.Response{Data: out}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || envelope.Code != 0 {
		return fmt.Errorf("HTTP %d: %s (code %d)", resp.StatusCode, envelope.Message, envelope.Code)
	}
	return nil
}

func campaignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "campaign",
		Short: "Campaign operations",
	}
	cmd.AddCommand(campaignCreateCmd())
	return cmd
}

func campaignCreateCmd() *cobra.Command {
	var (
		server string
		req    dto.CreateCampaignRequest
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a campaign through the factory contract",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := newAdminClient(cfg, server)
			if err != nil {
				return err
			}

			var created dto.CampaignResponse
			if err := client.post(cmd.Context(), "/admin/campaigns", &req, &created); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Campaign #%d created\n", created.CampaignID)
			fmt.Fprintf(out, "  Address:     %s\n", created.ContractAddress)
			fmt.Fprintf(out, "  Goal:        %s\n", created.Goal)
			fmt.Fprintf(out, "  Beneficiary: %s\n", created.Beneficiary)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "bridge base URL (default http://localhost:<http_port>)")
	cmd.Flags().StringVar(&req.Title, "title", "", "campaign title")
	cmd.Flags().StringVar(&req.Description, "description", "", "campaign description")
	cmd.Flags().StringVar(&req.Goal, "goal", "", "funding goal in tokens")
	cmd.Flags().StringVar(&req.Beneficiary, "beneficiary", "", "beneficiary address")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("goal")
	_ = cmd.MarkFlagRequired("beneficiary")
	return cmd
}

func mintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint operations",
	}
	cmd.AddCommand(mintRetryCmd())
	return cmd
}

func mintRetryCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "retry [correlation-id]",
		Short: "Retry a FAILED mint (reconciles instead when the previous tx landed)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := newAdminClient(cfg, server)
			if err != nil {
				return err
			}

			var res dto.MintRetryResponse
			if err := client.post(cmd.Context(), "/admin/mints/"+args[0]+"/retry", nil, &res); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if res.Reconciled {
				fmt.Fprintf(out, "Previous mint %s already succeeded, record set to %s\n", res.TxHash, res.Status)
				return nil
			}
			fmt.Fprintf(out, "Mint resubmitted: %s (status %s)\n", res.TxHash, res.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "bridge base URL (default http://localhost:<http_port>)")
	return cmd
}
