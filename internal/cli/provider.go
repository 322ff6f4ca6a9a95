package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/docmerge/internal/config"
	"github.com/roach88/docmerge/internal/crm"
)

// ProviderResult is the output of the provider commands.
type ProviderResult struct {
	ModelID  string `json:"modelId"`
	URL      string `json:"url,omitempty"`
	Host     string `json:"host,omitempty"`
	Database string `json:"database,omitempty"`
}

// NewProviderCommand creates the provider command group.
func NewProviderCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Manage CRM provider models that point at MongoDB",
		Long: `Create and resolve provider models on the CRM API. A provider model names
the MongoDB deployment an application's data lives in; "docmerge merge
--provider-model" runs against it.

Credentials come from DOCMERGE_CRM_USER and DOCMERGE_CRM_PASSWORD, or
DOCMERGE_CRM_APIKEY.`,
	}

	cmd.AddCommand(newProviderURLCommand(rootOpts))
	cmd.AddCommand(newProviderCreateCommand(rootOpts))
	return cmd
}

func newProviderURLCommand(rootOpts *RootOptions) *cobra.Command {
	var options map[string]string

	cmd := &cobra.Command{
		Use:           "url <model-id>",
		Short:         "Resolve the MongoDB URL of a provider model",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			ctx, cancel := signalContext(cmd)
			defer cancel()

			ds, err := rootOpts.resolveProvider(ctx, cmd, args[0], options)
			if err != nil {
				return formatter.Fail(ExitFailure, "failed to resolve provider model", err)
			}
			result := ProviderResult{ModelID: ds.ModelID, URL: ds.URL, Host: ds.Host, Database: ds.Database}
			if rootOpts.Format == "json" {
				return formatter.Success(result)
			}
			fmt.Fprintln(formatter.Writer, result.URL)
			return nil
		},
	}

	cmd.Flags().StringToStringVar(&options, "option", nil, "connection options appended to the url (key=value)")
	return cmd
}

func newProviderCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var user, app, host string

	cmd := &cobra.Command{
		Use:           "create",
		Short:         "Register a MongoDB provider model",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			ctx, cancel := signalContext(cmd)
			defer cancel()

			var id string
			err := rootOpts.withCRM(ctx, cmd, func(c *crm.Client) error {
				var err error
				id, err = c.CreateProviderModel(ctx, user, app, host)
				return err
			})
			if err != nil {
				return formatter.Fail(ExitFailure, "failed to create provider model", err)
			}
			if rootOpts.Format == "json" {
				return formatter.Success(ProviderResult{ModelID: id})
			}
			fmt.Fprintln(formatter.Writer, id)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "owner", "", "user id owning the model (required)")
	cmd.Flags().StringVar(&app, "app", "", "application name (required)")
	cmd.Flags().StringVar(&host, "db-host", "", "MongoDB host name (required)")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("app")
	_ = cmd.MarkFlagRequired("db-host")
	return cmd
}

// resolveProvider looks up the data source of a provider model.
func (o *RootOptions) resolveProvider(ctx context.Context, cmd *cobra.Command, modelID string, options map[string]string) (crm.DataSource, error) {
	var ds crm.DataSource
	err := o.withCRM(ctx, cmd, func(c *crm.Client) error {
		var err error
		ds, err = c.ProviderModelURL(ctx, modelID, options)
		return err
	})
	return ds, err
}

// withCRM logs in, runs fn and logs out.
func (o *RootOptions) withCRM(ctx context.Context, cmd *cobra.Command, fn func(*crm.Client) error) error {
	cfg, err := o.Config(cmd)
	if err != nil {
		return err
	}
	c, err := o.crmLogin(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Logout(ctx); err != nil {
			o.Logger(cmd).Warn("crm logout failed", "error", err)
		}
	}()
	return fn(c)
}

func (o *RootOptions) crmLogin(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (*crm.Client, error) {
	if cfg.CRM.URL == "" {
		return nil, fmt.Errorf("no CRM url configured (set --crm-url or DOCMERGE_CRM_URL)")
	}
	c := crm.New(crm.NewHTTPTransport(cfg.CRM.URL), crm.WithLogger(o.Logger(cmd)))
	switch {
	case cfg.CRM.APIKey != "":
		err := c.LoginWithAPIKey(ctx, cfg.CRM.APIKey)
		return c, err
	case cfg.CRM.User != "":
		err := c.Login(ctx, cfg.CRM.User, cfg.CRM.Password)
		return c, err
	default:
		return nil, fmt.Errorf("no CRM credentials configured")
	}
}
