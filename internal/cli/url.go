package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/docmerge/internal/connstr"
)

// URLResult is the output of the url command.
type URLResult struct {
	URL      string `json:"url"`
	Host     string `json:"host"`
	Database string `json:"database"`
}

// NewURLCommand creates the url command.
func NewURLCommand(rootOpts *RootOptions) *cobra.Command {
	p := connstr.Params{}
	var parse string

	cmd := &cobra.Command{
		Use:   "url",
		Short: "Build or inspect a MongoDB connection string",
		Long: `Build a mongodb:// connection string with escaped credentials, or with
--parse report the host and database of an existing one. Passwords are
only printed inside the URL.

Example:
  docmerge url --host db.internal --port 27017 --user app --password 's3cr@t' --db crm --auth-source admin
  docmerge url --parse 'mongodb://db.internal:27017/crm'`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runURL(rootOpts, p, parse, cmd)
		},
	}

	f := cmd.Flags()
	f.StringVar(&p.Host, "host", "", "database host")
	f.StringVar(&p.Port, "port", "", "database port")
	f.StringVar(&p.User, "user", "", "user name")
	f.StringVar(&p.Password, "password", "", "password")
	f.StringVar(&p.AuthSource, "auth-source", "", "authentication database")
	f.StringVar(&p.Database, "db", "", "database name")
	f.StringToStringVar(&p.Options, "option", nil, "extra connection options (key=value)")
	f.StringVar(&parse, "parse", "", "parse this connection string instead of building one")

	return cmd
}

func runURL(opts *RootOptions, p connstr.Params, parse string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	raw := parse
	if raw == "" {
		var err error
		if raw, err = connstr.MongoURL(p); err != nil {
			return formatter.Fail(ExitCommandError, "failed to build url", err)
		}
	}
	info, err := connstr.ParseProviderModelURL(raw)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to parse url", err)
	}

	result := URLResult{URL: raw, Host: info.Host, Database: info.Database}
	if opts.Format == "json" {
		return formatter.Success(result)
	}
	if parse != "" {
		fmt.Fprintf(formatter.Writer, "host: %s\ndatabase: %s\n", result.Host, result.Database)
		return nil
	}
	fmt.Fprintln(formatter.Writer, result.URL)
	return nil
}
