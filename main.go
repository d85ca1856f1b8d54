package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"
)

var (
	configPath string
	schemaName string
	dumpFormat string
	queryFile  string
	queryCSV   bool
)

var rootCmd = &cobra.Command{
	Use:           "pgddl",
	Short:         "PostgreSQL table DDL reconstruction and SQL console",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the JSON API over HTTP",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var lambdaCmd = &cobra.Command{
	Use:   "lambda",
	Short: "Run the JSON API as an AWS Lambda function",
	Args:  cobra.NoArgs,
	RunE:  runLambda,
}

var databasesCmd = &cobra.Command{
	Use:   "databases",
	Short: "List databases on the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(_ *Config, c *Client) error {
			names, err := c.ListDatabases(cmd.Context())
			if err != nil {
				return err
			}
			for _, n := range names {
				marker := " "
				if n == c.Current() {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, n)
			}
			return nil
		})
	},
}

var createDatabaseCmd = &cobra.Command{
	Use:   "create-database <name>",
	Short: "Create a database unless it already exists",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(_ *Config, c *Client) error {
			return c.CreateDatabase(cmd.Context(), args[0])
		})
	},
}

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List base tables in a schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(cfg *Config, c *Client) error {
			tables, err := c.ListTables(cmd.Context(), resolveSchema(cfg))
			if err != nil {
				return err
			}
			for _, t := range tables {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		})
	},
}

var ddlCmd = &cobra.Command{
	Use:   "ddl <table>",
	Short: "Print the CREATE TABLE statement for a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(cfg *Config, c *Client) error {
			ddl, err := c.TableDDL(cmd.Context(), resolveSchema(cfg), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ddl)
			return nil
		})
	},
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print DDL, indexes and partitioning for every table in a schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !validDumpFormat(dumpFormat) {
			return fmt.Errorf("--format must be one of: %s", strings.Join(dumpFormats, ", "))
		}
		return withClient(cmd, func(cfg *Config, c *Client) error {
			report, err := c.SchemaReport(cmd.Context(), resolveSchema(cfg))
			if err != nil {
				return err
			}
			return writeDump(cmd.OutOrStdout(), report, dumpFormat)
		})
	},
}

var queryCmd = &cobra.Command{
	Use:   "query [sql]",
	Short: "Run a SQL statement, or every statement of a file with --file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runQueryCmd,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pgddl %s\n", versionString())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to TOML config file (DB_* environment variables override it)")

	for _, c := range []*cobra.Command{tablesCmd, ddlCmd, dumpCmd} {
		c.Flags().StringVar(&schemaName, "schema", "", "schema to inspect (defaults to default_schema)")
	}
	dumpCmd.Flags().StringVar(&dumpFormat, "format", "sql", "output format: sql, yaml or json")
	queryCmd.Flags().StringVar(&queryFile, "file", "", "run every statement of this SQL file")
	queryCmd.Flags().BoolVar(&queryCSV, "csv", false, "print the result as CSV")

	rootCmd.AddCommand(serveCmd, lambdaCmd, databasesCmd, createDatabaseCmd, tablesCmd, ddlCmd, dumpCmd, queryCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func withClient(cmd *cobra.Command, fn func(cfg *Config, c *Client) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	c, err := Connect(cmd.Context(), cfg.Database, cfg.Workers)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(cfg, c)
}

func resolveSchema(cfg *Config) string {
	if s := strings.TrimSpace(schemaName); s != "" {
		return s
	}
	return cfg.DefaultSchema
}

func validDumpFormat(f string) bool {
	for _, v := range dumpFormats {
		if f == v {
			return true
		}
	}
	return false
}

func runServe(cmd *cobra.Command, _ []string) error {
	return withClient(cmd, func(cfg *Config, c *Client) error {
		ctx := cmd.Context()
		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           newHandler(c, cfg),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errc := make(chan error, 1)
		go func() {
			log.Printf("listening on %s (database %q, workers=%d)", cfg.Server.Addr, c.Current(), cfg.Workers)
			errc <- srv.ListenAndServe()
		}()

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
		}

		log.Printf("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
}

func runLambda(cmd *cobra.Command, _ []string) error {
	return withClient(cmd, func(cfg *Config, c *Client) error {
		log.Printf("starting lambda handler (database %q)", c.Current())
		lambda.StartWithOptions(lambdaHandler(newHandler(c, cfg)), lambda.WithContext(cmd.Context()))
		return nil
	})
}

func runQueryCmd(cmd *cobra.Command, args []string) error {
	if queryFile == "" && len(args) == 0 {
		return ErrEmptyQuery
	}
	if queryFile != "" && len(args) > 0 {
		return fmt.Errorf("pass either a SQL argument or --file, not both")
	}

	return withClient(cmd, func(cfg *Config, c *Client) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if queryFile != "" {
			data, err := os.ReadFile(queryFile)
			if err != nil {
				return fmt.Errorf("read %s: %w", queryFile, err)
			}
			start := time.Now()
			n, err := c.ExecScript(ctx, queryFile, string(data))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "executed %d statements in %s\n", n, time.Since(start).Round(time.Millisecond))
			return nil
		}

		res, err := c.Query(ctx, args[0])
		if err != nil {
			return err
		}
		if queryCSV {
			return res.writeCSV(out)
		}
		return writeResultTable(out, res, cfg.Server.MaxCellLength)
	})
}
