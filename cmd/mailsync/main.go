// Command mailsync synchronizes provider mailboxes into a local store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/oauth2"

	"github.com/nhle/inbox-sync/internal/api"
	"github.com/nhle/inbox-sync/internal/logging"
	"github.com/nhle/inbox-sync/internal/model"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch command := os.Args[1]; command {
	case "run":
		err = runAccount(ctx, os.Args[2:])
	case "run-all":
		err = runAll(ctx, os.Args[2:])
	case "serve":
		err = serve(ctx, os.Args[2:])
	case "token":
		err = tokenCommand(os.Args[2:])
	case "password":
		err = passwordCommand(os.Args[2:])
	case "client":
		err = clientCommand(ctx, os.Args[2:])
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`mailsync

Usage:
  mailsync <command> [options]

Commands:
  run           Sync one account and print the result
  run-all       Sync every enabled account and print the results
  serve         Run the scheduler and the HTTP trigger API
  token set     Store an OAuth refresh token for an account
  password set  Store an IMAP password for an account
  client add    Add an address to an account's client index
  help          Show this help message

Examples:
  mailsync run --account agent-1
  mailsync run --account agent-1 --full
  mailsync serve --config ~/.config/mailsync/config.yaml
  mailsync token set --account agent-1 --refresh-token 1//0g...
  mailsync client add --account agent-1 --client c-42 --email ops@client.com

Use 'mailsync <command> --help' for more information about a command.
`)
}

func newFlagSet(name string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	configPath := fs.String("config", model.DefaultConfigPath(), "Path to YAML configuration file")
	return fs, configPath
}

func loadComponents(configPath string) (*components, error) {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return build(cfg, logging.New(cfg.Log))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runAccount(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("run")
	accountID := fs.String("account", "", "Account ID to sync (required)")
	full := fs.Bool("full", false, "Relist the initial window instead of resuming from the cursor")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *accountID == "" {
		return fmt.Errorf("--account is required")
	}

	c, err := loadComponents(*configPath)
	if err != nil {
		return err
	}
	defer c.close()

	res := c.engine.RunAccount(ctx, *accountID, !*full)
	if err := printJSON(res); err != nil {
		return err
	}
	if res.Failed {
		return fmt.Errorf("sync failed for %s", *accountID)
	}
	return nil
}

func runAll(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("run-all")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, err := loadComponents(*configPath)
	if err != nil {
		return err
	}
	defer c.close()

	return printJSON(c.engine.RunAll(ctx))
}

func serve(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("serve")
	addr := fs.String("addr", "", "Listen address (overrides config)")
	noSchedule := fs.Bool("no-schedule", false, "Serve triggers only, without the recurring sync")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, err := loadComponents(*configPath)
	if err != nil {
		return err
	}
	defer c.close()

	httpCfg := c.cfg.HTTP
	if *addr != "" {
		httpCfg.Addr = *addr
	}

	if !*noSchedule {
		c.poller.Start(ctx)
		defer c.poller.Stop()
	}

	return api.New(httpCfg, c.poller, c.store, c.log).Start(ctx)
}

func tokenCommand(args []string) error {
	if len(args) < 1 || args[0] != "set" {
		return fmt.Errorf("usage: mailsync token set --account ID --refresh-token TOKEN")
	}

	fs := pflag.NewFlagSet("token set", pflag.ExitOnError)
	accountID := fs.String("account", "", "Account ID (required)")
	refreshToken := fs.String("refresh-token", "", "OAuth refresh token (required)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *accountID == "" || *refreshToken == "" {
		return fmt.Errorf("--account and --refresh-token are required")
	}

	creds, err := openCredentials()
	if err != nil {
		return err
	}

	// An already expired access token forces a refresh on first use.
	tok := &oauth2.Token{RefreshToken: *refreshToken, Expiry: time.Unix(1, 0)}
	if err := creds.SaveToken(*accountID, tok); err != nil {
		return err
	}
	fmt.Printf("Stored refresh token for %s\n", *accountID)
	return nil
}

func passwordCommand(args []string) error {
	if len(args) < 1 || args[0] != "set" {
		return fmt.Errorf("usage: mailsync password set --account ID --password SECRET")
	}

	fs := pflag.NewFlagSet("password set", pflag.ExitOnError)
	accountID := fs.String("account", "", "Account ID (required)")
	password := fs.String("password", "", "IMAP password (required)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *accountID == "" || *password == "" {
		return fmt.Errorf("--account and --password are required")
	}

	creds, err := openCredentials()
	if err != nil {
		return err
	}
	if err := creds.SetPassword(*accountID, *password); err != nil {
		return err
	}
	fmt.Printf("Stored IMAP password for %s\n", *accountID)
	return nil
}

func clientCommand(ctx context.Context, args []string) error {
	if len(args) < 1 || args[0] != "add" {
		return fmt.Errorf("usage: mailsync client add --account ID --client CLIENT --email ADDRESS")
	}

	fs, configPath := newFlagSet("client add")
	accountID := fs.String("account", "", "Account ID (required)")
	clientID := fs.String("client", "", "Client ID (required)")
	address := fs.String("email", "", "Client address or domain (required)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *accountID == "" || *clientID == "" || *address == "" {
		return fmt.Errorf("--account, --client and --email are required")
	}

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	return st.UpsertClientAddress(ctx, model.ClientAddress{
		AccountID: *accountID,
		ClientID:  *clientID,
		Email:     *address,
	})
}
