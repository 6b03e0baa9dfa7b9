// Command mailreach verifies addresses from the terminal, sharing the
// pipeline and verdict store with the API server.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"mailreach/internal/app"
	"mailreach/internal/config"
	"mailreach/internal/logging"
	"mailreach/internal/models"
	"mailreach/internal/store"
	"mailreach/internal/validator"
)

const batchChunk = 100

func main() {
	root := &cli.App{
		Name:  "mailreach",
		Usage: "email deliverability verification from the command line",
		Commands: []*cli.Command{
			verifyCommand(),
			batchCommand(),
			statsCommand(),
			migrateCommand(),
		},
	}
	if err := root.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// open builds the full pipeline with a quiet logger so command output stays
// readable. Configuration comes from the environment, same as the server.
func open(ctx context.Context) (*app.App, *config.Config, error) {
	cfg := config.FromEnv()
	log := logging.New("warn", cfg.LogJSON)

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	a, err := app.New(startCtx, cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("startup failed: %w", err)
	}
	return a, cfg, nil
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "verify a single address",
		ArgsUsage: "EMAIL",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "first", Usage: "first name hint for pattern scoring"},
			&cli.StringFlag{Name: "last", Usage: "last name hint for pattern scoring"},
			&cli.StringFlag{Name: "company", Usage: "company hint for enrichment"},
			&cli.BoolFlag{Name: "json", Usage: "print the raw verdict as JSON"},
		},
		Action: func(c *cli.Context) error {
			email := c.Args().First()
			if email == "" {
				return cli.Exit("usage: mailreach verify EMAIL", 2)
			}

			a, _, err := open(c.Context)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			defer a.Close()

			hint := models.PersonHint{
				First:   c.String("first"),
				Last:    c.String("last"),
				Company: c.String("company"),
			}
			v, err := a.Verifier.Verify(c.Context, email, hint)
			if err != nil {
				return cli.Exit(fmt.Sprintf("invalid address: %v", err), 2)
			}

			if c.Bool("json") {
				return printJSON(v)
			}
			printVerdict(v)
			return nil
		},
	}
}

func batchCommand() *cli.Command {
	return &cli.Command{
		Name:      "batch",
		Usage:     "verify addresses from a file (one per line, or CSV column 0)",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print a JSON array instead of CSV"},
		},
		Action: func(c *cli.Context) error {
			path := c.Args().First()
			if path == "" {
				return cli.Exit("usage: mailreach batch FILE", 2)
			}
			emails, err := readAddressFile(path)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			if len(emails) == 0 {
				return cli.Exit("no addresses found in "+path, 1)
			}

			a, _, err := open(c.Context)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			defer a.Close()

			if c.Bool("json") {
				var all []*models.Verdict
				for _, chunk := range chunks(emails, batchChunk) {
					all = append(all, a.Verifier.VerifyBatch(c.Context, requests(chunk))...)
				}
				return printJSON(all)
			}

			// Stream CSV chunk by chunk so long runs show progress.
			w := csv.NewWriter(os.Stdout)
			_ = w.Write([]string{"email", "reachability", "status", "tier", "reason"})
			for _, chunk := range chunks(emails, batchChunk) {
				for _, v := range a.Verifier.VerifyBatch(c.Context, requests(chunk)) {
					_ = w.Write([]string{v.Email, string(v.Reachability), string(v.Status), string(v.Tier), v.Error})
				}
				w.Flush()
			}
			return w.Error()
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "print verdict store totals",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print stats as JSON"},
		},
		Action: func(c *cli.Context) error {
			cfg := config.FromEnv()
			log := logging.New("warn", cfg.LogJSON)
			backend, err := app.OpenStore(c.Context, cfg, log)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			defer backend.Close()

			stats, err := backend.Stats(c.Context)
			if err != nil {
				return cli.Exit("stats query failed: "+err.Error(), 1)
			}
			if c.Bool("json") {
				return printJSON(stats)
			}

			fmt.Printf("total       %d\n", stats.Total)
			for _, r := range []models.Reachability{
				models.ReachabilitySafe, models.ReachabilityRisky,
				models.ReachabilityInvalid, models.ReachabilityUnknown,
			} {
				fmt.Printf("  %-9s %d\n", r, stats.ByReachability[r])
			}
			fmt.Printf("catch-all   %d\n", stats.CatchAll)
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "copy all verdicts between stores (sqlite:PATH or postgres://...)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "from", Usage: "source store", Required: true},
			&cli.StringFlag{Name: "to", Usage: "destination store", Required: true},
		},
		Action: func(c *cli.Context) error {
			src, err := openByScheme(c.Context, c.String("from"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			defer src.Close()
			dst, err := openByScheme(c.Context, c.String("to"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			defer dst.Close()

			n, err := store.Migrate(c.Context, src, dst, func(copied int) {
				fmt.Printf("  %d copied...\n", copied)
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("migration stopped after %d rows: %v", n, err), 1)
			}
			fmt.Printf("done, %d verdicts copied\n", n)
			return nil
		},
	}
}

func openByScheme(ctx context.Context, dsn string) (store.Store, error) {
	switch {
	case strings.HasPrefix(dsn, "sqlite:"):
		return store.NewSQLite(ctx, strings.TrimPrefix(dsn, "sqlite:"))
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return store.NewPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unrecognized store %q (want sqlite:PATH or postgres://...)", dsn)
	}
}

// readAddressFile accepts both plain address-per-line files and CSVs; for
// CSVs only column 0 is read and a header row is skipped.
func readAddressFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var emails []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if len(record) == 0 {
			continue
		}
		if v := strings.TrimSpace(record[0]); v != "" {
			emails = append(emails, v)
		}
	}
	if len(emails) > 0 && !strings.Contains(emails[0], "@") {
		emails = emails[1:]
	}
	return emails, nil
}

func requests(emails []string) []validator.Request {
	reqs := make([]validator.Request, len(emails))
	for i, e := range emails {
		reqs[i] = validator.Request{Email: e}
	}
	return reqs
}

func chunks(emails []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(emails); start += size {
		out = append(out, emails[start:min(start+size, len(emails))])
	}
	return out
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printVerdict(v *models.Verdict) {
	fmt.Println(v.Email)
	fmt.Printf("  reachability  %s\n", v.Reachability)
	fmt.Printf("  status        %s\n", v.Status)
	fmt.Printf("  tier          %s\n", v.Tier)
	if v.Provider != "" {
		fmt.Printf("  provider      %s\n", v.Provider)
	}
	if v.MXHost != "" {
		fmt.Printf("  mx            %s\n", v.MXHost)
	}
	if v.SmtpCode != 0 {
		msg := v.SmtpMessage
		if len(msg) > 60 {
			msg = msg[:60] + "..."
		}
		fmt.Printf("  smtp          %d %s\n", v.SmtpCode, msg)
	}
	var flags []string
	for _, f := range []struct {
		on   bool
		name string
	}{
		{v.CatchAll, "catch-all"},
		{v.Disposable, "disposable"},
		{v.Role, "role"},
		{v.Free, "free"},
	} {
		if f.on {
			flags = append(flags, f.name)
		}
	}
	if len(flags) > 0 {
		fmt.Printf("  flags         %s\n", strings.Join(flags, ", "))
	}
	if v.Error != "" {
		fmt.Printf("  reason        %s\n", v.Error)
	}
}
