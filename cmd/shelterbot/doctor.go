package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"shelterbot/internal/config"
	"shelterbot/internal/journal"
	"shelterbot/internal/reply"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the bot's setup",
		Long: `Verifies the configuration, static directory, adoption guide images,
delivery journal and upstream services. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfgPath := resolveConfigPath()
			fmt.Fprintf(out, "shelterbot doctor v%s\n\n", version)

			passed, failed, warned := 0, 0, 0
			pass := func(check, detail string) { printPass(out, check, detail); passed++ }
			fail := func(check, detail string) { printFail(out, check, detail); failed++ }
			warn := func(check, detail string) { printWarn(out, check, detail); warned++ }

			if _, err := os.Stat(cfgPath); err != nil {
				fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Fprintf(out, "\nRun 'shelterbot init' to create a default configuration.\n")
				return fmt.Errorf("config file missing")
			}
			pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				fail("Config validation", err.Error())
				return fmt.Errorf("%d check(s) failed", failed)
			}
			pass("Config validation", "valid")

			if err := checkWritableDir(cfg.Server.StaticDir); err != nil {
				fail("Static dir", err.Error())
			} else {
				pass("Static dir", cfg.Server.StaticDir)
			}

			if steps, err := reply.LoadGuide(cfg.Guide.File); err != nil {
				fail("Adoption guide", err.Error())
			} else if missing := missingGuideImages(cfg.Server.StaticDir, steps); len(missing) > 0 {
				warn("Adoption guide", fmt.Sprintf("%d step(s), images missing from static dir: %v", len(steps), missing))
			} else {
				pass("Adoption guide", fmt.Sprintf("%d step(s)", len(steps)))
			}

			if cfg.Journal.Enabled {
				if err := checkJournal(cfg.Journal.DBPath); err != nil {
					fail("Journal", err.Error())
				} else {
					pass("Journal", cfg.Journal.DBPath)
				}
			}

			for _, svc := range []struct{ name, raw string }{
				{"Answer service", cfg.Answer.URL},
				{"Classifier", cfg.Classifier.URL},
			} {
				if err := checkReachable(svc.raw); err != nil {
					warn(svc.name, fmt.Sprintf("%s unreachable: %v", svc.raw, err))
				} else {
					pass(svc.name, svc.raw)
				}
			}

			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				warn("Webhook port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
			} else {
				pass("Webhook port", fmt.Sprintf(":%d available", cfg.Server.Port))
			}

			fmt.Fprintf(out, "\nResults: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create: %w", err)
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func missingGuideImages(staticDir string, steps []reply.GuideStep) []string {
	var missing []string
	for _, s := range steps {
		if _, err := os.Stat(filepath.Join(staticDir, s.Image)); err != nil {
			missing = append(missing, s.Image)
		}
	}
	return missing
}

// checkJournal opens the journal the way serve does, migrations included,
// and reads from it.
func checkJournal(dbPath string) error {
	store, err := journal.Open(dbPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := store.Recent(ctx, 1); err != nil {
		return fmt.Errorf("cannot read: %w", err)
	}
	return nil
}

// checkReachable dials the host of raw without sending a request.
func checkReachable(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	conn, err := net.DialTimeout("tcp", host, 3*time.Second)
	if err != nil {
		return err
	}
	return conn.Close()
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	return ln.Close()
}

func printPass(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  [PASS] %-20s %s\n", check, detail)
}

func printFail(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  [WARN] %-20s %s\n", check, detail)
}
