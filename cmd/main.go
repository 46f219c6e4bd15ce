package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"queso/internal/assistant"
	"queso/internal/caldav"
	"queso/internal/clock"
	"queso/internal/config"
	"queso/internal/export"
	"queso/internal/google"
	"queso/internal/ledger"
	"queso/internal/models"
	"queso/internal/state"
	"queso/internal/store"
	"queso/internal/syncer"
)

func main() {
	cfg := config.Load()
	logger := setupLogger(cfg.Logging.Level)

	app := &cli.App{
		Name:  "queso",
		Usage: "Timezone-correct scheduling with idempotent Google Calendar sync.",
		Commands: []*cli.Command{
			connectCommand(cfg, logger),
			disconnectCommand(cfg, logger),
			timezoneCommand(cfg, logger),
			taskCommand(cfg, logger),
			noteCommand(cfg, logger),
			eventCommand(cfg, logger),
			toolCommand(cfg, logger),
			promptCommand(cfg, logger),
			agendaCommand(cfg, logger),
			syncCommand(cfg, logger),
			exportCommand(cfg, logger),
			mirrorCommand(cfg, logger),
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

// deps bundles the pieces every command starts from.
type deps struct {
	states   *state.FileStore
	rows     *store.Repository
	resolver *clock.Resolver
}

func buildDeps(cfg *config.Config, logger *slog.Logger) *deps {
	states := state.NewFileStore(cfg.StateDir)
	if cfg.Timezone != "" {
		if _, ok, _ := states.Get(state.KeyTimezone); !ok {
			if err := states.Set(state.KeyTimezone, cfg.Timezone); err != nil {
				logger.Warn("Could not seed timezone preference.", "error", err)
			}
		}
	}
	return &deps{
		states:   states,
		rows:     store.NewRepository(cfg.StateDir),
		resolver: clock.NewResolver(states, logger),
	}
}

func connectCommand(cfg *config.Config, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "connect",
		Usage: "Authorize access to Google Calendar.",
		Action: func(c *cli.Context) error {
			d := buildDeps(cfg, logger)
			oauthCfg, err := google.OAuthConfig(cfg.Google.ClientID, cfg.Google.ClientSecret)
			if err != nil {
				return err
			}
			tokens := google.NewTokenManager(oauthCfg, d.states, logger)

			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code:\n%v\n", tokens.AuthCodeURL())
			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')

			if _, err := tokens.Exchange(c.Context, strings.TrimSpace(authCode)); err != nil {
				if errors.Is(err, google.ErrConsentBlocked) {
					return fmt.Errorf("consent flow did not complete; check that the consent screen was not blocked: %w", err)
				}
				return err
			}
			logger.Info("Google Calendar connected.")
			return nil
		},
	}
}

func disconnectCommand(cfg *config.Config, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "disconnect",
		Usage: "Forget the Google Calendar credentials and sync mapping.",
		Action: func(c *cli.Context) error {
			d := buildDeps(cfg, logger)
			oauthCfg, err := google.OAuthConfig(cfg.Google.ClientID, cfg.Google.ClientSecret)
			if err != nil {
				return err
			}
			if err := google.NewTokenManager(oauthCfg, d.states, logger).Disconnect(); err != nil {
				return err
			}
			logger.Info("Google Calendar disconnected.")
			return nil
		},
	}
}

func timezoneCommand(cfg *config.Config, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "timezone",
		Usage:     "Show or set the timezone preference.",
		ArgsUsage: "[IANA zone name]",
		Action: func(c *cli.Context) error {
			d := buildDeps(cfg, logger)
			if name := c.Args().First(); name != "" {
				if _, err := time.LoadLocation(name); err != nil {
					return fmt.Errorf("invalid timezone %q: %w", name, err)
				}
				if err := d.states.Set(state.KeyTimezone, name); err != nil {
					return err
				}
				logger.Info("Timezone preference updated.", "timezone", name)
				return nil
			}
			fmt.Println(d.resolver.Resolve())
			return nil
		},
	}
}

func taskCommand(cfg *config.Config, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "task",
		Usage: "Manage tasks.",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Add a task due at a local wall-clock time.",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Required: true},
					&cli.StringFlag{Name: "date", Usage: "Due date, YYYY-MM-DD. Defaults to now."},
					&cli.StringFlag{Name: "time", Usage: "Due time, HH:MM. Defaults to now."},
					&cli.StringFlag{Name: "priority", Value: "medium"},
					&cli.StringFlag{Name: "recurring", Usage: "RRULE content, e.g. FREQ=WEEKLY."},
				},
				Action: func(c *cli.Context) error {
					d := buildDeps(cfg, logger)
					if rule := c.String("recurring"); rule != "" {
						if err := ledger.ValidateRule(rule); err != nil {
							return err
						}
					}
					loc := d.resolver.Resolve()
					due := clock.ToAbsolute(parseWallClock(c.String("date"), c.String("time")), loc)

					task, err := d.rows.AddTask(models.Task{
						Title:         c.String("title"),
						DueAt:         due,
						Priority:      c.String("priority"),
						RecurringRule: c.String("recurring"),
					})
					if err != nil {
						return err
					}
					logger.Info("Task saved.", "id", task.ID, "due", clock.ToOffsetString(due, loc))
					pushOneIfConnected(c.Context, cfg, logger, d,
						google.LocalKey(models.KindTask, task.ID), task.Title, due)
					return nil
				},
			},
			{
				Name:      "done",
				Usage:     "Mark a task done.",
				ArgsUsage: "<task id>",
				Action: func(c *cli.Context) error {
					d := buildDeps(cfg, logger)
					id := c.Args().First()
					if id == "" {
						return fmt.Errorf("task id required")
					}
					return d.rows.SetTaskStatus(id, models.TaskStatusDone)
				},
			},
		},
	}
}

func noteCommand(cfg *config.Config, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "note",
		Usage: "Manage notes.",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Add a note scheduled at a local wall-clock time.",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Required: true},
					&cli.StringFlag{Name: "content"},
					&cli.StringFlag{Name: "date", Usage: "YYYY-MM-DD. Defaults to now."},
					&cli.StringFlag{Name: "time", Usage: "HH:MM. Defaults to now."},
				},
				Action: func(c *cli.Context) error {
					d := buildDeps(cfg, logger)
					loc := d.resolver.Resolve()
					at := clock.ToAbsolute(parseWallClock(c.String("date"), c.String("time")), loc)

					note, err := d.rows.AddNote(models.Note{
						Title:       c.String("title"),
						Content:     c.String("content"),
						ScheduledAt: at,
					})
					if err != nil {
						return err
					}
					logger.Info("Note saved.", "id", note.ID, "at", clock.ToOffsetString(at, loc))
					pushOneIfConnected(c.Context, cfg, logger, d,
						google.LocalKey(models.KindNote, note.ID), "Note: "+note.Title, at)
					return nil
				},
			},
		},
	}
}

func eventCommand(cfg *config.Config, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "event",
		Usage: "Manage calendar events.",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Add an event at a local wall-clock time.",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Required: true},
					&cli.StringFlag{Name: "date", Usage: "YYYY-MM-DD. Defaults to now."},
					&cli.StringFlag{Name: "time", Usage: "HH:MM. Defaults to now."},
					&cli.IntFlag{Name: "minutes", Value: 60, Usage: "Duration in minutes."},
					&cli.StringFlag{Name: "location"},
				},
				Action: func(c *cli.Context) error {
					d := buildDeps(cfg, logger)
					loc := d.resolver.Resolve()
					start := clock.ToAbsolute(parseWallClock(c.String("date"), c.String("time")), loc)
					end := start.Add(time.Duration(c.Int("minutes")) * time.Minute)

					event, err := d.rows.AddEvent(models.Event{
						Title:    c.String("title"),
						StartAt:  start,
						EndAt:    end,
						Location: c.String("location"),
					})
					if err != nil {
						return err
					}
					logger.Info("Event saved.", "id", event.ID, "start", clock.ToOffsetString(start, loc))
					pushOneIfConnected(c.Context, cfg, logger, d,
						google.LocalKey(models.KindEvent, event.ID), event.Title, start)
					return nil
				},
			},
		},
	}
}

func toolCommand(cfg *config.Config, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "tool",
		Usage:     "Apply an assistant tool call (arguments as JSON on stdin).",
		ArgsUsage: "<create_task|create_note|create_event>",
		Action: func(c *cli.Context) error {
			d := buildDeps(cfg, logger)
			raw, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("failed to read tool arguments: %w", err)
			}

			switch name := c.Args().First(); name {
			case assistant.ToolCreateTask:
				task, err := assistant.ParseCreateTask(raw)
				if err != nil {
					return err
				}
				if task, err = d.rows.AddTask(task); err != nil {
					return err
				}
				logger.Info("Task saved.", "id", task.ID)
				pushOneIfConnected(c.Context, cfg, logger, d,
					google.LocalKey(models.KindTask, task.ID), task.Title, task.DueAt)
			case assistant.ToolCreateNote:
				note, err := assistant.ParseCreateNote(raw)
				if err != nil {
					return err
				}
				if note, err = d.rows.AddNote(note); err != nil {
					return err
				}
				logger.Info("Note saved.", "id", note.ID)
				pushOneIfConnected(c.Context, cfg, logger, d,
					google.LocalKey(models.KindNote, note.ID), "Note: "+note.Title, note.ScheduledAt)
			case assistant.ToolCreateEvent:
				event, err := assistant.ParseCreateEvent(raw)
				if err != nil {
					return err
				}
				if event, err = d.rows.AddEvent(event); err != nil {
					return err
				}
				logger.Info("Event saved.", "id", event.ID)
				pushOneIfConnected(c.Context, cfg, logger, d,
					google.LocalKey(models.KindEvent, event.ID), event.Title, event.StartAt)
			default:
				return fmt.Errorf("unknown tool %q", name)
			}
			return nil
		},
	}
}

func promptCommand(cfg *config.Config, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "prompt",
		Usage: "Print the system instruction handed to the assistant model.",
		Action: func(c *cli.Context) error {
			d := buildDeps(cfg, logger)
			fmt.Print(assistant.SystemInstruction(time.Now(), d.resolver.Resolve()))
			return nil
		},
	}
}

func agendaCommand(cfg *config.Config, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "agenda",
		Usage: "Show the merged timeline for a day.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "date", Usage: "YYYY-MM-DD. Defaults to today."},
		},
		Action: func(c *cli.Context) error {
			d := buildDeps(cfg, logger)
			loc := d.resolver.Resolve()
			day := time.Now()
			if w := parseWallClock(c.String("date"), ""); !w.IsZero() {
				day = clock.ToAbsolute(w, loc)
			}

			s := syncer.NewSyncer(logger, d.rows, d.resolver, nil, false)
			items, err := s.Agenda(day)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Println("Nothing scheduled.")
				return nil
			}
			for _, item := range items {
				marker := " "
				if item.Synced {
					marker = "*"
				}
				fmt.Printf("%s %-8s %-7s %s\n",
					marker, clock.Format(item.When, loc, clock.StyleTime), item.Kind, item.Title)
			}
			return nil
		},
	}
}

func syncCommand(cfg *config.Config, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Push all local items to the dedicated Google calendar.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be synced without making changes."},
			&cli.IntFlag{Name: "watch", Usage: "Run sync every N seconds."},
		},
		Action: func(c *cli.Context) error {
			d := buildDeps(cfg, logger)
			gateway, err := buildGateway(c.Context, cfg, logger, d)
			if err != nil {
				return err
			}
			s := syncer.NewSyncer(logger, d.rows, d.resolver, gateway, c.Bool("dry-run"))

			runOnce := func(ctx context.Context) error {
				report, err := s.Sync(ctx)
				if err != nil {
					return err
				}
				logger.Info("Sync finished.", "synced", report.SyncedCount, "calendarID", report.CalendarID)
				return nil
			}

			if c.IsSet("watch") {
				interval := time.Duration(c.Int("watch")) * time.Second
				logger.Info("Starting watcher.", "interval", interval)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for ; true; <-ticker.C {
					if err := runOnce(c.Context); err != nil {
						logger.Error("Sync cycle failed", "error", err)
					}
				}
			}
			return runOnce(c.Context)
		},
	}
}

func exportCommand(cfg *config.Config, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write the merged timeline as an iCalendar file.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Value: "queso.ics"},
			&cli.StringFlag{Name: "date", Usage: "YYYY-MM-DD. Defaults to today."},
		},
		Action: func(c *cli.Context) error {
			d := buildDeps(cfg, logger)
			loc := d.resolver.Resolve()
			day := time.Now()
			if w := parseWallClock(c.String("date"), ""); !w.IsZero() {
				day = clock.ToAbsolute(w, loc)
			}

			s := syncer.NewSyncer(logger, d.rows, d.resolver, nil, false)
			items, err := s.Agenda(day)
			if err != nil {
				return err
			}

			f, err := os.Create(c.String("out"))
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer f.Close()
			if err := export.WriteICS(f, items); err != nil {
				return err
			}
			logger.Info("Exported timeline.", "file", c.String("out"), "items", len(items))
			return nil
		},
	}
}

func mirrorCommand(cfg *config.Config, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "mirror",
		Usage: "Mirror the merged timeline to a CalDAV calendar.",
		Action: func(c *cli.Context) error {
			if cfg.CalDAV.Username == "" || cfg.CalDAV.Password == "" {
				return fmt.Errorf("CALDAV_USERNAME and CALDAV_PASSWORD must be set")
			}
			d := buildDeps(cfg, logger)

			m, err := caldav.NewMirror(c.Context, logger, cfg.CalDAV.Endpoint,
				cfg.CalDAV.Username, cfg.CalDAV.Password, cfg.CalDAV.CalendarName)
			if err != nil {
				return err
			}

			s := syncer.NewSyncer(logger, d.rows, d.resolver, nil, false)
			items, err := s.Agenda(time.Now())
			if err != nil {
				return err
			}
			pushed, err := m.Push(c.Context, items)
			if err != nil {
				return err
			}
			logger.Info("Mirror finished.", "pushed", pushed)
			return nil
		},
	}
}

func buildGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger, d *deps) (*google.Gateway, error) {
	oauthCfg, err := google.OAuthConfig(cfg.Google.ClientID, cfg.Google.ClientSecret)
	if err != nil {
		return nil, err
	}
	tokens := google.NewTokenManager(oauthCfg, d.states, logger)
	return google.Connect(ctx, tokens, d.states, logger, d.resolver.Resolve(), cfg.CalendarName)
}

// pushOneIfConnected mirrors a freshly saved item to the calendar when a
// connection exists. The local save already succeeded; a sync failure
// here is reported as a secondary notice, never as a command failure.
func pushOneIfConnected(ctx context.Context, cfg *config.Config, logger *slog.Logger, d *deps, localKey, title string, at time.Time) {
	if connected, ok, _ := d.states.Get(state.KeyCalendarConnected); !ok || connected != "true" {
		return
	}
	gateway, err := buildGateway(ctx, cfg, logger, d)
	if err != nil {
		logger.Warn("Saved, but calendar sync failed.", "error", err)
		return
	}
	if _, err := gateway.Upsert(ctx, localKey, models.EventBody{
		Summary: title,
		Start:   at,
		End:     at.Add(30 * time.Minute),
	}); err != nil {
		logger.Warn("Saved, but calendar sync failed.", "key", localKey, "error", err)
	}
}

// parseWallClock reads the separate date and time form fields. Malformed
// or empty input yields the zero wall clock, which encodes as "now".
func parseWallClock(dateStr, timeStr string) clock.WallClock {
	var w clock.WallClock
	if dateStr == "" {
		return clock.WallClock{}
	}
	if _, err := fmt.Sscanf(dateStr, "%d-%d-%d", &w.Year, &w.Month, &w.Day); err != nil {
		return clock.WallClock{}
	}
	if timeStr != "" {
		if _, err := fmt.Sscanf(timeStr, "%d:%d", &w.Hour, &w.Minute); err != nil {
			return clock.WallClock{}
		}
	}
	return w
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
