// Command villagectl drives the list cache from a terminal: sign in, read
// and change lists and tasks, manage villages, and watch for changes.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"village/auth"
	"village/cache"
	"village/gateway"
	"village/model"
)

var Version = "dev"

type app struct {
	v       *viper.Viper
	cfgPath string
	verbose bool
	now     func() time.Time

	cfg    config
	log    *slog.Logger
	sess   *auth.Session
	id     cache.Identity
	events func(context.Context) (<-chan gateway.Event, error)
	store  *cache.Store
}

func newApp() *app {
	return &app{v: newViper(), now: time.Now}
}

// connect loads config and builds the session, gateway client and store.
// A store already in place (tests) is left alone.
func (a *app) connect(cmd *cobra.Command) error {
	if a.store != nil {
		return nil
	}
	cfg, err := loadConfig(a.v, a.cfgPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := slog.LevelWarn
	switch {
	case a.verbose || strings.EqualFold(cfg.LogLevel, "debug"):
		level = slog.LevelDebug
	case strings.EqualFold(cfg.LogLevel, "info"):
		level = slog.LevelInfo
	}
	a.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	a.sess = auth.New(cfg.Server, a.log)
	c, ok, err := loadSession(cfg.SessionFile, cfg.Server, a.now())
	if err != nil {
		a.log.Warn("ignoring saved session", "path", cfg.SessionFile, "err", err)
	} else if ok {
		a.sess.Restore(c)
	}

	client := gateway.NewClient(cfg.Server, a.sess, gateway.WithLogger(a.log), gateway.WithTimeout(cfg.Timeout))
	a.id = a.sess
	a.events = client.Events
	a.store = cache.New(client, a.sess, a.log)
	return nil
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "villagectl",
		Short:         "villagectl - shared lists and routines for your village",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.connect(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgPath, "config", "", "config file (default "+configDir()+"/config.yaml)")
	flags.String("server", "", "server base URL")
	flags.String("session-file", "", "where the session token is kept")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	_ = a.v.BindPFlag("server", flags.Lookup("server"))
	_ = a.v.BindPFlag("session_file", flags.Lookup("session-file"))

	root.AddCommand(
		a.loginCmd(),
		a.logoutCmd(),
		a.listsCmd(),
		a.addListCmd(),
		a.addTaskCmd(),
		a.statusCmd(),
		a.rmListCmd(),
		a.rmTaskCmd(),
		a.groupsCmd(),
		a.addGroupCmd(),
		a.inviteCmd(),
		a.memberCmd(),
		a.shareCmd(),
		a.assignCmd(),
		a.watchCmd(),
		a.anonymizeCmd(),
	)
	return root
}

func main() {
	if err := newApp().rootCmd().Execute(); err != nil {
		if errors.Is(err, model.ErrUnauthorized) {
			fmt.Fprintln(os.Stderr, "not signed in (run villagectl login):", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
