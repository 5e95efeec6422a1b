package rack

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/function61/gokit/dynversion"
	"github.com/function61/gokit/fileexists"
	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/osutil"
	"github.com/function61/gokit/systemdinstaller"
	"github.com/function61/rack/pkg/rackconfig"
	"github.com/spf13/cobra"
)

// flags shared by every subcommand
type globalOpts struct {
	configPath string
	prefix     string
}

func Entrypoint() *cobra.Command {
	opts := &globalOpts{}

	cmd := &cobra.Command{
		Use:     "rack",
		Short:   "Snapshot based backups for ZFS",
		Version: dynversion.Version,
		// hide the default "completion" subcommand from polluting UX (it can still be used). https://github.com/spf13/cobra/issues/1507
		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "", "", "Config file (default ~/"+rackconfig.DefaultFilename+")")
	cmd.PersistentFlags().StringVarP(&opts.prefix, "prefix", "p", "", "Snapshot prefix (default from config, else "+rackconfig.DefaultPrefix+")")

	cmd.AddCommand(snapEntrypoint(opts))
	cmd.AddCommand(pruneEntrypoint(opts))
	cmd.AddCommand(cloneOneEntrypoint(opts))
	cmd.AddCommand(cloneEntrypoint(opts))
	cmd.AddCommand(listEntrypoint(opts))
	cmd.AddCommand(historyEntrypoint(opts))
	cmd.AddCommand(runInSnapshotEntrypoint(opts))
	cmd.AddCommand(backupEntrypoint(opts))
	cmd.AddCommand(syncEntrypoint(opts))
	cmd.AddCommand(daemonEntrypoint(opts))

	return cmd
}

func snapEntrypoint(opts *globalOpts) *cobra.Command {
	pretend := false

	cmd := &cobra.Command{
		Use:   "snap",
		Short: "Take a current snapshot of configured volumes",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(opts, func(ctx context.Context, app *App) error {
				return app.Snap(ctx, time.Now(), pretend)
			}))
		},
	}

	cmd.Flags().BoolVarP(&pretend, "pretend", "n", pretend, "Show what would be executed, but don't actually run")

	return cmd
}

func pruneEntrypoint(opts *globalOpts) *cobra.Command {
	really := false
	keep := rackconfig.DefaultKeep

	cmd := &cobra.Command{
		Use:   "prune [filesystem]",
		Short: "Prune older snapshots (dry run unless --really)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(opts, func(ctx context.Context, app *App) error {
				prefix, defaultKeep := app.pruneDefaults(args[0])

				if opts.prefix != "" {
					prefix = opts.prefix
				}
				if !cmd.Flags().Changed("keep") {
					keep = defaultKeep
				}

				return app.Prune(ctx, prefix, args[0], keep, really)
			}))
		},
	}

	cmd.Flags().BoolVarP(&really, "really", "", really, "Actually do the prune")
	cmd.Flags().IntVarP(&keep, "keep", "k", keep, "Most recent snapshots to always keep (default from config convention)")

	return cmd
}

func cloneOneEntrypoint(opts *globalOpts) *cobra.Command {
	pretend := false
	excludes := []string{}

	cmd := &cobra.Command{
		Use:   "cloneone [source] [dest]",
		Short: "Clone one volume tree to another",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(opts, func(ctx context.Context, app *App) error {
				return app.CloneOne(ctx, args[0], args[1], excludes, pretend)
			}))
		},
	}

	cmd.Flags().BoolVarP(&pretend, "pretend", "n", pretend, "Don't actually do the clone, but show what would be done")
	cmd.Flags().StringArrayVarP(&excludes, "exclude", "e", excludes, "Tree(s) to exclude (source based)")

	return cmd
}

func cloneEntrypoint(opts *globalOpts) *cobra.Command {
	pretend := false

	cmd := &cobra.Command{
		Use:   "clone",
		Short: "Clone/sync filesystems described in the config file",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(opts, func(ctx context.Context, app *App) error {
				return app.Clone(ctx, pretend)
			}))
		},
	}

	cmd.Flags().BoolVarP(&pretend, "pretend", "n", pretend, "Don't actually do the work, just show what would be done")

	return cmd
}

func listEntrypoint(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "list [subtree]",
		Short: "List filesystems and their snapshots",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(opts, func(ctx context.Context, app *App) error {
				subtree := ""
				if len(args) > 0 {
					subtree = args[0]
				}

				return app.List(ctx, app.prefix(opts), subtree)
			}))
		},
	}
}

func historyEntrypoint(opts *globalOpts) *cobra.Command {
	limit := 50

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show journal of mutations issued",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(opts, func(_ context.Context, app *App) error {
				return app.History(limit)
			}))
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "", limit, "How many entries to show (0 = all)")

	return cmd
}

func runInSnapshotEntrypoint(opts *globalOpts) *cobra.Command {
	fs := ""
	snap := ""
	bindDir := ""

	cmd := &cobra.Command{
		Use:   "run-in-snapshot -- [command] [args...]",
		Short: "Bind mount a snapshot at a fixed path and run a command there",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(opts, func(ctx context.Context, app *App) error {
				return app.RunInSnapshot(ctx, app.prefix(opts), fs, snap, bindDir, args)
			}))
		},
	}

	cmd.Flags().StringVarP(&fs, "fs", "", fs, "ZFS filesystem name")
	cmd.Flags().StringVarP(&snap, "snap", "", snap, "Snapshot (default: newest with prefix)")
	cmd.Flags().StringVarP(&bindDir, "bind", "", bindDir, "Empty directory to bind mount the snapshot at")
	_ = cmd.MarkFlagRequired("fs")
	_ = cmd.MarkFlagRequired("bind")

	return cmd
}

func backupEntrypoint(opts *globalOpts) *cobra.Command {
	fs := ""
	bindDir := ""
	listCmd := ""
	limit := 0
	pretend := false

	cmd := &cobra.Command{
		Use:   "backup -- [command] [args...]",
		Short: "Back up snapshots an external archive doesn't have yet, oldest first",
		Long: `Back up snapshots an external archive doesn't have yet, oldest first.

Each missing snapshot is bind mounted at --bind and the command runs there, with
{snap} replaced by the snapshot name and {time} by its timestamp, e.g.:

    rack backup --fs lint/home --bind /mnt/home --list "borg list --short /backup/home" -- \
        borg create --exclude-caches /backup/home::{snap} .`,
		Args: cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(opts, func(ctx context.Context, app *App) error {
				return app.Backup(ctx, app.prefix(opts), fs, bindDir, listCmd, args, limit, pretend)
			}))
		},
	}

	cmd.Flags().StringVarP(&fs, "fs", "", fs, "ZFS filesystem name")
	cmd.Flags().StringVarP(&bindDir, "bind", "", bindDir, "Empty directory to bind mount each snapshot at")
	cmd.Flags().StringVarP(&listCmd, "list", "", listCmd, "Shell command that prints the snapshot names already in the archive")
	cmd.Flags().IntVarP(&limit, "limit", "", limit, "Back up at most this many snapshots (0 = all)")
	cmd.Flags().BoolVarP(&pretend, "pretend", "n", pretend, "Only show which snapshots would be backed up")
	_ = cmd.MarkFlagRequired("fs")
	_ = cmd.MarkFlagRequired("bind")
	_ = cmd.MarkFlagRequired("list")

	return cmd
}

func syncEntrypoint(opts *globalOpts) *cobra.Command {
	fs := ""
	source := ""
	bindDir := ""
	lvmSize := ""
	pretend := false

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Rsync a non-ZFS directory tree (e.g. root on ext4) into a ZFS filesystem",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(opts, func(ctx context.Context, app *App) error {
				return app.Sync(ctx, fs, source, bindDir, lvmSize, pretend)
			}))
		},
	}

	cmd.Flags().StringVarP(&fs, "fs", "", fs, "ZFS filesystem to sync into")
	cmd.Flags().StringVarP(&source, "source", "", source, "Directory tree to copy")
	cmd.Flags().StringVarP(&bindDir, "bind", "", bindDir, "Empty directory to mount the source at")
	cmd.Flags().StringVarP(&lvmSize, "lvm-snapshot-size", "", lvmSize, "Copy from an LVM snapshot of this size (e.g. 5G) instead of the live tree")
	cmd.Flags().BoolVarP(&pretend, "pretend", "n", pretend, "Show what would be done")
	_ = cmd.MarkFlagRequired("fs")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("bind")

	return cmd
}

func daemonEntrypoint(opts *globalOpts) *cobra.Command {
	runNow := []string{}

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the configured schedule (SIGUSR1 logs job states)",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(opts, func(ctx context.Context, app *App) error {
				return app.Daemon(ctx, runNow)
			}))
		},
	}

	cmd.Flags().StringArrayVarP(&runNow, "run-now", "", runNow, "Job ID(s) to run right after start")

	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Installs systemd unit file to make the daemon start on system boot",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			daemonArgs := []string{"daemon"}
			if opts.configPath != "" {
				daemonArgs = append(daemonArgs, "--config="+opts.configPath)
			}

			serviceFile := systemdinstaller.SystemdServiceFile(
				"rack",
				"rack snapshot scheduler",
				systemdinstaller.Args(daemonArgs...),
				systemdinstaller.Docs("https://github.com/function61/rack"))

			osutil.ExitIfError(systemdinstaller.Install(serviceFile))

			fmt.Println(systemdinstaller.GetHints(serviceFile))
		},
	})

	return cmd
}

func (a *App) prefix(opts *globalOpts) string {
	if opts.prefix != "" {
		return opts.prefix
	}

	return a.conf.Prefix
}

// loads config, opens the app and runs fn with a context cancelled on SIGINT/SIGTERM
func withApp(opts *globalOpts, fn func(ctx context.Context, app *App) error) error {
	logger := logex.StandardLogger()

	conf, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	app, err := Open(conf, os.Stdout, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	return fn(osutil.CancelOnInterruptOrTerminate(logger), app)
}

// an explicitly given config must exist. the default one is optional, as
// prune, cloneone and list work without one.
func loadConfig(explicitPath string) (*rackconfig.Config, error) {
	if explicitPath != "" {
		return rackconfig.Load(explicitPath)
	}

	path, err := rackconfig.DefaultPath()
	if err != nil {
		return nil, err
	}

	exists, err := fileexists.Exists(path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return rackconfig.Parse([]byte("{}"))
	}

	return rackconfig.Load(path)
}
