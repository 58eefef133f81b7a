package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chinmina/console-sync/internal/cache"
	"github.com/chinmina/console-sync/internal/config"
	"github.com/chinmina/console-sync/internal/lifecycle"
	"github.com/chinmina/console-sync/internal/manager"
	"github.com/chinmina/console-sync/internal/observe"
	"github.com/chinmina/console-sync/internal/queries"
	"github.com/chinmina/console-sync/internal/query"
	"github.com/chinmina/console-sync/internal/remotedata"
	"github.com/chinmina/console-sync/internal/resolver"
	"github.com/chinmina/console-sync/internal/scheduler"
	"github.com/chinmina/console-sync/internal/state"
	"github.com/chinmina/console-sync/internal/transport"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// app holds everything a command run needs. It is assembled lazily so that
// --help never loads configuration.
type app struct {
	resolver  *resolver.Resolver
	scheduler *scheduler.Scheduler
	hooks     lifecycle.Hooks
	print     *printer
}

type options struct {
	output string
	env    string
	ticks  int
}

// newRootCommand builds the command tree. The returned finish func tears
// down whatever the command run set up and must be called once Execute
// returns, whether or not it failed.
func newRootCommand(out io.Writer, load func(context.Context) (config.Config, error)) (*cobra.Command, func() error) {
	opts := &options{}
	var a *app

	root := &cobra.Command{
		Use:           "console-sync",
		Short:         "Query and watch orchestrator state from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			p, err := newPrinter(out, opts.output)
			if err != nil {
				return err
			}

			cfg, err := load(cmd.Context())
			if err != nil {
				return fmt.Errorf("configuration load failed: %w", err)
			}

			a, err = bootstrap(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			a.print = p
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "yaml", "output format: json or yaml")
	root.PersistentFlags().StringVar(&opts.env, "env", "", "environment id for environment-scoped kinds")

	appRef := func() *app { return a }

	root.AddCommand(
		newGetCommand(appRef, opts),
		newWatchCommand(appRef, opts),
		newSummaryCommand(appRef, opts),
		newDeployCommand(appRef, opts),
		newDeleteEnvironmentCommand(appRef),
	)

	return root, func() error { return teardown(a) }
}

// teardown runs the app's hooks with a context that outlives the command's
// cancelled one.
func teardown(a *app) error {
	if a == nil {
		return nil
	}
	return a.hooks.Execute(context.Background())
}

func bootstrap(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{}

	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return nil, fmt.Errorf("telemetry bootstrap failed: %w", err)
	}
	a.hooks.AddContext("telemetry", shutdownTelemetry)

	client, err := transport.New(cfg.API, observe.HTTPTransport(configureHTTPTransport(cfg.API), cfg.Observe))
	if err != nil {
		return nil, errors.Join(fmt.Errorf("API client configuration failed: %w", err), teardown(a))
	}

	backend, err := cache.NewFromConfig[any](ctx, cfg.Cache)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("cache configuration failed: %w", err), teardown(a))
	}
	store := state.NewStore(backend)
	a.hooks.Add("store", store.Close)

	a.scheduler = scheduler.New(cfg.Scheduler.Interval)

	a.resolver, err = queries.New(manager.Deps{
		Fetcher:   client,
		Store:     store,
		Scheduler: a.scheduler,
	}, client)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("query configuration failed: %w", err), teardown(a))
	}

	return a, nil
}

// startPolling runs the scheduler until teardown.
func (a *app) startPolling(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.scheduler.Run(ctx)
	}()

	a.hooks.AddContext("scheduler", func(context.Context) error {
		cancel()
		<-done
		return nil
	})
}

// resourceFlags are the list parameters shared by every resources command.
type resourceFlags struct {
	limit   int
	filters []string
	sort    string
	page    string
}

func (f *resourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.limit, "limit", 20, "page size")
	cmd.Flags().StringArrayVar(&f.filters, "filter", nil, "filter as name=value; repeat to OR values")
	cmd.Flags().StringVar(&f.sort, "sort", "", "sort as <field>.<asc|desc>")
	cmd.Flags().StringVar(&f.page, "page", "", "paging link returned by a previous page")
}

func (f *resourceFlags) query() (queries.GetResources, error) {
	q := queries.GetResources{
		PageSize:    query.PageSize(f.limit),
		CurrentPage: query.PageCursor(f.page),
	}

	sort, err := query.ParseSort(f.sort)
	if err != nil {
		return q, err
	}
	q.Sort = sort

	if len(f.filters) > 0 {
		q.Filter = query.Filter{}
		for _, raw := range f.filters {
			name, value, found := strings.Cut(raw, "=")
			if !found || name == "" {
				return q, fmt.Errorf("invalid filter %q: expected name=value", raw)
			}
			q.Filter[name] = append(q.Filter[name], value)
		}
	}

	return q, nil
}

func requireEnv(opts *options) error {
	if opts.env == "" {
		return errors.New("--env is required for this kind")
	}
	return nil
}

// await blocks until the watched entry settles on Success or Failed.
func await[D any](ctx context.Context, watch func() (remotedata.RemoteData[D], <-chan struct{})) (remotedata.RemoteData[D], error) {
	for {
		entry, changed := watch()
		if !entry.IsNotAsked() && !entry.IsLoading() {
			return entry, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return entry, ctx.Err()
		}
	}
}

// follow prints the watched entry and then every write to it, until ctx
// ends or limit entries have been printed. A limit of zero means no limit.
func follow[D any](ctx context.Context, p *printer, limit int, watch func() (remotedata.RemoteData[D], <-chan struct{})) error {
	printed := 0
	for {
		entry, changed := watch()
		if err := printEntry(p, entry); err != nil {
			return err
		}
		printed++
		if limit > 0 && printed >= limit {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			log.Ctx(ctx).Debug().Msg("watch interrupted")
			return nil
		}
	}
}

func getOnce[Q query.Query, D any](cmd *cobra.Command, a *app, q Q, env string) error {
	ctx := cmd.Context()
	b, err := resolver.UseOneTime[Q, D](ctx, a.resolver, q, env)
	if err != nil {
		return err
	}
	a.hooks.AddClose(string(q.Kind()), b)

	entry, err := await(ctx, b.Watch)
	if err != nil {
		return err
	}
	return printEntry(a.print, entry)
}

func watchContinuous[Q query.Query, D any](cmd *cobra.Command, a *app, q Q, env string, ticks int) error {
	ctx := cmd.Context()
	a.startPolling(ctx)

	b, err := resolver.UseContinuous[Q, D](ctx, a.resolver, q, env)
	if err != nil {
		return err
	}
	a.hooks.AddClose(string(q.Kind()), b)

	return follow(ctx, a.print, ticks, b.Watch)
}

func newGetCommand(current func() *app, opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch a kind once and print it",
	}

	var details bool
	environments := &cobra.Command{
		Use:   "environments",
		Short: "List environments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getOnce[queries.GetEnvironments, []queries.Environment](cmd, current(), queries.GetEnvironments{Details: details}, "")
		},
	}
	environments.Flags().BoolVar(&details, "details", false, "include environment settings")

	var rf resourceFlags
	resources := &cobra.Command{
		Use:   "resources",
		Short: "List one page of resources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireEnv(opts); err != nil {
				return err
			}
			q, err := rf.query()
			if err != nil {
				return err
			}
			return getOnce[queries.GetResources, queries.ResourceList](cmd, current(), q, opts.env)
		},
	}
	rf.register(resources)

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show the server status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return getOnce[queries.GetServerStatus, queries.ServerStatus](cmd, current(), queries.GetServerStatus{}, "")
			},
		},
		environments,
		resources,
		&cobra.Command{
			Use:   "resource <id>",
			Short: "Show one resource",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := requireEnv(opts); err != nil {
					return err
				}
				return getOnce[queries.GetResourceDetails, queries.ResourceDetails](cmd, current(), queries.GetResourceDetails{ID: args[0]}, opts.env)
			},
		},
	)

	return cmd
}

func newWatchCommand(current func() *app, opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll a kind and print every update",
	}
	cmd.PersistentFlags().IntVar(&opts.ticks, "ticks", 0, "stop after this many updates (0 runs until interrupted)")

	var rf resourceFlags
	resources := &cobra.Command{
		Use:   "resources",
		Short: "Watch one page of resources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireEnv(opts); err != nil {
				return err
			}
			q, err := rf.query()
			if err != nil {
				return err
			}
			return watchContinuous[queries.GetResources, queries.ResourceList](cmd, current(), q, opts.env, opts.ticks)
		},
	}
	rf.register(resources)

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Watch the server status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return watchContinuous[queries.GetServerStatus, queries.ServerStatus](cmd, current(), queries.GetServerStatus{}, "", opts.ticks)
			},
		},
		resources,
		&cobra.Command{
			Use:   "resource <id>",
			Short: "Watch one resource",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := requireEnv(opts); err != nil {
					return err
				}
				return watchContinuous[queries.GetResourceDetails, queries.ResourceDetails](cmd, current(), queries.GetResourceDetails{ID: args[0]}, opts.env, opts.ticks)
			},
		},
	)

	return cmd
}

func newSummaryCommand(current func() *app, opts *options) *cobra.Command {
	var rf resourceFlags
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Watch the deploy summary of an environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireEnv(opts); err != nil {
				return err
			}
			q, err := rf.query()
			if err != nil {
				return err
			}

			a := current()
			ctx := cmd.Context()
			a.startPolling(ctx)

			// the summary has no fetch of its own: the resources poller fills it
			resources, err := resolver.UseContinuous[queries.GetResources, queries.ResourceList](ctx, a.resolver, q, opts.env)
			if err != nil {
				return err
			}
			a.hooks.AddClose(string(queries.KindResources), resources)

			summary, err := resolver.UseReadOnly[queries.GetResourceSummary, *queries.DeploySummary](ctx, a.resolver, queries.GetResourceSummary{Resources: q}, opts.env)
			if err != nil {
				return err
			}
			a.hooks.AddClose(string(queries.KindResourceSummary), summary)

			return follow(ctx, a.print, opts.ticks, summary.Watch)
		},
	}
	rf.register(cmd)
	cmd.Flags().IntVar(&opts.ticks, "ticks", 0, "stop after this many updates (0 runs until interrupted)")

	return cmd
}

func newDeployCommand(current func() *app, opts *options) *cobra.Command {
	var agents []string
	var full bool

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Ask agents to deploy the latest version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireEnv(opts); err != nil {
				return err
			}
			input := queries.DeployInput{Trigger: queries.IncrementalDeploy, Agents: agents}
			if full {
				input.Trigger = queries.FullDeploy
			}

			a := current()
			if _, err := resolver.Trigger[queries.Deploy, queries.DeployInput, struct{}](cmd.Context(), a.resolver, queries.Deploy{}, opts.env, input); err != nil {
				return fmt.Errorf("deploy failed: %w", err)
			}
			a.print.message("deploy requested (%s)", input.Trigger)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&agents, "agent", nil, "agent to deploy; repeat for several (default all)")
	cmd.Flags().BoolVar(&full, "full", false, "redeploy every resource, not only changed ones")

	return cmd
}

func newDeleteEnvironmentCommand(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-environment <id>",
		Short: "Delete an environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			c := queries.DeleteEnvironment{ID: args[0]}
			if _, err := resolver.Trigger[queries.DeleteEnvironment, struct{}, struct{}](cmd.Context(), a.resolver, c, "", struct{}{}); err != nil {
				return fmt.Errorf("delete failed: %w", err)
			}
			a.print.message("environment %s deleted", c.ID)
			return nil
		},
	}
}
