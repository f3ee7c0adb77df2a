package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/config"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/engine"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/findings"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/logging"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/metrics"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/policy"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/providers/aws/common"
	awssecurity "github.com/pankaj-dahiya-devops/cspm-auditor/internal/providers/aws/security"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/simulation"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/store"
)

// runtime holds the process-level factories the commands build on.
type runtime struct {
	aws       common.AWSClientProvider
	openStore func(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.Repository, store.TaskQueue, error)
	newS3     func(cfg *common.ProfileConfig, region string) simulation.S3API
	getenv    func(string) string
	logOutput io.Writer
}

func defaultRuntime() *runtime {
	provider := common.NewDefaultAWSClientProvider()
	return &runtime{
		aws:       provider,
		openStore: openStore,
		newS3: func(cfg *common.ProfileConfig, region string) simulation.S3API {
			return s3.NewFromConfig(provider.ConfigForRegion(cfg, region))
		},
		getenv:    os.Getenv,
		logOutput: os.Stderr,
	}
}

// openStore connects the configured findings store and task queue.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.Repository, store.TaskQueue, error) {
	if cfg.Backend == config.StoreBackendMemory {
		repo := store.NewMemoryRepository()
		if err := repo.Connect(ctx); err != nil {
			return nil, nil, err
		}
		return repo, store.NewMemoryTaskQueue(), nil
	}

	repo := store.NewMongoRepository(store.MongoOptions{
		URI:             cfg.URI,
		Database:        cfg.Database,
		Collection:      cfg.Collection,
		ConnectAttempts: cfg.ConnectAttempts,
		OpTimeout:       cfg.OpTimeout,
	}, logger)
	if err := repo.Connect(ctx); err != nil {
		return nil, nil, err
	}
	tasks := store.NewMongoTaskQueue(repo, cfg.TasksCollection)
	if err := tasks.EnsureIndexes(ctx); err != nil {
		logger.Warn("ensure task indexes failed", "error", err)
	}
	return repo, tasks, nil
}

// app is the wired dependency graph for one command invocation. Parts are
// built on demand so commands that only read the store never touch AWS.
type app struct {
	rt     *runtime
	opts   *rootOptions
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer

	repo  store.Repository
	tasks store.TaskQueue

	profile   *common.ProfileConfig
	collector *awssecurity.DefaultConfigCollector
	auditor   *engine.Auditor
	publisher metrics.Publisher
}

// newApp loads configuration and applies flag overrides.
func newApp(cmd *cobra.Command, rt *runtime, opts *rootOptions) (*app, error) {
	loader := config.FileLoader{Path: opts.configPath, DotEnvPath: opts.envFile, Getenv: rt.getenv}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.profile != "" {
		cfg.AWS.DefaultProfile = opts.profile
	}
	logger := logging.New(rt.logOutput, cfg.Log.Level, cfg.Log.Format)
	return &app{
		rt:        rt,
		opts:      opts,
		cfg:       cfg,
		logger:    logger,
		out:       cmd.OutOrStdout(),
		publisher: metrics.NopPublisher{},
	}, nil
}

func (a *app) jsonOutput() bool { return a.opts.output == formatJSON }

// region returns the --region flag, falling back to the configured default.
func (a *app) region() string {
	if a.opts.region != "" {
		return a.opts.region
	}
	return a.cfg.AWS.DefaultRegion
}

// openStore connects the findings store once.
func (a *app) openStore(ctx context.Context) error {
	if a.repo != nil {
		return nil
	}
	repo, tasks, err := a.rt.openStore(ctx, a.cfg.Store, a.logger)
	if err != nil {
		return fmt.Errorf("open findings store: %w", err)
	}
	a.repo, a.tasks = repo, tasks
	return nil
}

// close releases the store connection.
func (a *app) close(ctx context.Context) {
	if a.repo == nil {
		return
	}
	if err := a.repo.Close(ctx); err != nil {
		a.logger.Warn("close findings store failed", "error", err)
	}
}

// loadAWS resolves the AWS profile and builds the collector, metrics
// publisher and auditor. It opens the store first.
func (a *app) loadAWS(ctx context.Context) error {
	if a.auditor != nil {
		return nil
	}
	if err := a.openStore(ctx); err != nil {
		return err
	}
	profile, err := a.rt.aws.LoadProfile(ctx, a.cfg.AWS.DefaultProfile, a.region())
	if err != nil {
		return err
	}
	a.profile = profile

	a.collector = awssecurity.NewDefaultConfigCollector(profile.Config, a.logger)
	a.collector.SetCallTimeout(a.cfg.AWS.CallTimeout)

	if a.cfg.Metrics.Enabled {
		a.publisher = metrics.NewCloudWatchPublisher(profile.Clients.CloudWatch, a.cfg.Metrics.Namespace, a.logger)
	}

	accounts := common.NewAccountResolver(profile.Clients.STS)
	if a.cfg.AWS.AccountID != "" {
		accounts = common.NewStaticAccountResolver(a.cfg.AWS.AccountID)
	}

	a.auditor = engine.NewAuditor(engine.AuditorConfig{
		Collector:         a.collector,
		Policy:            policy.NewClient(a.decider(), a.cfg.Policy.Endpoints, a.logger),
		Synthesizer:       findings.NewSynthesizer(),
		Repository:        a.repo,
		Accounts:          accounts,
		WriteMode:         a.cfg.Audit.WriteMode,
		DisableKeyLinking: a.cfg.Audit.DisableKeyLinking,
		Logger:            a.logger,
	})
	return nil
}

func (a *app) decider() policy.Decider {
	if a.cfg.Policy.Mode == config.PolicyModeEmbedded {
		return policy.NewRegoDecider(a.cfg.Policy.BundleDir)
	}
	return policy.NewHTTPDecider(a.cfg.Policy.URL, nil, a.cfg.Policy.Timeout)
}

// inventory returns the lister for kind. Key listing spans every active
// region of the profile.
func (a *app) inventory(kind models.ResourceKind) awssecurity.InventoryLister {
	if kind == models.ResourceKey {
		return awssecurity.KeyInventory{
			Collector: a.collector,
			Regions: func(ctx context.Context) ([]string, error) {
				return a.rt.aws.GetActiveRegions(ctx, a.profile)
			},
		}
	}
	return awssecurity.BucketInventory{Collector: a.collector}
}

// simulator builds the demo-bucket simulator. loadAWS must have run.
func (a *app) simulator() *simulation.Simulator {
	region := a.cfg.Simulation.Region
	if region == "" {
		region = a.profile.Region
	}
	return simulation.NewSimulator(a.rt.newS3(a.profile, region), a.auditor, a.repo, a.tasks, simulation.Options{
		Region:           region,
		Lifetime:         a.cfg.Simulation.Lifetime,
		PropagationDelay: simulation.DefaultPropagationDelay,
		CallTimeout:      a.cfg.AWS.CallTimeout,
	}, a.logger)
}

// scheduler builds the cleanup task scheduler for sim.
func (a *app) scheduler(sim *simulation.Simulator) *simulation.Scheduler {
	return simulation.NewScheduler(a.tasks, sim, simulation.SchedulerOptions{
		PollInterval: a.cfg.Simulation.PollInterval,
		MaxAttempts:  a.cfg.Simulation.MaxAttempts,
	}, a.publisher, a.logger)
}

// parseKinds maps a --kind flag to resource kinds; "all" or "" selects both.
func parseKinds(kind string) ([]models.ResourceKind, error) {
	switch kind {
	case "", "all":
		return []models.ResourceKind{models.ResourceBucket, models.ResourceKey}, nil
	}
	k := models.ResourceKind(kind)
	if !k.Valid() {
		return nil, fmt.Errorf("invalid --kind %q: want bucket, key or all", kind)
	}
	return []models.ResourceKind{k}, nil
}
