// Command hound runs the debugging engine. The default mode serves the HTTP
// API; debug mode runs one session in the foreground; investigate mode is the
// internal entry point for investigator subprocesses.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/term"

	"hound/pkg/branch"
	"hound/pkg/config"
	"hound/pkg/coordinator"
	"hound/pkg/exec"
	"hound/pkg/investigator"
	"hound/pkg/llm"
	"hound/pkg/llm/factory"
	"hound/pkg/logx"
	"hound/pkg/notes"
	"hound/pkg/server"
	"hound/pkg/session"
	"hound/pkg/status"
	"hound/pkg/supervisor"
	"hound/pkg/tools"
	"hound/pkg/trail"
)

// Version information - set via ldflags.
var (
	version = "dev"
	commit  = "none"
)

type options struct {
	mode       string
	configPath string
	dataDir    string

	// debug mode
	errorText string
	repoPath  string
	context   string
	language  string
	filePath  string

	// investigate mode
	sessionID  string
	instanceID string
	hypothesis string
	branchName string
}

func main() {
	var (
		opts        options
		showVersion bool
	)
	flag.StringVar(&opts.mode, "mode", "serve", "serve, debug, investigate, or secrets")
	flag.StringVar(&opts.configPath, "config", "", "Path to config file (YAML)")
	flag.StringVar(&opts.dataDir, "data-dir", "", "Data directory override")
	flag.StringVar(&opts.errorText, "error", "", "Error to debug (debug mode)")
	flag.StringVar(&opts.repoPath, "repo", "", "Repository path")
	flag.StringVar(&opts.context, "context", "", "Additional problem context (debug mode)")
	flag.StringVar(&opts.language, "language", "", "Language hint (debug mode)")
	flag.StringVar(&opts.filePath, "file", "", "Suspect file hint (debug mode)")
	flag.StringVar(&opts.sessionID, "session", "", "Session id (investigate mode)")
	flag.StringVar(&opts.instanceID, "instance", "", "Instance id (investigate mode)")
	flag.StringVar(&opts.hypothesis, "hypothesis", "", "Hypothesis to test (investigate mode)")
	flag.StringVar(&opts.branchName, "branch", "", "Assigned branch (investigate mode)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("hound %s (%s)\n", version, commit)
		os.Exit(0)
	}

	os.Exit(run(opts))
}

// run contains the main application logic and returns an exit code, so defers
// execute before os.Exit.
func run(opts options) int {
	logger := logx.NewLogger("hound")

	// Secrets can be stored before a provider is ever configured.
	if opts.mode == "secrets" {
		cfg := config.Default()
		if opts.dataDir != "" {
			cfg.DataDir = opts.dataDir
		}
		if err := runSecrets(cfg, flag.Args()); err != nil {
			fmt.Fprintf(os.Stderr, "hound: %v\n", err)
			return 1
		}
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if opts.dataDir != "" {
		cfg.DataDir = opts.dataDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch opts.mode {
	case "serve":
		err = runServe(ctx, cfg, opts, logger)
	case "debug":
		err = runDebug(ctx, cfg, opts)
	case "investigate":
		err = runInvestigate(ctx, cfg, opts)
	default:
		err = fmt.Errorf("unknown mode %q", opts.mode)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "hound: %v\n", err)
		return 1
	}
	return 0
}

// runServe hosts the HTTP API until interrupted.
func runServe(ctx context.Context, cfg config.Config, opts options, logger *logx.Logger) error {
	deps, err := buildDeps(cfg, opts, true)
	if err != nil {
		return err
	}
	defer deps.close()

	runner := server.RunnerFunc(func(ctx context.Context, sessionID string, problem coordinator.Problem) error {
		return runSession(ctx, cfg, deps, sessionID, problem)
	})

	srv := server.NewServer(deps.store, deps.registry, runner)
	logger.Info("hound %s serving on %s, data in %s", version, cfg.Server.Listen, cfg.DataDir)
	if err := srv.Start(ctx, cfg.Server.Listen); err != nil {
		return err
	}

	// Let in-flight investigators be reaped before the trail goes quiet.
	deps.supervisor.Wait()
	return nil
}

// runDebug runs a single session in the foreground and prints the final pulse.
func runDebug(ctx context.Context, cfg config.Config, opts options) error {
	if opts.errorText == "" || opts.repoPath == "" {
		return fmt.Errorf("debug mode requires -error and -repo")
	}

	deps, err := buildDeps(cfg, opts, true)
	if err != nil {
		return err
	}
	defer deps.close()

	sessionID := uuid.NewString()
	sessionCtx := deps.registry.Open(ctx, sessionID)
	defer deps.registry.Close(sessionID)

	runErr := runSession(sessionCtx, cfg, deps, sessionID, coordinator.Problem{
		Error:    opts.errorText,
		RepoPath: opts.repoPath,
		Context:  opts.context,
		Language: opts.language,
		FilePath: opts.filePath,
	})
	deps.supervisor.Wait()

	pulse := status.NewReconstructor(deps.store).Pulse(sessionID)
	out, err := json.MarshalIndent(pulse, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render pulse: %w", err)
	}
	fmt.Println(string(out))
	return runErr
}

// runInvestigate is the subprocess entry point the supervisor spawns.
func runInvestigate(ctx context.Context, cfg config.Config, opts options) error {
	if opts.sessionID == "" || opts.instanceID == "" || opts.hypothesis == "" || opts.repoPath == "" {
		return fmt.Errorf("investigate mode requires -session, -instance, -hypothesis and -repo")
	}

	store, err := trail.NewStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open trail store: %w", err)
	}
	client, err := buildClient(cfg, false)
	if err != nil {
		return err
	}

	inv, err := investigator.New(investigator.Config{
		SessionID:   opts.sessionID,
		InstanceID:  opts.instanceID,
		Hypothesis:  opts.hypothesis,
		Branch:      opts.branchName,
		RepoPath:    opts.repoPath,
		Client:      client,
		Store:       store,
		Tools:       tools.NewRegistry(tools.RoleInvestigator, exec.NewLocalExec(), opts.repoPath),
		TokenBudget: cfg.TokenBudget,
	})
	if err != nil {
		return err
	}
	return inv.Run(ctx)
}

// runSecrets encrypts KEY=VALUE pairs from the command line into the data
// directory. The password is prompted twice.
func runSecrets(cfg config.Config, pairs []string) error {
	if len(pairs) == 0 {
		return fmt.Errorf("secrets mode takes KEY=VALUE arguments, e.g. ANTHROPIC_API_KEY=sk-...")
	}
	secrets := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid secret %q, expected KEY=VALUE", pair)
		}
		secrets[key] = value
	}

	if !term.IsTerminal(syscall.Stdin) {
		return fmt.Errorf("secrets mode needs a terminal to read the password")
	}
	fmt.Print("Enter a password for this data directory: ")
	first, err := term.ReadPassword(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Print("Confirm password: ")
	second, err := term.ReadPassword(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if string(first) != string(second) {
		return fmt.Errorf("passwords do not match")
	}

	if err := config.EncryptSecrets(cfg.DataDir, string(first), secrets); err != nil {
		return fmt.Errorf("failed to encrypt secrets: %w", err)
	}
	fmt.Printf("Saved %d secrets to %s\n", len(secrets), config.SecretsPath(cfg.DataDir))
	return nil
}

// deps holds the long-lived pieces shared by every session in one process.
type deps struct {
	store      *trail.Store
	registry   *session.Registry
	branches   *branch.Manager
	supervisor *supervisor.Supervisor
	notes      *notes.Store
	client     llm.Client
}

func (d *deps) close() {
	if d.notes != nil {
		if err := d.notes.Close(); err != nil {
			logx.Warnf("failed to close notes store: %v", err)
		}
	}
}

func buildDeps(cfg config.Config, opts options, interactive bool) (*deps, error) {
	store, err := trail.NewStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open trail store: %w", err)
	}

	client, err := buildClient(cfg, interactive)
	if err != nil {
		return nil, err
	}

	registry := session.NewRegistry()
	supOpts := []supervisor.Option{
		supervisor.WithDeadline(cfg.Investigator.Deadline.D()),
		supervisor.WithGrace(cfg.Investigator.Grace.D()),
	}
	if opts.configPath != "" {
		supOpts = append(supOpts, supervisor.WithExtraArgs("-config", opts.configPath))
	}
	sup, err := supervisor.New(store, registry, supOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create supervisor: %w", err)
	}

	noteStore, err := notes.Open(cfg.Coordinator.NotesDB)
	if err != nil {
		// Notes are an aid, not a dependency.
		logx.Warnf("notes store unavailable: %v", err)
		noteStore = nil
	}

	return &deps{
		store:      store,
		registry:   registry,
		branches:   branch.NewManager(exec.NewLocalExec()),
		supervisor: sup,
		notes:      noteStore,
		client:     client,
	}, nil
}

func runSession(ctx context.Context, cfg config.Config, d *deps, sessionID string, problem coordinator.Problem) error {
	coord, err := coordinator.New(coordinator.Config{
		SessionID:           sessionID,
		Problem:             problem,
		Client:              d.client,
		Store:               d.store,
		Branches:            d.branches,
		Supervisor:          d.supervisor,
		Tools:               tools.NewRegistry(tools.RoleCoordinator, exec.NewLocalExec(), problem.RepoPath),
		Notes:               d.notes,
		MaxRuntime:          cfg.Coordinator.MaxRuntime.D(),
		ConfidenceThreshold: cfg.Coordinator.ConfidenceThreshold,
		TokenBudget:         cfg.TokenBudget,
	})
	if err != nil {
		return err
	}
	return coord.Run(ctx)
}

// buildClient resolves credentials and constructs the retry-wrapped provider
// client. Credentials come from the encrypted secrets file when present,
// otherwise from the environment.
func buildClient(cfg config.Config, interactive bool) (llm.Client, error) {
	var secrets map[string]string
	if config.SecretsFileExists(cfg.DataDir) {
		password, err := readPassword(interactive)
		if err != nil {
			return nil, err
		}
		secrets, err = config.DecryptSecrets(cfg.DataDir, password)
		if err != nil {
			return nil, fmt.Errorf("failed to unlock secrets: %w", err)
		}
	}

	providerCfg, err := cfg.LLMConfig(secrets)
	if err != nil {
		return nil, err
	}
	return factory.NewClient(providerCfg)
}

// readPassword prefers HOUND_PASSWORD so subprocesses and scripts never
// prompt; a terminal prompt is the interactive fallback.
func readPassword(interactive bool) (string, error) {
	if p := os.Getenv("HOUND_PASSWORD"); p != "" {
		return p, nil
	}
	if !interactive || !term.IsTerminal(syscall.Stdin) {
		return "", fmt.Errorf("secrets file present but HOUND_PASSWORD is not set")
	}
	fmt.Print("Enter the hound data password: ")
	password, err := term.ReadPassword(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	// Investigator subprocesses inherit the environment, not the terminal.
	if err := os.Setenv("HOUND_PASSWORD", string(password)); err != nil {
		return "", fmt.Errorf("failed to propagate password: %w", err)
	}
	return string(password), nil
}
