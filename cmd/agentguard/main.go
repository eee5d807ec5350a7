// Package main provides the AgentGuard command-line tool: a demo harness
// for the decision engine that lets an operator validate a policy
// bundle, sign one, or run a single check against one from the shell.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/agentguard/agentguard/internal/config"
	"github.com/agentguard/agentguard/pkg/bundle"
	"github.com/agentguard/agentguard/pkg/engine"
	"github.com/agentguard/agentguard/pkg/evaluate"
	"github.com/agentguard/agentguard/pkg/schema"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "agentguard",
		Short:   "Runtime guardrails for agentic tool calls",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}

	var debug bool
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	cobra.OnInitialize(func() { configureLogging(debug) })

	validateCmd := &cobra.Command{
		Use:   "validate [bundle-file]",
		Short: "Load and validate a policy bundle without running a check",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}
	validateCmd.Flags().String("secret-env", "", "environment variable holding the HMAC signing secret")

	signCmd := &cobra.Command{
		Use:   "sign [bundle-file]",
		Short: "Sign a policy bundle and print it with its signature filled in",
		Args:  cobra.ExactArgs(1),
		RunE:  runSign,
	}
	signCmd.Flags().String("secret-env", "AGENTGUARD_POLICY_SECRET", "environment variable holding the HMAC signing secret")

	checkCmd := &cobra.Command{
		Use:   "check [bundle-file] [request-file]",
		Short: "Evaluate a single agent action request against a policy bundle",
		Args:  cobra.ExactArgs(2),
		RunE:  runCheck,
	}
	checkCmd.Flags().String("secret-env", "", "environment variable holding the HMAC signing secret")
	checkCmd.Flags().StringP("config", "c", "", "path to an agentguard config file")

	rootCmd.AddCommand(validateCmd, signCmd, checkCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := args[0]
	secret := secretFromEnv(cmd)

	loader := bundle.NewLoader()
	loader.Secret = secret

	b, err := loader.Load(context.Background(), bundle.Source{FilePath: path})
	if err != nil {
		return fmt.Errorf("bundle invalid: %w", err)
	}

	ev := evaluate.New()
	ev.UpdateBundle(b)
	for _, d := range ev.Diagnostics() {
		log.Warn().Str("rule_id", d.RuleID).Str("pattern", d.Pattern).Str("reason", d.Reason).
			Msg("rule regex rejected by safety cache")
	}

	log.Info().
		Str("file", path).
		Int("rules", len(b.Rules)).
		Str("default_outcome", string(b.Defaults.Outcome)).
		Msg("policy bundle valid")
	return nil
}

func runSign(cmd *cobra.Command, args []string) error {
	path := args[0]
	secret := secretFromEnv(cmd)
	if len(secret) == 0 {
		return fmt.Errorf("sign requires a non-empty secret (set --secret-env to an exported variable)")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading bundle: %w", err)
	}

	var b schema.PolicyBundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return fmt.Errorf("parsing bundle: %w", err)
	}

	if err := bundle.SignBundle(&b, secret); err != nil {
		return fmt.Errorf("signing bundle: %w", err)
	}

	out, err := json.MarshalIndent(&b, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding signed bundle: %w", err)
	}

	fmt.Println(string(out))
	return nil
}

// requestDocument is the on-disk shape the check command reads: the
// three request fields a host would otherwise build in code.
type requestDocument struct {
	Agent   schema.Agent          `json:"agent"`
	Action  schema.Action         `json:"action"`
	Context schema.RequestContext `json:"context"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	bundlePath, requestPath := args[0], args[1]

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	secret := secretFromEnv(cmd)
	if len(secret) == 0 && cfg.Policy.SecretEnvVar != "" {
		secret = []byte(os.Getenv(cfg.Policy.SecretEnvVar))
	}

	raw, err := os.ReadFile(requestPath)
	if err != nil {
		return fmt.Errorf("reading request: %w", err)
	}
	var doc requestDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parsing request: %w", err)
	}

	eng, err := engine.New(engine.Options{
		PolicySource:       engine.PolicySource{FilePath: bundlePath},
		Secret:             secret,
		DefaultEnvironment: cfg.Engine.DefaultEnvironment,
		DefaultOwner:       cfg.Engine.DefaultOwner,
		MaxAuditLogSize:    cfg.Engine.MaxAuditLogSize,
	})
	if err != nil {
		return fmt.Errorf("constructing engine: %w", err)
	}

	result, err := eng.Check(context.Background(), engine.CheckParams{
		Agent:   doc.Agent,
		Action:  doc.Action,
		Context: doc.Context,
	})
	if err != nil {
		return fmt.Errorf("check failed: %w", err)
	}

	out, err := json.MarshalIndent(result.Decision, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding decision: %w", err)
	}
	fmt.Println(string(out))

	if !result.Allowed {
		os.Exit(1)
	}
	return nil
}

func secretFromEnv(cmd *cobra.Command) []byte {
	name, _ := cmd.Flags().GetString("secret-env")
	if name == "" {
		return nil
	}
	return []byte(os.Getenv(name))
}

func configureLogging(debug bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}
