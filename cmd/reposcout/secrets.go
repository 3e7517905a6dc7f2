package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/floegence/reposcout/internal/ai"
)

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage model API keys and the GitHub token",
	Long: `Secrets are stored in <state_dir>/secrets.json (mode 0600), never in the config
file. When a secret is not stored, the environment is consulted:
ANTHROPIC_API_KEY, OPENAI_API_KEY, GITHUB_TOKEN, GH_TOKEN.`,
}

var secretsSetCmd = &cobra.Command{
	Use:   "set <anthropic|openai|openai_compatible|github>",
	Short: "Store a secret read from stdin",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretsSet,
}

var secretsClearCmd = &cobra.Command{
	Use:   "clear <anthropic|openai|openai_compatible|github>",
	Short: "Remove a stored secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretsClear,
}

var secretsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which secrets are stored",
	Args:  cobra.NoArgs,
	RunE:  runSecretsStatus,
}

func init() {
	secretsCmd.AddCommand(secretsSetCmd, secretsClearCmd, secretsStatusCmd)
	rootCmd.AddCommand(secretsCmd)
}

var secretProviders = []string{ai.ProviderAnthropic, ai.ProviderOpenAI, ai.ProviderOpenAICompatible}

func secretTarget(raw string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "github" {
		return name, nil
	}
	for _, p := range secretProviders {
		if name == p {
			return name, nil
		}
	}
	return "", fmt.Errorf("unknown secret %q", raw)
}

func runSecretsSet(cmd *cobra.Command, args []string) error {
	target, err := secretTarget(args[0])
	if err != nil {
		return err
	}
	a, err := loadApp()
	if err != nil {
		return err
	}
	value, err := readSecret(cmd, target)
	if err != nil {
		return err
	}
	if target == "github" {
		err = a.secrets.SetGitHubToken(value)
	} else {
		err = a.secrets.SetProviderAPIKey(target, value)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stored %s secret in %s\n", target, a.secrets.Path())
	return nil
}

// readSecret prompts without echo on a terminal and reads one line otherwise.
func readSecret(cmd *cobra.Command, target string) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Enter %s secret: ", target)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("empty secret")
	}
	return line, nil
}

func runSecretsClear(cmd *cobra.Command, args []string) error {
	target, err := secretTarget(args[0])
	if err != nil {
		return err
	}
	a, err := loadApp()
	if err != nil {
		return err
	}
	if target == "github" {
		return a.secrets.SetGitHubToken("")
	}
	return a.secrets.ClearProviderAPIKey(target)
}

func runSecretsStatus(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	set, err := a.secrets.GetProviderAPIKeySet(secretProviders)
	if err != nil {
		return err
	}
	_, hasToken, err := a.secrets.GetGitHubToken()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, p := range secretProviders {
		fmt.Fprintf(out, "%-18s %s\n", p, storedLabel(set[p]))
	}
	fmt.Fprintf(out, "%-18s %s\n", "github", storedLabel(hasToken))
	return nil
}

func storedLabel(ok bool) string {
	if ok {
		return "stored"
	}
	return "not stored"
}
