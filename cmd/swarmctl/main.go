// Command swarmctl is the thin CLI surface spec §6 describes: given a swarm
// definition document and a prompt, it builds a swarm, runs it to
// completion, and prints the Result. Grounded on the teacher's
// example/cmd/assistant-cli flag conventions, adapted from an HTTP-client CLI
// to a direct in-process swarm runner.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/swarmkit/swarmkit/config"
	"github.com/swarmkit/swarmkit/eventlog"
	"github.com/swarmkit/swarmkit/llm"
	"github.com/swarmkit/swarmkit/swarm"
)

// Exit codes per spec §6.
const (
	exitSuccess     = 0
	exitFailure     = 1
	exitCancellation = 130
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("swarmctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath = fs.String("config", "", "path to the swarm definition YAML document (required)")
		promptFlag = fs.String("prompt", "", "the initial prompt; reads stdin if omitted and -i is not set")
		interactive = fs.Bool("i", false, "read the prompt interactively from stdin, one line at a time")
		output     = fs.String("o", "human", "output format: human|json")
		timeoutSec = fs.Int("timeout", 0, "overall execution timeout in seconds (0 = no timeout)")
	)
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}
	if *configPath == "" {
		fmt.Fprintln(stderr, "swarmctl: -config is required")
		return exitFailure
	}
	if *output != "human" && *output != "json" {
		fmt.Fprintf(stderr, "swarmctl: invalid -o %q (want human|json)\n", *output)
		return exitFailure
	}

	f, err := os.Open(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "swarmctl: %v\n", err)
		return exitFailure
	}
	defer f.Close()

	doc, err := config.Parse(f)
	if err != nil {
		fmt.Fprintf(stderr, "swarmctl: %v\n", err)
		return exitFailure
	}
	def, err := doc.ToSwarmDefinition()
	if err != nil {
		fmt.Fprintf(stderr, "swarmctl: %v\n", err)
		return exitFailure
	}

	prompt, err := resolvePrompt(*promptFlag, *interactive, stdin)
	if err != nil {
		fmt.Fprintf(stderr, "swarmctl: %v\n", err)
		return exitFailure
	}

	s, err := swarm.Build(def, swarm.Options{
		ProviderFor: defaultProviderFor,
		MaxTurns:    doc.MaxTurns,
	})
	if err != nil {
		fmt.Fprintf(stderr, "swarmctl: %v\n", err)
		return exitFailure
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		cancel()
	}()
	if *timeoutSec > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, time.Duration(*timeoutSec)*time.Second)
		defer timeoutCancel()
	}

	var logCallback func(eventlog.Event)
	if *output == "json" {
		enc := json.NewEncoder(stderr)
		logCallback = func(e eventlog.Event) { _ = enc.Encode(e) }
	}

	res, err := s.Execute(ctx, prompt, logCallback)
	if err != nil {
		fmt.Fprintf(stderr, "swarmctl: %v\n", err)
		return exitFailure
	}

	printResult(res, *output, stdout)
	switch {
	case res.Cancelled:
		return exitCancellation
	case !res.Success:
		return exitFailure
	default:
		return exitSuccess
	}
}

// resolvePrompt implements spec §6's three prompt sources: the -prompt flag,
// interactive stdin (-i), or a single stdin read.
func resolvePrompt(flagValue string, interactive bool, stdin io.Reader) (string, error) {
	if interactive {
		var lines []string
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading interactive prompt: %w", err)
		}
		return strings.Join(lines, "\n"), nil
	}
	if flagValue != "" {
		return flagValue, nil
	}
	raw, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("reading prompt from stdin: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func printResult(res *swarm.Result, format string, stdout io.Writer) {
	if format == "json" {
		enc := json.NewEncoder(stdout)
		_ = enc.Encode(res)
		return
	}
	if res.Cancelled {
		fmt.Fprintln(stdout, "swarmctl: cancelled")
		return
	}
	if !res.Success {
		fmt.Fprintf(stdout, "swarmctl: execution failed: %v\n", res.Err)
		return
	}
	fmt.Fprintln(stdout, res.Content)
	fmt.Fprintf(stdout, "\n--- %d llm request(s), %d tool call(s), %.4f USD, agents: %s ---\n",
		res.LLMRequests, res.ToolCallsCount, res.CostUSD, strings.Join(res.AgentsInvolved, ", "))
}

// defaultProviderFor resolves a model id to a configured llm.Provider using
// API keys from the process environment; this is the thin CLI's wiring
// layer, not part of the core seam spec §1 reserves as external (the
// transport itself still lives in package llm).
func defaultProviderFor(modelID string) (llm.Provider, error) {
	switch {
	case strings.HasPrefix(modelID, "claude-"):
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("model %q requires ANTHROPIC_API_KEY", modelID)
		}
		c, err := llm.NewAnthropicClientFromAPIKey(key, 4096)
		if err != nil {
			return nil, err
		}
		return llm.NewTimeoutRetrying(c, 60*time.Second), nil
	case strings.HasPrefix(modelID, "gpt-"):
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("model %q requires OPENAI_API_KEY", modelID)
		}
		c, err := llm.NewOpenAIClientFromAPIKey(key)
		if err != nil {
			return nil, err
		}
		return llm.NewTimeoutRetrying(c, 60*time.Second), nil
	default:
		return nil, fmt.Errorf("no provider configured for model %q", modelID)
	}
}
