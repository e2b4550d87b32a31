// Dev smoke test for the ollama wrapper: point it at a local instance and
// run one clarifier-style generation through the retry/circuit path.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/garnizeh/orchestrator/internal/config"
	"github.com/garnizeh/orchestrator/pkg/ollama"
)

const (
	uri   = "http://localhost:11434"
	model = "deepseek-r1:1.5b"
)

func main() {
	ctx := context.Background()

	client, err := ollama.NewDefaultClient(config.OllamaConfig{
		BaseURL:                 uri,
		Timeout:                 60 * time.Second,
		Retries:                 2,
		Backoff:                 2 * time.Second,
		CircuitFailureThreshold: 5,
		CircuitReset:            30 * time.Second,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	if err := client.Health(ctx); err != nil {
		log.Fatal(err)
	}

	res, err := client.Generate(ctx, model, "List the unanswered questions in: add request caching to the API")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("tokens: prompt=%d output=%d duration=%dms\n", res.PromptTokens, res.OutputTokens, res.DurationMilli)
	fmt.Println(res.Text)
}
