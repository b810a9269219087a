package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/marigold-ai/concierge"
	"github.com/marigold-ai/concierge/internal/actions"
	"github.com/marigold-ai/concierge/internal/adapters"
	"github.com/marigold-ai/concierge/internal/dispatcher"
	"github.com/marigold-ai/concierge/internal/memory"
	"github.com/marigold-ai/concierge/internal/normalizer"
	"github.com/marigold-ai/concierge/internal/resolver"
)

const (
	defaultAddr        = ":8080"
	conversationTTL    = 30 * time.Minute
	asyncCleanupPeriod = 5 * time.Minute
	asyncRetention     = 10 * time.Minute
)

func main() {
	ctx := context.Background()

	addr := os.Getenv("CONCIERGE_ADDR")
	if addr == "" {
		addr = defaultAddr
	}

	actionSet := actions.SetupActions()
	schemas := make(map[string]concierge.ActionSchema, len(actionSet))
	for name, action := range actionSet {
		schemas[name] = action.Schema()
	}

	res, err := buildResolver(schemas)
	if err != nil {
		log.Fatalf("Failed to build resolver: %v", err)
	}

	options := []concierge.Option{
		concierge.WithResolver(res),
		concierge.WithDispatcher(dispatcher.NewGuardedDispatcher(actionSet)),
		concierge.WithNormalizer(normalizer.NewTemplateNormalizer()),
		concierge.WithMemory(memory.NewConversationLog(memory.DefaultMaxTurns, conversationTTL)),
		concierge.WithActions(actionSet),
	}

	// Tool-calling mode is opt-in: the proposer drives the session instead of
	// the single resolved intent.
	if os.Getenv("CONCIERGE_PROPOSER") == "genkit" {
		proposer, err := buildGenkitProposer(ctx, res)
		if err != nil {
			log.Fatalf("Failed to initialize proposer: %v", err)
		}
		options = append(options, concierge.WithProposer(proposer))
		log.Printf("Tool-calling mode enabled (proposer: genkit)")
	}

	runtime, err := concierge.New(options...)
	if err != nil {
		log.Fatalf("Failed to create concierge runtime: %v", err)
	}
	defer runtime.Close()

	server := &http.Server{
		Addr:              addr,
		Handler:           newRouter(runtime),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Bound the async bookkeeping map over long uptimes.
	go func() {
		ticker := time.NewTicker(asyncCleanupPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-shutdownCtx.Done():
				return
			case <-ticker.C:
				if removed := runtime.CleanupCompletedRequests(asyncRetention); removed > 0 {
					log.Printf("Cleaned up finished async requests (count: %d)", removed)
				}
			}
		}
	}()

	go func() {
		log.Printf("Concierge server listening (addr: %s, actions: %d)", addr, len(actionSet))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-shutdownCtx.Done()
	log.Printf("Shutting down")

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(drainCtx); err != nil {
		log.Printf("Shutdown did not drain cleanly: %v", err)
	}
}

// buildResolver loads intent definitions from CONCIERGE_INTENTS when set,
// otherwise uses the built-in defaults.
func buildResolver(schemas map[string]concierge.ActionSchema) (*resolver.KeywordResolver, error) {
	if path := os.Getenv("CONCIERGE_INTENTS"); path != "" {
		log.Printf("Loading intent definitions (path: %s)", path)
		return resolver.LoadAndValidateIntents(path, schemas)
	}
	return resolver.NewKeywordResolver(resolver.DefaultIntents(), schemas)
}

// buildGenkitProposer defines the Genkit flow that proposes the next action
// call. Until a model-backed flow replaces it, the flow bridges the keyword
// resolver into tool-calling mode: it proposes the single resolved call and
// then reports done.
func buildGenkitProposer(ctx context.Context, res *resolver.KeywordResolver) (concierge.Proposer, error) {
	g, err := genkit.Init(ctx)
	if err != nil {
		return nil, err
	}

	proposerFlow := genkit.DefineFlow(g, "proposeNextCall",
		func(ctx context.Context, input *concierge.ProposerInput) (*concierge.ProposedCall, error) {
			if len(input.Trace) > 0 {
				return nil, nil
			}

			intent := res.Resolve(input.Utterance, nil, nil)
			if intent.ActionName == "" || len(intent.MissingRequired) > 0 {
				return nil, nil
			}

			return &concierge.ProposedCall{
				ActionName: intent.ActionName,
				Arguments:  intent.Parameters,
			}, nil
		},
	)

	return adapters.NewGenkitProposerAdapter(proposerFlow), nil
}

func newRouter(runtime *concierge.Concierge) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/actions", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, runtime.ActionSchemas())
		})

		r.Post("/assist", func(w http.ResponseWriter, req *http.Request) {
			request, ok := decodeRequest(w, req)
			if !ok {
				return
			}

			response, err := runtime.Handle(req.Context(), request)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, response)
		})

		r.Post("/assist/async", func(w http.ResponseWriter, req *http.Request) {
			request, ok := decodeRequest(w, req)
			if !ok {
				return
			}

			requestID, err := runtime.HandleAsync(req.Context(), request)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"request_id": requestID})
		})

		r.Get("/assist/async/{requestID}", func(w http.ResponseWriter, req *http.Request) {
			status, err := runtime.AsyncStatus(chi.URLParam(req, "requestID"))
			if err != nil {
				writeError(w, http.StatusNotFound, err)
				return
			}
			writeJSON(w, http.StatusOK, status)
		})

		r.Get("/assist/async/{requestID}/result", func(w http.ResponseWriter, req *http.Request) {
			response, err := runtime.AsyncResult(chi.URLParam(req, "requestID"))
			if err != nil {
				writeError(w, http.StatusConflict, err)
				return
			}
			writeJSON(w, http.StatusOK, response)
		})

		r.Delete("/assist/async/{requestID}", func(w http.ResponseWriter, req *http.Request) {
			cancelled, err := runtime.CancelAsync(chi.URLParam(req, "requestID"))
			if err != nil {
				writeError(w, http.StatusNotFound, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
		})
	})

	return r
}

func decodeRequest(w http.ResponseWriter, req *http.Request) (concierge.Request, bool) {
	var request concierge.Request

	decoder := json.NewDecoder(http.MaxBytesReader(w, req.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return request, false
	}

	return request, true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
