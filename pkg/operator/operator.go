/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package operator bootstraps the control plane: it builds the clients,
// stores, providers and controllers from options and runs them until the
// context is canceled.
package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	awsclient "github.com/DEVunderdog/NeuroStash/pkg/aws"
	"github.com/DEVunderdog/NeuroStash/pkg/aws/sdk"
	"github.com/DEVunderdog/NeuroStash/pkg/chunker"
	"github.com/DEVunderdog/NeuroStash/pkg/controllers/ingestion"
	"github.com/DEVunderdog/NeuroStash/pkg/controllers/provisioner"
	"github.com/DEVunderdog/NeuroStash/pkg/controllers/reaper"
	"github.com/DEVunderdog/NeuroStash/pkg/ledger"
	"github.com/DEVunderdog/NeuroStash/pkg/loaders"
	"github.com/DEVunderdog/NeuroStash/pkg/metrics"
	"github.com/DEVunderdog/NeuroStash/pkg/operator/options"
	"github.com/DEVunderdog/NeuroStash/pkg/providers/embeddings"
	"github.com/DEVunderdog/NeuroStash/pkg/providers/objectstore"
	"github.com/DEVunderdog/NeuroStash/pkg/providers/queue"
	"github.com/DEVunderdog/NeuroStash/pkg/providers/vectorstore"
	"github.com/DEVunderdog/NeuroStash/pkg/services/documents"
	"github.com/DEVunderdog/NeuroStash/pkg/services/knowledgebase"
	"github.com/DEVunderdog/NeuroStash/pkg/services/users"
	"github.com/DEVunderdog/NeuroStash/pkg/tokens"
	"github.com/DEVunderdog/NeuroStash/pkg/utils/logging"
)

type Operator struct {
	Options *options.Options

	Store       *ledger.Store
	ObjectStore objectstore.Provider
	Queue       queue.Provider
	VectorStore vectorstore.Provider
	Embedder    embeddings.Provider
	Tokens      *tokens.Manager

	Documents      *documents.Service
	KnowledgeBases *knowledgebase.Service
	Users          *users.Service
	Admitter       *ingestion.Admitter

	Provisioner *provisioner.Controller
	Consumer    *ingestion.Consumer
	Reaper      *reaper.Controller
}

// New wires every component and returns a context carrying the logger.
func New(ctx context.Context, opts *options.Options) (context.Context, *Operator, error) {
	logger := logging.NewLogger(opts.Environment)
	ctx = logging.WithLogger(ctx, logger)

	awsCfg, err := awsclient.NewConfig(ctx, opts.AWSRegion)
	if err != nil {
		return ctx, nil, fmt.Errorf("loading aws config, %w", err)
	}
	s3Client := s3.NewFromConfig(awsCfg)
	presigner := s3.NewPresignClient(s3Client)
	sqsClient := sqs.NewFromConfig(awsCfg)
	var kmsClient sdk.KMSAPI
	if opts.IsProduction() {
		kmsClient = kms.NewFromConfig(awsCfg)
	}

	store, err := ledger.New(ctx, opts.DBSource)
	if err != nil {
		return ctx, nil, fmt.Errorf("connecting to ledger, %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		return ctx, nil, fmt.Errorf("migrating ledger, %w", err)
	}

	objectStore := objectstore.NewDefaultProvider(s3Client, presigner, opts.AWSBucket, opts.PresignExpiry())
	q := queue.NewDefaultProvider(sqsClient, opts.AWSQueueURL)

	vectorStore, err := vectorstore.NewDefaultProvider(ctx, vectorstore.Config{
		Address:   opts.MilvusURL,
		Username:  opts.MilvusUser,
		Password:  opts.MilvusPassword,
		Database:  opts.MilvusDatabase,
		Dimension: opts.ModelDimension,
	})
	if err != nil {
		return ctx, nil, fmt.Errorf("connecting to vector store, %w", err)
	}

	embClient, err := embeddings.NewOpenAIClient(opts.OpenAIAPIKey, opts.EmbeddingModel)
	if err != nil {
		return ctx, nil, fmt.Errorf("building embeddings client, %w", err)
	}
	embedder := embeddings.NewDefaultProvider(embClient, opts.ModelDimension)

	chunkerCfg, err := chunker.LoadConfig(opts.ChunkerConfig)
	if err != nil {
		return ctx, nil, fmt.Errorf("loading chunker config, %w", err)
	}
	chk := chunker.New(embedder, chunkerCfg)

	tokenManager := tokens.NewManager(store, kmsClient, tokens.Options{
		Issuer:   opts.JWTIssuer,
		Audience: opts.JWTAudience,
		TokenTTL: opts.AccessTokenTTL(),
		KMSKeyID: opts.AWSKMSKeyID,
		GraceTTL: 7 * 24 * time.Hour,
	})

	poolController := provisioner.NewController(store, vectorStore, provisioner.Options{
		MinPoolSize:   opts.MinPoolSize,
		MaxPoolSize:   opts.MaxPoolSize,
		TimeThreshold: opts.TimeThreshold(),
		MaxConcurrent: opts.MaxConcurrentProvisioner,
	})
	processor := ingestion.NewDefaultProcessor(store, objectStore, vectorStore, embedder, loaders.NewRegistry(), chk, opts.MaxConcurrentFiles)
	consumer := ingestion.NewConsumer(q, processor, opts.ReceiveBatchSize, opts.ReceiveWaitSeconds)
	reaperController := reaper.NewController(store, objectStore, poolController, reaper.Options{
		Schedule:          opts.ReaperSchedule,
		StuckJobThreshold: opts.StuckJobThreshold(),
	})

	return ctx, &Operator{
		Options:        opts,
		Store:          store,
		ObjectStore:    objectStore,
		Queue:          q,
		VectorStore:    vectorStore,
		Embedder:       embedder,
		Tokens:         tokenManager,
		Documents:      documents.NewService(store, objectStore),
		KnowledgeBases: knowledgebase.NewService(store, poolController),
		Users:          users.NewService(store, tokenManager),
		Admitter:       ingestion.NewAdmitter(store, q),
		Provisioner:    poolController,
		Consumer:       consumer,
		Reaper:         reaperController,
	}, nil
}

// Start runs the controllers and the ops endpoint until ctx is canceled.
func (o *Operator) Start(ctx context.Context) error {
	if err := o.Tokens.Init(ctx); err != nil {
		return fmt.Errorf("initializing token manager, %w", err)
	}
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return o.Provisioner.Start(ctx) })
	group.Go(func() error { return o.Consumer.Start(ctx) })
	group.Go(func() error { return o.Reaper.Start(ctx) })
	group.Go(func() error { return o.serveOps(ctx) })
	return group.Wait()
}

// serveOps exposes metrics, liveness and pool stats on the metrics port.
func (o *Operator) serveOps(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/poolstats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := o.Store.PoolStats(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			logging.FromContext(r.Context()).Errorf("encoding pool stats, %s", err)
		}
	})
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", o.Options.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
