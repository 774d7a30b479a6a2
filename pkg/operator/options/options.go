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

package options

import (
	"errors"
	"flag"
	"os"
	"time"

	"github.com/DEVunderdog/NeuroStash/pkg/utils/env"
)

type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// SQS hard caps on a single receive call.
const (
	MaxReceiveBatchSize   = 10
	MaxReceiveWaitSeconds = 20
)

// Options for running this binary
type Options struct {
	*flag.FlagSet
	// Operational
	MetricsPort int
	Environment string
	// Ledger
	DBSource string
	// AWS
	AWSRegion            string
	AWSBucket            string
	AWSQueueURL          string
	AWSKMSKeyID          string
	PresignExpirySeconds int
	// Collection pool
	MinPoolSize              int
	MaxPoolSize              int
	TimeThresholdMinutes     int
	MaxConcurrentProvisioner int
	// Embeddings
	OpenAIAPIKey   string
	EmbeddingModel string
	ModelDimension int
	// Milvus
	MilvusURL      string
	MilvusUser     string
	MilvusPassword string
	MilvusDatabase string
	// Tokens
	JWTIssuer           string
	JWTAudience         string
	JWTAccessTokenHours int
	// Ingestion
	ReceiveBatchSize   int
	ReceiveWaitSeconds int
	MaxConcurrentFiles int
	// Reaper
	ReaperSchedule         string
	StuckJobThresholdHours int
	// Chunker
	ChunkerConfig string
}

// New creates an Options struct and registers CLI flags and environment variables to fill-in the Options struct fields
func New() *Options {
	opts := &Options{}
	f := flag.NewFlagSet("neurostash", flag.ContinueOnError)
	opts.FlagSet = f

	// Operational
	f.IntVar(&opts.MetricsPort, "metrics-port", env.WithDefaultInt("METRICS_PORT", 8080), "The port the ops endpoint binds to for metrics, health and pool stats")
	f.StringVar(&opts.Environment, "environment", env.WithDefaultString("ENVIRONMENT", string(Development)), "Deployment environment, either development or production. Production enables KMS key wrapping and JSON logs")

	// Ledger
	f.StringVar(&opts.DBSource, "db-source", env.WithDefaultString("DB_SOURCE", ""), "Postgres connection string for the ledger")

	// AWS
	f.StringVar(&opts.AWSRegion, "aws-region", env.WithDefaultString("AWS_REGION", ""), "The AWS region hosting the bucket, queue and KMS key")
	f.StringVar(&opts.AWSBucket, "aws-bucket", env.WithDefaultString("AWS_BUCKET", ""), "The S3 bucket holding registered document objects")
	f.StringVar(&opts.AWSQueueURL, "aws-queue-url", env.WithDefaultString("AWS_QUEUE_URL", ""), "The SQS queue URL carrying ingestion job messages")
	f.StringVar(&opts.AWSKMSKeyID, "aws-kms-key-id", env.WithDefaultString("AWS_KMS_KEY_ID", ""), "The KMS key wrapping stored signing key material. Required in production")
	f.IntVar(&opts.PresignExpirySeconds, "presign-expiry-seconds", env.WithDefaultInt("PRESIGN_EXPIRY_SECONDS", 600), "Lifetime of presigned upload URLs in seconds")

	// Collection pool
	f.IntVar(&opts.MinPoolSize, "min-pool-size", env.WithDefaultInt("MIN_POOL_SIZE", 3), "Minimum number of AVAILABLE collections the provisioner maintains")
	f.IntVar(&opts.MaxPoolSize, "max-pool-size", env.WithDefaultInt("MAX_POOL_SIZE", 10), "Upper bound on collections created in a single reconcile pass")
	f.IntVar(&opts.TimeThresholdMinutes, "provisioning-time-threshold-minutes", env.WithDefaultInt("TIME_THRESHOLD", 5), "Age in minutes after which a PROVISIONING collection is considered stuck")
	f.IntVar(&opts.MaxConcurrentProvisioner, "max-concurrent-provisioner", env.WithDefaultInt("MAX_CONCURRENT_PROVISIONER", 5), "Maximum concurrent collection create or drop calls")

	// Embeddings
	f.StringVar(&opts.OpenAIAPIKey, "openai-api-key", env.WithDefaultString("OPENAI_API_KEY", ""), "API key for the embeddings endpoint")
	f.StringVar(&opts.EmbeddingModel, "embedding-model", env.WithDefaultString("EMBEDDING_MODEL", "text-embedding-3-large"), "Embedding model identifier")
	f.IntVar(&opts.ModelDimension, "model-dimension", env.WithDefaultInt("MODEL_DIMENSION", 3072), "Dimension of the dense vector field, fixed per embedding model")

	// Milvus
	f.StringVar(&opts.MilvusURL, "milvus-url", env.WithDefaultString("MILVUS_URL", ""), "Milvus server address")
	f.StringVar(&opts.MilvusUser, "milvus-user", env.WithDefaultString("MILVUS_USER", ""), "Milvus username")
	f.StringVar(&opts.MilvusPassword, "milvus-password", env.WithDefaultString("MILVUS_PASSWORD", ""), "Milvus password")
	f.StringVar(&opts.MilvusDatabase, "milvus-database", env.WithDefaultString("MILVUS_DATABASE", "default"), "Milvus database name")

	// Tokens
	f.StringVar(&opts.JWTIssuer, "jwt-issuer", env.WithDefaultString("JWT_ISSUER", "neurostash"), "Issuer claim stamped on access tokens")
	f.StringVar(&opts.JWTAudience, "jwt-audience", env.WithDefaultString("JWT_AUDIENCE", "neurostash"), "Audience claim stamped on access tokens")
	f.IntVar(&opts.JWTAccessTokenHours, "jwt-access-token-hours", env.WithDefaultInt("JWT_ACCESS_TOKEN_HOURS", 24), "Access token lifetime in hours")

	// Ingestion
	f.IntVar(&opts.ReceiveBatchSize, "receive-batch-size", env.WithDefaultInt("RECEIVE_BATCH_SIZE", 5), "Messages requested per SQS receive call, capped at 10")
	f.IntVar(&opts.ReceiveWaitSeconds, "receive-wait-seconds", env.WithDefaultInt("RECEIVE_WAIT_SECONDS", 10), "Long poll duration per SQS receive call, capped at 20")
	f.IntVar(&opts.MaxConcurrentFiles, "max-concurrent-files", env.WithDefaultInt("MAX_CONCURRENT_FILES", 4), "Maximum files indexed or deleted concurrently per job message")

	// Reaper
	f.StringVar(&opts.ReaperSchedule, "reaper-schedule", env.WithDefaultString("REAPER_SCHEDULE", "0 3 * * *"), "Cron expression for the daily reaper pass")
	f.IntVar(&opts.StuckJobThresholdHours, "stuck-job-threshold-hours", env.WithDefaultInt("STUCK_JOB_THRESHOLD_HOURS", 1), "Age in hours after which a PENDING ingestion job is marked FAILED")

	// Chunker
	f.StringVar(&opts.ChunkerConfig, "chunker-config", env.WithDefaultString("CHUNKER_CONFIG", ""), "Optional TOML file overriding chunker breakpoint tuning")
	return opts
}

// MustParse reads the user passed flags, environment variables, and default values.
// Options are validated and panics if an error is returned
func (o *Options) MustParse() *Options {
	err := o.Parse(os.Args[1:])

	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		panic(err)
	}
	if err := o.Validate(); err != nil {
		panic(err)
	}
	return o
}

func (o Options) PresignExpiry() time.Duration {
	return time.Duration(o.PresignExpirySeconds) * time.Second
}

func (o Options) TimeThreshold() time.Duration {
	return time.Duration(o.TimeThresholdMinutes) * time.Minute
}

func (o Options) AccessTokenTTL() time.Duration {
	return time.Duration(o.JWTAccessTokenHours) * time.Hour
}

func (o Options) StuckJobThreshold() time.Duration {
	return time.Duration(o.StuckJobThresholdHours) * time.Hour
}

func (o Options) IsProduction() bool {
	return Environment(o.Environment) == Production
}
