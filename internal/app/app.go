// Package app wires configuration, the credential manager, the document
// store provider and the upload orchestrator together.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"

	"github.com/jun/gophstore/internal/adapter"
	"github.com/jun/gophstore/internal/adapter/firestore"
	"github.com/jun/gophstore/internal/adapter/memory"
	"github.com/jun/gophstore/internal/auth"
	"github.com/jun/gophstore/internal/codec"
	"github.com/jun/gophstore/internal/config"
	"github.com/jun/gophstore/internal/crypto"
	"github.com/jun/gophstore/internal/lease"
	"github.com/jun/gophstore/internal/logger"
	"github.com/jun/gophstore/internal/secret"
	"github.com/jun/gophstore/internal/upload"
)

// App holds the wired dependencies of one signed-in client.
type App struct {
	cfg      *config.Config
	tokens   *auth.Manager
	provider adapter.Provider
	locker   lease.Locker
	log      zerolog.Logger
}

// Option overrides a dependency NewApp would otherwise build itself.
type Option func(*deps)

type deps struct {
	http     *http.Client
	resolver secret.Resolver
	aws      *aws.Config
}

// WithHTTPClient sets the client used for the identity, token and document
// endpoints.
func WithHTTPClient(hc *http.Client) Option {
	return func(d *deps) { d.http = hc }
}

// WithResolver replaces the secret resolver chosen from DevMode.
func WithResolver(r secret.Resolver) Option {
	return func(d *deps) { d.resolver = r }
}

// WithAWSConfig skips loading the default AWS configuration.
func WithAWSConfig(c aws.Config) Option {
	return func(d *deps) { d.aws = &c }
}

// NewApp loads configuration from the environment and builds an App.
func NewApp(ctx context.Context, opts ...Option) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg, opts...)
}

// New builds an App from cfg.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	d := &deps{}
	for _, opt := range opts {
		opt(d)
	}
	log := logger.Named("app")

	awsCfg := func() (aws.Config, error) {
		if d.aws == nil {
			c, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return aws.Config{}, fmt.Errorf("unable to load AWS config: %w", err)
			}
			d.aws = &c
		}
		return *d.aws, nil
	}

	// ---------- Secret Resolver ----------
	resolver := d.resolver
	if resolver == nil {
		env := secret.NewEnvResolver("GOPHSTORE_")
		if cfg.DevMode {
			resolver = env
			log.Info().Msg("using EnvResolver (DEV_MODE)")
		} else {
			ac, err := awsCfg()
			if err != nil {
				return nil, err
			}
			resolver = secret.ChainResolver{secret.NewSSMResolver(ssm.NewFromConfig(ac)), env}
		}
	}
	apiKey, err := resolver.GetSecret(ctx, cfg.APIKeyParam)
	if err != nil {
		return nil, fmt.Errorf("resolve API key: %w", err)
	}

	// ---------- Credential Store ----------
	var dynamoClient *dynamodb.Client
	dynamo := func() (*dynamodb.Client, error) {
		if dynamoClient == nil {
			ac, err := awsCfg()
			if err != nil {
				return nil, err
			}
			dynamoClient = dynamodb.NewFromConfig(ac)
		}
		return dynamoClient, nil
	}

	var store auth.Store = auth.NewMemoryStore()
	if cfg.CredentialsTable != "" {
		client, err := dynamo()
		if err != nil {
			return nil, err
		}
		var enc crypto.Encryptor
		if cfg.DevMode {
			enc = crypto.NewMockEncryptor()
			log.Info().Msg("using MockEncryptor (DEV_MODE)")
		} else {
			ac, err := awsCfg()
			if err != nil {
				return nil, err
			}
			enc = crypto.NewKMSService(kms.NewFromConfig(ac), cfg.KMSKeyID)
		}
		store = auth.NewDynamoStore(client, cfg.CredentialsTable, cfg.SessionKey, enc)
		log.Info().Str("table", cfg.CredentialsTable).Msg("using DynamoDB credential store")
	}

	tokens := auth.NewManager(store, auth.Config{
		APIKey:       apiKey,
		IdentityURL:  cfg.IdentityURL,
		TokenURL:     cfg.TokenURL,
		HTTPClient:   d.http,
		TTL:          cfg.TokenTTL,
		SafetyMargin: cfg.SafetyMargin,
	}, auth.WithLogger(logger.Named("auth")))

	// ---------- Document Store ----------
	var provider adapter.Provider
	if cfg.DevMode {
		provider = memory.NewProvider()
		log.Info().Msg("using in-memory document store (DEV_MODE)")
	} else {
		fsOpts := []firestore.Option{
			firestore.WithTokenSource(tokens),
			firestore.WithLogger(logger.Named("firestore")),
		}
		if cfg.FirestoreURL != "" {
			fsOpts = append(fsOpts, firestore.WithBaseURL(cfg.FirestoreURL))
		}
		if cfg.Database != "" {
			fsOpts = append(fsOpts, firestore.WithDatabase(cfg.Database))
		}
		if d.http != nil {
			fsOpts = append(fsOpts, firestore.WithHTTPClient(d.http))
		}
		provider = firestore.NewProvider(firestore.NewClient(cfg.ProjectID, fsOpts...), cfg.CollectionRoot)
	}

	// ---------- Upload Leases ----------
	var locker lease.Locker
	switch {
	case cfg.LeaseTable != "":
		client, err := dynamo()
		if err != nil {
			return nil, err
		}
		locker = lease.NewDynamoLocker(client, cfg.LeaseTable)
	case cfg.DevMode:
		locker = lease.NewMockLocker()
	}

	return &App{
		cfg:      cfg,
		tokens:   tokens,
		provider: provider,
		locker:   locker,
		log:      log,
	}, nil
}

// Tokens returns the credential manager.
func (a *App) Tokens() *auth.Manager { return a.tokens }

// SignIn authenticates and stores the resulting credential.
func (a *App) SignIn(ctx context.Context, email, password string) (auth.Credential, error) {
	return a.tokens.SignIn(ctx, email, password)
}

// Collection returns the signed-in owner's collection named sub.
func (a *App) Collection(ctx context.Context, sub string) (adapter.Collection, error) {
	owner, err := a.tokens.Owner(ctx)
	if err != nil {
		return nil, err
	}
	return a.provider.Collection(ctx, owner, sub)
}

// Upload runs the orchestrator over the owner's collection sub with the
// configured pacing. A stale token is refreshed once before the first write.
// Invalid tuning and empty input return before any network call.
func (a *App) Upload(ctx context.Context, sub string, records []codec.Record, opts ...upload.Option) (upload.Stats, error) {
	if err := a.cfg.Upload.Validate(); err != nil {
		return upload.Stats{}, err
	}
	if len(records) == 0 {
		return upload.Stats{}, nil
	}
	if _, err := a.tokens.GetValidToken(ctx); err != nil {
		if auth.IsTerminal(err) {
			return upload.Stats{}, fmt.Errorf("%w: %w", upload.ErrReauthenticationRequired, err)
		}
		return upload.Stats{}, err
	}
	col, err := a.Collection(ctx, sub)
	if err != nil {
		return upload.Stats{}, err
	}

	base := []upload.Option{
		upload.WithRefresher(a.tokens),
		upload.WithLogger(logger.Named("upload")),
	}
	if a.locker != nil {
		base = append(base, upload.WithLease(a.locker, col.Path()))
	}
	return upload.New(col, append(base, opts...)...).Run(ctx, records, a.cfg.Upload)
}

// Health reports whether the current credential is usable and accepted by
// the identity service.
func (a *App) Health(ctx context.Context) error {
	token, err := a.tokens.GetValidToken(ctx)
	if err != nil {
		return err
	}
	ok, err := a.tokens.Validate(ctx, token)
	if err != nil {
		return fmt.Errorf("validate token: %w", err)
	}
	if !ok {
		return auth.ErrTokenExpired
	}
	return nil
}
