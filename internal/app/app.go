package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/Indexa/internal/config"
	"github.com/markdave123-py/Indexa/internal/core"
	db "github.com/markdave123-py/Indexa/internal/core/database"
	"github.com/markdave123-py/Indexa/internal/core/extraction"
	"github.com/markdave123-py/Indexa/internal/core/ingestion_engine"
	"github.com/markdave123-py/Indexa/internal/core/llm"
	objectclient "github.com/markdave123-py/Indexa/internal/core/object-client"
	"github.com/markdave123-py/Indexa/internal/core/signer"
)

type App struct {
	DBClient     core.DbClient
	ObjectClient core.ObjectClient
	Ingestor     ingestion_engine.Ingestor
	Server       *Server

	cfg *config.Config
}

// NewApp wires the whole service. The database is mandatory; the
// ingestion pipeline is optional and stays disabled until its
// configuration is complete.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	log.Println("Database initialized and ready.")

	var (
		objClient core.ObjectClient
		ing       ingestion_engine.Ingestor
	)
	if err := cfg.PipelineConfigured(); err != nil {
		log.Printf("%v; the API stays up, ingestion endpoints return 503", err)
	} else {
		objClient, err = objectclient.NewS3Client(cfg)
		if err != nil {
			return nil, err
		}
		log.Println("Object client initialized and ready.")

		sg := signer.New(signer.Credentials{
			AccessKey:    cfg.AwsAccessKey,
			SecretKey:    cfg.AwsSecretKey,
			SessionToken: cfg.AwsSession,
		}, cfg.AwsRegion)
		textract := extraction.NewTextractClient(sg, cfg.AwsRegion, "")
		docExtractor := extraction.NewExtractor(objClient, textract, extraction.Config{})

		embedder, err := llm.NewOpenAIEmbedder(cfg)
		if err != nil {
			return nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
		}

		ingCfg := &ingestion_engine.IngestConfig{
			ChunkSize:    cfg.ChunkSize,
			ChunkOverlap: cfg.ChunkOverlap,
			BatchSize:    cfg.EmbedBatchSize,
			Workers:      cfg.IngestWorkers,
			Budget:       cfg.PipelineBudget,
			EmbedModel:   cfg.EmbedModel,
		}
		ing = ingestion_engine.NewDocumentIngestor(dbClient, embedder, docExtractor, ingCfg)
	}

	server := NewServer(cfg, dbClient, objClient, ing)

	return &App{
		DBClient:     dbClient,
		ObjectClient: objClient,
		Ingestor:     ing,
		Server:       server,
		cfg:          cfg,
	}, nil
}

// Run serves HTTP and drains the ingestion queue until ctx is
// cancelled, then shuts the server down cleanly.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.Ingestor != nil {
		if err := a.Ingestor.Start(gctx, a.cfg.IngestWorkers); err != nil {
			return fmt.Errorf("start ingestor: %w", err)
		}
	}

	g.Go(func() error {
		return a.Server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.Server.Shutdown(shutctx)
	})

	return g.Wait()
}

func (a *App) Close() {
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
