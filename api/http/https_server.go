package http

import (
	"context"

	"KnowBase/internal/config"
	"KnowBase/internal/initial"
	kbService "KnowBase/internal/modules/kb/application/service"
	"KnowBase/internal/modules/kb/infrastructure/extract"
	"KnowBase/internal/modules/kb/infrastructure/loader"
	"KnowBase/internal/modules/kb/infrastructure/persistence"
	"KnowBase/internal/modules/kb/infrastructure/pipeline"
	"KnowBase/internal/modules/kb/infrastructure/splitting"
	"KnowBase/internal/modules/kb/infrastructure/vectordb"
	kbHandler "KnowBase/internal/modules/kb/interface/http"
	"KnowBase/pkg/ssl"
	"KnowBase/pkg/zlog"

	cors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var GE *gin.Engine

func init() {
	conf := config.GetConfig()

	GE = gin.Default()
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	GE.Use(cors.New(corsConfig))
	GE.Use(ssl.TlsHandler(conf.MainConfig.Host, conf.MainConfig.Port))

	kbRepo := persistence.NewKnowledgeBaseRepository(initial.GormDB)
	modelRepo := persistence.NewModelRepository(initial.GormDB)

	vs, err := vectordb.NewMilvusStore(initial.MilvusClient)
	if err != nil {
		zlog.Fatal("milvus store init failed: " + err.Error())
	}

	extractor := extract.NewExtractor(conf.StorageConfig.TempDir)
	ldr := loader.NewDirectoryLoader()
	selector, err := splitting.NewSelector(context.Background(), conf.IngestConfig)
	if err != nil {
		zlog.Fatal("splitter init failed: " + err.Error())
	}

	ingest, err := pipeline.NewIngestPipeline(kbRepo, vs, extractor, ldr, selector, nil, conf.IngestConfig.EmbedBatchSize)
	if err != nil {
		zlog.Fatal("ingest pipeline init failed: " + err.Error())
	}
	retrieve, err := pipeline.NewRetrievePipeline(kbRepo, modelRepo, vs, nil, conf.RAGConfig.DefaultTopK)
	if err != nil {
		zlog.Fatal("retrieve pipeline init failed: " + err.Error())
	}

	kbSvc := kbService.NewKBService(kbRepo, modelRepo, vs, ingest)
	modelSvc := kbService.NewModelService(modelRepo)
	ragSvc := kbService.NewRAGService(modelRepo, retrieve, nil)
	genSvc := kbService.NewGenerationService(
		kbRepo, modelRepo, retrieve, nil,
		conf.StorageConfig.SummaryDir,
		conf.RAGConfig.SummarySizeThreshold,
		conf.RAGConfig.SummaryTopK,
	)
	kgSvc := kbService.NewKGService(kbRepo, modelRepo, extractor, nil, conf.StorageConfig.GraphDir)

	kbH := kbHandler.NewKBHandler(kbSvc, genSvc, kgSvc, conf.StorageConfig.UploadDir)
	modelH := kbHandler.NewModelHandler(modelSvc)
	ragH := kbHandler.NewRAGHandler(ragSvc)

	GE.GET("/health", func(c *gin.Context) {
		milvusOK := vs.Ping(c.Request.Context()) == nil
		c.JSON(200, gin.H{"status": "ok", "milvus": milvusOK})
	})

	api := GE.Group("/api")

	api.POST("/knowledgebases", kbH.Create)
	api.GET("/knowledgebases", kbH.List)
	api.GET("/knowledgebases/:id", kbH.Get)
	api.PUT("/knowledgebases/:id", kbH.Update)
	api.DELETE("/knowledgebases/:id", kbH.Delete)
	api.POST("/knowledgebases/:id/upload", kbH.Upload)
	api.POST("/knowledgebases/:id/parse", kbH.StartParsing)
	api.POST("/knowledgebases/:id/cancel", kbH.CancelParsing)
	api.POST("/knowledgebases/:id/generate_summary", kbH.GenerateSummary)
	api.POST("/knowledgebases/:id/generate_graph", kbH.GenerateGraph)

	api.POST("/models", modelH.Create)
	api.GET("/models", modelH.List)
	api.GET("/models/:id", modelH.Get)
	api.PUT("/models/:id", modelH.Update)
	api.DELETE("/models/:id", modelH.Delete)

	api.POST("/rag/query", ragH.Query)
	api.POST("/rag/retrieve", ragH.Retrieve)
}
