// Package legacy imports analysis data from the previous MongoDB deployment
// so cached results and historical reports survive the migration to MySQL.
package legacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	appcfg "github.com/shiftsight/core/internal/config"
	"github.com/shiftsight/core/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const insertChunkSize = 500

// Summary reports what one import run brought over.
type Summary struct {
	CacheEntries int `json:"cache_entries"`
	Reports      int `json:"reports"`
}

type Importer struct {
	db  *gorm.DB
	cfg appcfg.LegacyMongoConfig
	log *zap.Logger
}

func NewImporter(db *gorm.DB, cfg appcfg.LegacyMongoConfig, log *zap.Logger) *Importer {
	return &Importer{db: db, cfg: cfg, log: log}
}

// Run copies the legacy cache and report collections into MySQL. The run is
// idempotent: cache entries collide on their content key and are skipped,
// reports are keyed by their legacy object id.
func (i *Importer) Run(ctx context.Context) (*Summary, error) {
	if i.cfg.URI == "" {
		return nil, errors.New("legacy mongo uri is not configured")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(i.cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect legacy mongo: %w", err)
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			i.log.Warn("legacy mongo disconnect failed", zap.Error(err))
		}
	}()

	db := client.Database(i.cfg.Database)
	summary := &Summary{}

	if summary.CacheEntries, err = i.importCaches(ctx, db); err != nil {
		return nil, err
	}
	if summary.Reports, err = i.importReports(ctx, db); err != nil {
		return nil, err
	}

	i.log.Info("legacy import finished",
		zap.Int("cache_entries", summary.CacheEntries),
		zap.Int("reports", summary.Reports))
	return summary, nil
}

type legacyCacheDoc struct {
	RowHash        string    `bson:"rowHash"`
	AnalysisResult bson.M    `bson:"analysisResult"`
	ModelVersion   string    `bson:"modelVersion"`
	PromptVersion  string    `bson:"promptVersion"`
	CreatedAt      time.Time `bson:"createdAt"`
}

func (i *Importer) importCaches(ctx context.Context, db *mongo.Database) (int, error) {
	cursor, err := db.Collection("csvanalysiscaches").Find(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("query legacy caches: %w", err)
	}
	defer cursor.Close(ctx)

	imported := 0
	chunk := make([]models.AnalysisCacheModel, 0, insertChunkSize)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		err := i.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&chunk).Error
		if err != nil {
			return fmt.Errorf("insert legacy cache entries: %w", err)
		}
		imported += len(chunk)
		chunk = chunk[:0]
		return nil
	}

	for cursor.Next(ctx) {
		var doc legacyCacheDoc
		if err := cursor.Decode(&doc); err != nil {
			return imported, fmt.Errorf("decode legacy cache entry: %w", err)
		}
		if doc.RowHash == "" {
			continue
		}

		result, err := bson.MarshalExtJSON(doc.AnalysisResult, false, false)
		if err != nil {
			i.log.Warn("skipping legacy cache entry with unreadable result",
				zap.String("row_hash", doc.RowHash),
				zap.Error(err))
			continue
		}
		chunk = append(chunk, models.AnalysisCacheModel{
			RowHash:        doc.RowHash,
			ModelVersion:   doc.ModelVersion,
			PromptVersion:  doc.PromptVersion,
			AnalysisResult: string(result),
			CreatedAt:      doc.CreatedAt,
		})
		if len(chunk) == insertChunkSize {
			if err := flush(); err != nil {
				return imported, err
			}
		}
	}
	if err := cursor.Err(); err != nil {
		return imported, fmt.Errorf("iterate legacy caches: %w", err)
	}
	return imported, flush()
}

type legacyReportDoc struct {
	ObjectID   interface{} `bson:"_id"`
	UploadedBy interface{} `bson:"uploadedBy"`
	FileName   string      `bson:"fileName"`
	TotalRows  int         `bson:"totalRows"`
	CachedRows int         `bson:"cachedRows"`
	FreshRows  int         `bson:"freshRows"`
	Results    []bson.M    `bson:"results"`
	CreatedAt  time.Time   `bson:"createdAt"`
}

func (i *Importer) importReports(ctx context.Context, db *mongo.Database) (int, error) {
	cursor, err := db.Collection("csvanalysisreports").Find(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("query legacy reports: %w", err)
	}
	defer cursor.Close(ctx)

	imported := 0
	for cursor.Next(ctx) {
		var doc legacyReportDoc
		if err := cursor.Decode(&doc); err != nil {
			return imported, fmt.Errorf("decode legacy report: %w", err)
		}

		report := models.AnalysisReportModel{
			OwnerID:    legacyIDString(doc.UploadedBy),
			FileName:   doc.FileName,
			TotalRows:  doc.TotalRows,
			CachedRows: doc.CachedRows,
			FreshRows:  doc.FreshRows,
			Results:    convertLegacyResults(doc.Results),
		}
		report.ID = legacyIDString(doc.ObjectID)
		report.CreatedAt = doc.CreatedAt

		err := i.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&report).Error
		if err != nil {
			return imported, fmt.Errorf("insert legacy report: %w", err)
		}
		imported++
	}
	if err := cursor.Err(); err != nil {
		return imported, fmt.Errorf("iterate legacy reports: %w", err)
	}
	return imported, nil
}

// legacyIDString renders a legacy identifier, which is usually an ObjectID
// but occasionally a plain string in very old documents.
func legacyIDString(v interface{}) string {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex()
	case string:
		return id
	default:
		return fmt.Sprintf("%v", v)
	}
}

// convertLegacyResults reshapes the old flattened result entries, where the
// row fields and the analysis lived side by side in one document.
func convertLegacyResults(entries []bson.M) []models.RowResult {
	results := make([]models.RowResult, 0, len(entries))
	for _, entry := range entries {
		result := models.RowResult{Fields: make(map[string]string)}
		for key, value := range entry {
			switch key {
			case "id":
				result.ID = fmt.Sprintf("%v", value)
			case "analysis_result":
				if raw, err := bson.MarshalExtJSON(bson.M{"v": value}, false, false); err == nil {
					var wrapper struct {
						V json.RawMessage `json:"v"`
					}
					if json.Unmarshal(raw, &wrapper) == nil {
						result.Analysis = wrapper.V
					}
				}
			default:
				result.Fields[key] = fmt.Sprintf("%v", value)
			}
		}
		results = append(results, result)
	}
	return results
}
