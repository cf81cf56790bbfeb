package marketdata

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoDB names for the comparison report archive
const (
	MongoDBName            = "tradermind_market"
	MongoReportsCollection = "comparison_reports"
)

// MongoReportStore archives comparison reports to MongoDB Atlas. It is
// optional: when MONGODB_URI is not set the reporter runs without a
// sink.
type MongoReportStore struct {
	client  *mongo.Client
	reports *mongo.Collection
}

// NewMongoReportStore connects to MongoDB using MONGODB_URI. Returns
// (nil, nil) when the URI is not configured.
func NewMongoReportStore(ctx context.Context) (*MongoReportStore, error) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		log.Println("MONGODB_URI not set, comparison report archive disabled")
		return nil, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("MongoDB ping failed: %w", err)
	}

	log.Println("Connected to MongoDB for comparison report archive")
	return &MongoReportStore{
		client:  client,
		reports: client.Database(MongoDBName).Collection(MongoReportsCollection),
	}, nil
}

// SaveReport inserts one comparison report document.
func (s *MongoReportStore) SaveReport(ctx context.Context, report ComparisonReport) error {
	doc := mongoReportDoc{
		Symbol:      report.Symbol,
		Primary:     report.Primary,
		GeneratedAt: report.GeneratedAt,
		Sources:     report.Sources,
	}
	if _, err := s.reports.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert comparison report: %w", err)
	}
	return nil
}

// RecentReports returns the newest reports for a symbol, most recent
// first.
func (s *MongoReportStore) RecentReports(ctx context.Context, symbol string, limit int64) ([]ComparisonReport, error) {
	opts := options.Find().
		SetSort(map[string]interface{}{"generated_at": -1}).
		SetLimit(limit)

	cursor, err := s.reports.Find(ctx, map[string]interface{}{"symbol": symbol}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query comparison reports: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoReportDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode comparison reports: %w", err)
	}

	out := make([]ComparisonReport, 0, len(docs))
	for _, d := range docs {
		out = append(out, ComparisonReport{
			Symbol:      d.Symbol,
			Primary:     d.Primary,
			GeneratedAt: d.GeneratedAt,
			Sources:     d.Sources,
		})
	}
	return out, nil
}

// Close disconnects the MongoDB client.
func (s *MongoReportStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// mongoReportDoc is the stored form of a comparison report.
type mongoReportDoc struct {
	Symbol      string                   `bson:"symbol"`
	Primary     string                   `bson:"primary"`
	GeneratedAt time.Time                `bson:"generated_at"`
	Sources     map[string]*SourceResult `bson:"sources"`
}
