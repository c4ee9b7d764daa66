package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"DropTracker/internal/domain"
	"DropTracker/internal/ports"
	"DropTracker/internal/query"
)

// MongoRepository stores each collection as a document collection.
type MongoRepository struct {
	db  *mongo.Database
	now func() time.Time
}

var _ ports.RecordStore = (*MongoRepository)(nil)

// NewMongoRepository wires a database handle.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{db: db, now: time.Now}
}

// OpenMongo connects to uri and verifies the deployment is reachable.
func OpenMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// recordDocument keeps the field names of the existing drop-db documents:
// post_url for the source url, thumb_url for the thumbnail reference.
type recordDocument struct {
	ID              bson.ObjectID `bson:"_id,omitempty"`
	SourceURL       string        `bson:"post_url"`
	Title           string        `bson:"title,omitempty"`
	ThumbnailRef    string        `bson:"thumb_url,omitempty"`
	TopicID         string        `bson:"topic_id,omitempty"`
	Stage           string        `bson:"stage,omitempty"`
	ExtractedLinks  []string      `bson:"extracted_links,omitempty"`
	ExtractedImages []string      `bson:"extracted_images,omitempty"`
	CreatedAt       time.Time     `bson:"created_at"`
}

func (d recordDocument) toDomain(c domain.Collection) domain.TrackedRecord {
	created := d.CreatedAt
	if created.IsZero() {
		created = d.ID.Timestamp()
	}
	topic := d.TopicID
	if topic == "" {
		topic = domain.TopicIDFromURL(d.SourceURL)
	}
	return domain.TrackedRecord{
		ID:              d.ID.Hex(),
		SourceURL:       d.SourceURL,
		Title:           d.Title,
		ThumbnailRef:    d.ThumbnailRef,
		TopicID:         topic,
		Stage:           normalizeStage(c, d.Stage),
		ExtractedLinks:  d.ExtractedLinks,
		ExtractedImages: d.ExtractedImages,
		CreatedAt:       created.UTC(),
	}
}

func parseObjectID(id string) (bson.ObjectID, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return bson.ObjectID{}, domain.NewError(domain.KindInvalidInput, "record id is not a valid object id", nil)
	}
	return oid, nil
}

// documentFilter is the document-store rendering of the plan's predicate.
func documentFilter(plan query.ListPlan) bson.D {
	if plan.StageFilter == nil {
		return bson.D{}
	}
	return bson.D{{Key: "stage", Value: string(*plan.StageFilter)}}
}

func (r *MongoRepository) coll(c domain.Collection) *mongo.Collection {
	return r.db.Collection(c.Table)
}

// List runs the bounded find and the count of plan concurrently.
func (r *MongoRepository) List(ctx context.Context, plan query.ListPlan) ([]domain.TrackedRecord, int64, error) {
	coll := r.coll(plan.Collection)
	filter := documentFilter(plan)

	return listConcurrently(ctx,
		func(ctx context.Context) ([]domain.TrackedRecord, error) {
			opts := options.Find().
				SetSort(bson.D{{Key: "_id", Value: -1}}).
				SetSkip(int64(plan.Offset)).
				SetLimit(int64(plan.Limit))

			cursor, err := coll.Find(ctx, filter, opts)
			if err != nil {
				return nil, domain.Unavailable("find records", err)
			}
			defer cursor.Close(ctx)

			var docs []recordDocument
			if err := cursor.All(ctx, &docs); err != nil {
				return nil, domain.Unavailable("decode records", err)
			}

			items := make([]domain.TrackedRecord, 0, len(docs))
			for _, d := range docs {
				items = append(items, d.toDomain(plan.Collection))
			}
			return items, nil
		},
		func(ctx context.Context) (int64, error) {
			total, err := coll.CountDocuments(ctx, filter)
			if err != nil {
				return 0, domain.Unavailable("count records", err)
			}
			return total, nil
		},
	)
}

// Get loads one document by id.
func (r *MongoRepository) Get(ctx context.Context, c domain.Collection, id string) (domain.TrackedRecord, error) {
	oid, err := parseObjectID(id)
	if err != nil {
		return domain.TrackedRecord{}, err
	}

	var doc recordDocument
	if err := r.coll(c).FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.TrackedRecord{}, notFound(c, id)
		}
		return domain.TrackedRecord{}, domain.Unavailable("get record", err)
	}
	return doc.toDomain(c), nil
}

// UpdateStage sets the stage field of one document, provided it still holds
// from.
func (r *MongoRepository) UpdateStage(ctx context.Context, c domain.Collection, id string, from, next domain.Stage) error {
	oid, err := parseObjectID(id)
	if err != nil {
		return err
	}

	res, err := r.coll(c).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: oid}, stageIs(c, from)},
		bson.D{{Key: "$set", Value: bson.D{{Key: "stage", Value: string(next)}}}},
	)
	if err != nil {
		return domain.Unavailable("update stage", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update stage of %s in %s: %w", id, c.Name, ports.ErrStageChanged)
	}
	return nil
}

// stageIs is the document counterpart of query.StageIs. $nin also matches a
// missing or null stage field.
func stageIs(c domain.Collection, s domain.Stage) bson.E {
	if s != domain.StagePending {
		return bson.E{Key: "stage", Value: string(s)}
	}
	others := make(bson.A, 0, len(c.Workflow.Stages))
	for _, o := range c.Workflow.StagesExcept(s) {
		others = append(others, string(o))
	}
	return bson.E{Key: "stage", Value: bson.D{{Key: "$nin", Value: others}}}
}

// SetExtraction stores the extraction payload on one document.
func (r *MongoRepository) SetExtraction(ctx context.Context, c domain.Collection, id string, ext domain.Extraction) error {
	return r.set(ctx, c, id, "store extraction", bson.D{
		{Key: "extracted_links", Value: ext.Links},
		{Key: "extracted_images", Value: ext.Images},
	})
}

func (r *MongoRepository) set(ctx context.Context, c domain.Collection, id, op string, fields bson.D) error {
	oid, err := parseObjectID(id)
	if err != nil {
		return err
	}

	res, err := r.coll(c).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: oid}},
		bson.D{{Key: "$set", Value: fields}},
	)
	if err != nil {
		return domain.Unavailable(op, err)
	}
	if res.MatchedCount == 0 {
		return notFound(c, id)
	}
	return nil
}

// Delete removes one document.
func (r *MongoRepository) Delete(ctx context.Context, c domain.Collection, id string) error {
	oid, err := parseObjectID(id)
	if err != nil {
		return err
	}

	res, err := r.coll(c).DeleteOne(ctx, bson.D{{Key: "_id", Value: oid}})
	if err != nil {
		return domain.Unavailable("delete record", err)
	}
	if res.DeletedCount == 0 {
		return notFound(c, id)
	}
	return nil
}

// Insert adds a pending document and returns its hex id.
func (r *MongoRepository) Insert(ctx context.Context, c domain.Collection, rec domain.NewRecord) (string, error) {
	coll := r.coll(c)

	if c.UniqueSourceURL {
		n, err := coll.CountDocuments(ctx,
			bson.D{{Key: "post_url", Value: rec.SourceURL}},
			options.Count().SetLimit(1))
		if err != nil {
			return "", domain.Unavailable("duplicate check", err)
		}
		if n > 0 {
			return "", duplicate(c, rec.SourceURL, nil)
		}
	}

	doc := recordDocument{
		ID:           bson.NewObjectID(),
		SourceURL:    rec.SourceURL,
		Title:        rec.Title,
		ThumbnailRef: rec.ThumbnailRef,
		TopicID:      rec.TopicID,
		Stage:        string(domain.StagePending),
		CreatedAt:    r.now().UTC(),
	}
	if _, err := coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", duplicate(c, rec.SourceURL, err)
		}
		return "", domain.Unavailable("insert record", err)
	}
	return doc.ID.Hex(), nil
}

// Ping reports whether the deployment is reachable.
func (r *MongoRepository) Ping(ctx context.Context) error {
	return r.db.Client().Ping(ctx, nil)
}
