package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
)

// Mongo defaults.
const (
	DefaultDatabase        = "csmp_findings"
	DefaultCollection      = "s3_audit_findings"
	DefaultTasksCollection = "scheduled_tasks"
	DefaultConnectAttempts = 3
	DefaultConnectDelay    = 2 * time.Second
	DefaultOpTimeout       = 10 * time.Second
)

// MongoOptions configures a MongoRepository.
type MongoOptions struct {
	URI             string
	Database        string
	Collection      string
	ConnectAttempts int
	ConnectDelay    time.Duration
	OpTimeout       time.Duration
}

func (o MongoOptions) withDefaults() MongoOptions {
	if o.Database == "" {
		o.Database = DefaultDatabase
	}
	if o.Collection == "" {
		o.Collection = DefaultCollection
	}
	if o.ConnectAttempts <= 0 {
		o.ConnectAttempts = DefaultConnectAttempts
	}
	if o.ConnectDelay < 0 {
		o.ConnectDelay = 0
	} else if o.ConnectDelay == 0 {
		o.ConnectDelay = DefaultConnectDelay
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = DefaultOpTimeout
	}
	return o
}

// MongoRepository is the MongoDB-backed Repository.
type MongoRepository struct {
	opts   MongoOptions
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	client *mongo.Client
	db     *mongo.Database
	coll   *mongo.Collection
}

// NewMongoRepository returns an unconnected repository. Call Connect before
// use.
func NewMongoRepository(opts MongoOptions, logger *slog.Logger) *MongoRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &MongoRepository{opts: opts.withDefaults(), logger: logger, now: time.Now}
}

// Connect dials the server and verifies it with a ping, retrying a bounded
// number of times with a fixed delay. Indexes are ensured on success.
func (r *MongoRepository) Connect(ctx context.Context) error {
	if r.opts.URI == "" {
		return fmt.Errorf("connect findings store: %w: no connection string configured", ErrNotInitialized)
	}

	var lastErr error
	for attempt := 1; attempt <= r.opts.ConnectAttempts; attempt++ {
		client, err := r.dial(ctx)
		if err == nil {
			db := client.Database(r.opts.Database)
			r.mu.Lock()
			r.client = client
			r.db = db
			r.coll = db.Collection(r.opts.Collection)
			r.mu.Unlock()
			if err := r.ensureIndexes(ctx); err != nil {
				r.logger.Warn("ensure findings indexes failed", "error", err)
			}
			r.logger.Info("connected to findings store", "database", r.opts.Database, "collection", r.opts.Collection, "attempt", attempt)
			return nil
		}
		lastErr = err
		r.logger.Warn("findings store connection attempt failed", "attempt", attempt, "max_attempts", r.opts.ConnectAttempts, "error", err)
		if attempt == r.opts.ConnectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("connect findings store: %w", ctx.Err())
		case <-time.After(r.opts.ConnectDelay):
		}
	}
	return fmt.Errorf("connect findings store after %d attempts: %w", r.opts.ConnectAttempts, lastErr)
}

func (r *MongoRepository) dial(ctx context.Context) (*mongo.Client, error) {
	cctx, cancel := context.WithTimeout(ctx, r.opts.OpTimeout)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(r.opts.URI).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})
	client, err := mongo.Connect(cctx, clientOpts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

func (r *MongoRepository) ensureIndexes(ctx context.Context) error {
	coll, err := r.collection()
	if err != nil {
		return err
	}
	ictx, cancel := context.WithTimeout(ctx, r.opts.OpTimeout)
	defer cancel()
	_, err = coll.Indexes().CreateMany(ictx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "resource_key", Value: 1}, {Key: "finding_id", Value: 1}}},
		{Keys: bson.D{{Key: "finding_id", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
	})
	return err
}

// Close disconnects. Closing an unconnected repository is a no-op.
func (r *MongoRepository) Close(ctx context.Context) error {
	r.mu.Lock()
	client := r.client
	r.client, r.db, r.coll = nil, nil, nil
	r.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Disconnect(ctx)
}

// Ping checks the live connection.
func (r *MongoRepository) Ping(ctx context.Context) error {
	r.mu.RLock()
	client := r.client
	r.mu.RUnlock()
	if client == nil {
		return ErrNotInitialized
	}
	pctx, cancel := context.WithTimeout(ctx, r.opts.OpTimeout)
	defer cancel()
	return client.Ping(pctx, nil)
}

// Database returns the connected database, for collaborators such as the
// task queue that share the connection.
func (r *MongoRepository) Database() (*mongo.Database, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.db == nil {
		return nil, ErrNotInitialized
	}
	return r.db, nil
}

// OpTimeout is the per-operation timeout.
func (r *MongoRepository) OpTimeout() time.Duration {
	return r.opts.OpTimeout
}

func (r *MongoRepository) collection() (*mongo.Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.coll == nil {
		return nil, ErrNotInitialized
	}
	return r.coll, nil
}

func (r *MongoRepository) op(ctx context.Context) (*mongo.Collection, context.Context, context.CancelFunc, error) {
	coll, err := r.collection()
	if err != nil {
		return nil, nil, nil, err
	}
	octx, cancel := context.WithTimeout(ctx, r.opts.OpTimeout)
	return coll, octx, cancel, nil
}

// Upsert implements Repository.
func (r *MongoRepository) Upsert(ctx context.Context, f models.Finding, resourceKey string) (string, error) {
	coll, octx, cancel, err := r.op(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	now := r.now().UTC()
	doc := newFindingDocument(models.NewStoredFinding(f, resourceKey, now))
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After).
		SetProjection(bson.M{"_id": 1})

	var out struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	err = coll.FindOneAndUpdate(octx, upsertFilter(resourceKey, f.FindingID), upsertUpdate(doc, now), opts).Decode(&out)
	if err != nil {
		return "", fmt.Errorf("upsert finding %s for %q: %w", f.FindingID, resourceKey, err)
	}
	return out.ID.Hex(), nil
}

// Insert implements Repository.
func (r *MongoRepository) Insert(ctx context.Context, f models.Finding, resourceKey string) (string, error) {
	coll, octx, cancel, err := r.op(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	doc := newFindingDocument(models.NewStoredFinding(f, resourceKey, r.now().UTC()))
	doc.ID = primitive.NewObjectID()
	if _, err := coll.InsertOne(octx, doc); err != nil {
		return "", fmt.Errorf("insert finding %s for %q: %w", f.FindingID, resourceKey, err)
	}
	return doc.ID.Hex(), nil
}

func (r *MongoRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.StoredFinding, error) {
	coll, octx, cancel, err := r.op(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	cur, err := coll.Find(octx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []findingDocument
	if err := cur.All(octx, &docs); err != nil {
		return nil, err
	}
	out := make([]models.StoredFinding, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

// FindByResourceKey implements Repository.
func (r *MongoRepository) FindByResourceKey(ctx context.Context, key string, limit int) ([]models.StoredFinding, error) {
	opts := options.Find().SetSort(newestFirst)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	out, err := r.find(ctx, bson.M{"resource_key": key}, opts)
	if err != nil {
		return nil, fmt.Errorf("find findings for %q: %w", key, err)
	}
	return out, nil
}

// FindRecent implements Repository.
func (r *MongoRepository) FindRecent(ctx context.Context, limit int) ([]models.StoredFinding, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	out, err := r.find(ctx, bson.M{}, options.Find().SetSort(newestFirst).SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("find recent findings: %w", err)
	}
	return out, nil
}

// FindByID implements Repository. id is an ObjectID hex or a finding id;
// for a finding id the newest entry is returned.
func (r *MongoRepository) FindByID(ctx context.Context, id string) (*models.StoredFinding, error) {
	coll, octx, cancel, err := r.op(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var doc findingDocument
	err = coll.FindOne(octx, idFilter(id), options.FindOne().SetSort(newestFirst)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find finding %q: %w", id, err)
	}
	sf := doc.model()
	return &sf, nil
}

// List implements Repository.
func (r *MongoRepository) List(ctx context.Context, f Filter, p Page) ([]models.StoredFinding, int64, error) {
	total, err := r.CountMatching(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	p = p.Normalize()
	opts := options.Find().SetSort(newestFirst).SetSkip(p.Skip()).SetLimit(int64(p.Limit))
	items, err := r.find(ctx, filterDocument(f), opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list findings: %w", err)
	}
	return items, total, nil
}

// DeleteByResourceKey implements Repository.
func (r *MongoRepository) DeleteByResourceKey(ctx context.Context, key string) (int64, error) {
	coll, octx, cancel, err := r.op(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()

	res, err := coll.DeleteMany(octx, bson.M{"resource_key": key})
	if err != nil {
		return 0, fmt.Errorf("delete findings for %q: %w", key, err)
	}
	return res.DeletedCount, nil
}

// DeleteByIDs implements Repository.
func (r *MongoRepository) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		if _, err := r.collection(); err != nil {
			return 0, err
		}
		return 0, nil
	}
	oids, err := objectIDs(ids)
	if err != nil {
		return 0, err
	}
	coll, octx, cancel, err := r.op(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()

	res, err := coll.DeleteMany(octx, bson.M{"_id": bson.M{"$in": oids}})
	if err != nil {
		return 0, fmt.Errorf("delete %d findings: %w", len(ids), err)
	}
	return res.DeletedCount, nil
}

// DistinctResourceKeys implements Repository. Entries written before
// resource_kind existed are matched through their service label.
func (r *MongoRepository) DistinctResourceKeys(ctx context.Context, kind models.ResourceKind) ([]string, error) {
	coll, octx, cancel, err := r.op(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	filter := bson.M{}
	if kind != "" {
		filter = bson.M{"$or": bson.A{
			bson.M{"resource_kind": string(kind)},
			bson.M{"resource_kind": bson.M{"$exists": false}, "service": kind.Service()},
		}}
	}
	values, err := coll.Distinct(octx, "resource_key", filter)
	if err != nil {
		return nil, fmt.Errorf("distinct resource keys: %w", err)
	}
	keys := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			keys = append(keys, s)
		}
	}
	return keys, nil
}

// CountMatching implements Repository.
func (r *MongoRepository) CountMatching(ctx context.Context, f Filter) (int64, error) {
	coll, octx, cancel, err := r.op(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()

	n, err := coll.CountDocuments(octx, filterDocument(f))
	if err != nil {
		return 0, fmt.Errorf("count findings: %w", err)
	}
	return n, nil
}

// CountBy implements Repository.
func (r *MongoRepository) CountBy(ctx context.Context, field string, f Filter) ([]GroupCount, error) {
	pipeline, err := countByPipeline(field, f)
	if err != nil {
		return nil, err
	}
	coll, octx, cancel, err := r.op(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	cur, err := coll.Aggregate(octx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("count findings by %s: %w", field, err)
	}
	var rows []struct {
		Value any   `bson:"_id"`
		Count int64 `bson:"count"`
	}
	if err := cur.All(octx, &rows); err != nil {
		return nil, fmt.Errorf("count findings by %s: %w", field, err)
	}
	out := make([]GroupCount, 0, len(rows))
	for _, row := range rows {
		value := ""
		if s, ok := row.Value.(string); ok {
			value = s
		}
		out = append(out, GroupCount{Value: value, Count: row.Count})
	}
	return out, nil
}

// Timeline implements Repository.
func (r *MongoRepository) Timeline(ctx context.Context, since time.Time) ([]TimelinePoint, error) {
	coll, octx, cancel, err := r.op(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	cur, err := coll.Aggregate(octx, timelinePipeline(since))
	if err != nil {
		return nil, fmt.Errorf("findings timeline: %w", err)
	}
	var rows []struct {
		Date     string `bson:"_id"`
		Total    int64  `bson:"total"`
		Critical int64  `bson:"critical"`
		High     int64  `bson:"high"`
		Medium   int64  `bson:"medium"`
		Low      int64  `bson:"low"`
	}
	if err := cur.All(octx, &rows); err != nil {
		return nil, fmt.Errorf("findings timeline: %w", err)
	}
	out := make([]TimelinePoint, 0, len(rows))
	for _, row := range rows {
		out = append(out, TimelinePoint(row))
	}
	return out, nil
}

// UpdateStatus implements Repository.
func (r *MongoRepository) UpdateStatus(ctx context.Context, id string, status models.FindingStatus) error {
	if !status.Valid() {
		return fmt.Errorf("update status: invalid status %q", status)
	}
	coll, octx, cancel, err := r.op(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	res, err := coll.UpdateMany(octx, idFilter(id), bson.M{"$set": bson.M{"status": status, "updated_at": r.now().UTC()}})
	if err != nil {
		return fmt.Errorf("update status of %q: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
