package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// taskDocument is the persisted layout of a Task.
type taskDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Kind      string             `bson:"kind"`
	Target    string             `bson:"target"`
	Region    string             `bson:"region,omitempty"`
	DueAt     time.Time          `bson:"due_at"`
	Status    TaskStatus         `bson:"status"`
	Attempts  int                `bson:"attempts"`
	LastError string             `bson:"last_error,omitempty"`
	ClaimedAt time.Time          `bson:"claimed_at,omitempty"`
	CreatedAt time.Time          `bson:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

func (d taskDocument) task() Task {
	return Task{
		ID:        d.ID.Hex(),
		Kind:      d.Kind,
		Target:    d.Target,
		Region:    d.Region,
		DueAt:     d.DueAt.UTC(),
		Status:    d.Status,
		Attempts:  d.Attempts,
		LastError: d.LastError,
		ClaimedAt: d.ClaimedAt.UTC(),
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

// MongoTaskQueue stores tasks in a collection of the findings database,
// sharing the MongoRepository connection.
type MongoTaskQueue struct {
	repo       *MongoRepository
	collection string
	lease      time.Duration
}

// NewMongoTaskQueue returns a queue over collection (DefaultTasksCollection
// when empty). repo must be connected before the queue is used.
func NewMongoTaskQueue(repo *MongoRepository, collection string) *MongoTaskQueue {
	if collection == "" {
		collection = DefaultTasksCollection
	}
	return &MongoTaskQueue{repo: repo, collection: collection, lease: DefaultTaskLease}
}

func (q *MongoTaskQueue) op(ctx context.Context) (*mongo.Collection, context.Context, context.CancelFunc, error) {
	db, err := q.repo.Database()
	if err != nil {
		return nil, nil, nil, err
	}
	octx, cancel := context.WithTimeout(ctx, q.repo.OpTimeout())
	return db.Collection(q.collection), octx, cancel, nil
}

// EnsureIndexes creates the due-time index used by ClaimDue.
func (q *MongoTaskQueue) EnsureIndexes(ctx context.Context) error {
	coll, octx, cancel, err := q.op(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	_, err = coll.Indexes().CreateOne(octx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "due_at", Value: 1}},
	})
	return err
}

// Enqueue implements TaskQueue.
func (q *MongoTaskQueue) Enqueue(ctx context.Context, t Task) (string, error) {
	coll, octx, cancel, err := q.op(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	now := time.Now().UTC()
	doc := taskDocument{
		ID:        primitive.NewObjectID(),
		Kind:      t.Kind,
		Target:    t.Target,
		Region:    t.Region,
		DueAt:     t.DueAt.UTC(),
		Status:    TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := coll.InsertOne(octx, doc); err != nil {
		return "", fmt.Errorf("enqueue %s task for %q: %w", t.Kind, t.Target, err)
	}
	return doc.ID.Hex(), nil
}

// claimFilter matches pending tasks that are due and running tasks whose
// lease has expired.
func claimFilter(now time.Time, lease time.Duration) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"status": TaskPending, "due_at": bson.M{"$lte": now}},
		bson.M{"status": TaskRunning, "claimed_at": bson.M{"$lte": now.Add(-lease)}},
	}}
}

// ClaimDue implements TaskQueue with a single FindOneAndUpdate, so two
// workers never claim the same task.
func (q *MongoTaskQueue) ClaimDue(ctx context.Context, now time.Time) (*Task, error) {
	coll, octx, cancel, err := q.op(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	now = now.UTC()
	update := bson.M{
		"$set": bson.M{"status": TaskRunning, "claimed_at": now, "updated_at": now},
		"$inc": bson.M{"attempts": 1},
	}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "due_at", Value: 1}}).
		SetReturnDocument(options.After)

	var doc taskDocument
	err = coll.FindOneAndUpdate(octx, claimFilter(now, q.lease), update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim due task: %w", err)
	}
	t := doc.task()
	return &t, nil
}

func (q *MongoTaskQueue) set(ctx context.Context, id string, fields bson.M) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("parse task id %q: %w", id, err)
	}
	coll, octx, cancel, err := q.op(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	fields["updated_at"] = time.Now().UTC()
	res, err := coll.UpdateOne(octx, bson.M{"_id": oid}, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// Complete implements TaskQueue.
func (q *MongoTaskQueue) Complete(ctx context.Context, id string) error {
	return q.set(ctx, id, bson.M{"status": TaskDone, "last_error": ""})
}

// Reschedule implements TaskQueue.
func (q *MongoTaskQueue) Reschedule(ctx context.Context, id string, dueAt time.Time, lastErr string) error {
	return q.set(ctx, id, bson.M{"status": TaskPending, "due_at": dueAt.UTC(), "last_error": lastErr})
}

// Fail implements TaskQueue.
func (q *MongoTaskQueue) Fail(ctx context.Context, id string, lastErr string) error {
	return q.set(ctx, id, bson.M{"status": TaskFailed, "last_error": lastErr})
}

// Pending implements TaskQueue.
func (q *MongoTaskQueue) Pending(ctx context.Context) ([]Task, error) {
	coll, octx, cancel, err := q.op(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	filter := bson.M{"status": bson.M{"$in": bson.A{TaskPending, TaskRunning}}}
	cur, err := coll.Find(octx, filter, options.Find().SetSort(bson.D{{Key: "due_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	var docs []taskDocument
	if err := cur.All(octx, &docs); err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	out := make([]Task, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.task())
	}
	return out, nil
}
