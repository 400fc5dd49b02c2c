package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/formation-gds/coursedesk/internal/api"
	"github.com/formation-gds/coursedesk/internal/services"
)

// MongoStore keeps each record type in its own collection, with the document
// _id carrying the natural key (docId, courseId, uid).
type MongoStore struct {
	questions   *mongo.Collection
	courses     *mongo.Collection
	users       *mongo.Collection
	credentials *mongo.Collection
	audit       *mongo.Collection
}

const mongoOpTimeout = 10 * time.Second

// ConnectMongo dials the cluster and verifies it answers before handing the
// client back.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

func NewMongoStore(ctx context.Context, database *mongo.Database) (*MongoStore, error) {
	if database == nil {
		return nil, errors.New("nil database")
	}
	s := &MongoStore{
		questions:   database.Collection("questions"),
		courses:     database.Collection("courses"),
		users:       database.Collection("users"),
		credentials: database.Collection("credentials"),
		audit:       database.Collection("audit_log"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

var _ api.Store = (*MongoStore)(nil)

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.questions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}},
		{Keys: bson.D{{Key: "courseId", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("question indexes: %w", err)
	}
	unique := options.Index().SetUnique(true)
	_, err = s.credentials.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "email", Value: 1}}, Options: unique,
	})
	if err != nil {
		return fmt.Errorf("credential index: %w", err)
	}
	return nil
}

func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), mongoOpTimeout)
}

func (s *MongoStore) InsertQuestion(q *api.Question) (*api.Question, error) {
	ctx, cancel := opCtx()
	defer cancel()
	if _, err := s.questions.InsertOne(ctx, q); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, services.NewConflictError("question exists")
		}
		return nil, fmt.Errorf("insert question: %w", err)
	}
	out := *q
	return &out, nil
}

func (s *MongoStore) GetQuestion(docID string) (*api.Question, error) {
	ctx, cancel := opCtx()
	defer cancel()
	var q api.Question
	err := s.questions.FindOne(ctx, bson.M{"_id": docID}).Decode(&q)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}
	return &q, nil
}

func (s *MongoStore) FindQuestionByLegacyID(id string) (*api.Question, error) {
	ctx, cancel := opCtx()
	defer cancel()
	var q api.Question
	err := s.questions.FindOne(ctx, bson.M{"id": id}).Decode(&q)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find question by legacy id: %w", err)
	}
	return &q, nil
}

func (s *MongoStore) UpdateQuestion(q *api.Question) error {
	ctx, cancel := opCtx()
	defer cancel()
	res, err := s.questions.ReplaceOne(ctx, bson.M{"_id": q.DocID}, q)
	if err != nil {
		return fmt.Errorf("update question: %w", err)
	}
	if res.MatchedCount == 0 {
		return services.NewNotFoundError("question not found")
	}
	return nil
}

func (s *MongoStore) DeleteQuestion(docID string) error {
	ctx, cancel := opCtx()
	defer cancel()
	res, err := s.questions.DeleteOne(ctx, bson.M{"_id": docID})
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if res.DeletedCount == 0 {
		return services.NewNotFoundError("question not found")
	}
	return nil
}

func (s *MongoStore) ListQuestions(courseIDs []string, limit int) ([]*api.Question, error) {
	ctx, cancel := opCtx()
	defer cancel()
	filter := bson.M{}
	if len(courseIDs) > 0 {
		lowered := make([]string, 0, len(courseIDs))
		for _, id := range courseIDs {
			lowered = append(lowered, strings.ToLower(id))
		}
		filter["courseId"] = bson.M{"$in": lowered}
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.questions.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer cur.Close(ctx)
	out := []*api.Question{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	return out, nil
}

func (s *MongoStore) GetCourse(id string) (*api.Course, error) {
	ctx, cancel := opCtx()
	defer cancel()
	var c api.Course
	err := s.courses.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}
	return &c, nil
}

// UpsertCourse is a replace-with-upsert so concurrent auto-creation of the
// same course converges on a single document.
func (s *MongoStore) UpsertCourse(c *api.Course) error {
	ctx, cancel := opCtx()
	defer cancel()
	opts := options.Replace().SetUpsert(true)
	if _, err := s.courses.ReplaceOne(ctx, bson.M{"_id": c.CourseID}, c, opts); err != nil {
		return fmt.Errorf("upsert course: %w", err)
	}
	return nil
}

func (s *MongoStore) DeleteCourse(id string) error {
	ctx, cancel := opCtx()
	defer cancel()
	if _, err := s.courses.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	return nil
}

func (s *MongoStore) ListCourses() ([]*api.Course, error) {
	ctx, cancel := opCtx()
	defer cancel()
	cur, err := s.courses.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer cur.Close(ctx)
	out := []*api.Course{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode courses: %w", err)
	}
	return out, nil
}

func (s *MongoStore) GetUser(uid string) (*api.User, error) {
	ctx, cancel := opCtx()
	defer cancel()
	var u api.User
	err := s.users.FindOne(ctx, bson.M{"_id": uid}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *MongoStore) ListUsers() ([]*api.User, error) {
	ctx, cancel := opCtx()
	defer cancel()
	cur, err := s.users.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "email", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer cur.Close(ctx)
	out := []*api.User{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return out, nil
}

func (s *MongoStore) UpsertUser(u *api.User) error {
	ctx, cancel := opCtx()
	defer cancel()
	opts := options.Replace().SetUpsert(true)
	if _, err := s.users.ReplaceOne(ctx, bson.M{"_id": u.UID}, u, opts); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *MongoStore) DeleteUser(uid string) error {
	ctx, cancel := opCtx()
	defer cancel()
	if _, err := s.users.DeleteOne(ctx, bson.M{"_id": uid}); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func (s *MongoStore) GetCredentialByEmail(email string) (*api.Credential, error) {
	ctx, cancel := opCtx()
	defer cancel()
	var c api.Credential
	err := s.credentials.FindOne(ctx, bson.M{"email": email}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &c, nil
}

func (s *MongoStore) AddCredential(c *api.Credential) error {
	ctx, cancel := opCtx()
	defer cancel()
	if _, err := s.credentials.InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return services.NewConflictError("email exists")
		}
		return fmt.Errorf("add credential: %w", err)
	}
	return nil
}

func (s *MongoStore) DeleteCredentialByUID(uid string) error {
	ctx, cancel := opCtx()
	defer cancel()
	if _, err := s.credentials.DeleteOne(ctx, bson.M{"_id": uid}); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func (s *MongoStore) AddAudit(e api.AuditEntry) {
	ctx, cancel := opCtx()
	defer cancel()
	if _, err := s.audit.InsertOne(ctx, e); err != nil {
		log.Printf("mongo store: add audit: %v", err)
	}
}

func (s *MongoStore) ListAudit() []api.AuditEntry {
	ctx, cancel := opCtx()
	defer cancel()
	cur, err := s.audit.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "time", Value: 1}}))
	if err != nil {
		log.Printf("mongo store: list audit: %v", err)
		return nil
	}
	defer cur.Close(ctx)
	var out []api.AuditEntry
	if err := cur.All(ctx, &out); err != nil {
		log.Printf("mongo store: decode audit: %v", err)
		return nil
	}
	return out
}
